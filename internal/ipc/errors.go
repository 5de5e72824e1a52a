package ipc

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a transport or session failure.
type ErrorKind int

const (
	// KindUnreachable means the socket did not accept a connection in time.
	KindUnreachable ErrorKind = iota + 1
	// KindRejected means the daemon actively refused the caller.
	KindRejected
	// KindDisconnected means the transport dropped under an established session.
	KindDisconnected
	// KindTimeout means a call did not complete within its deadline.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindRejected:
		return "rejected"
	case KindDisconnected:
		return "disconnected"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified RPC failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rpc %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("rpc %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the orchestrator should retry with backoff.
func (e *Error) Transient() bool {
	return e.Kind == KindUnreachable || e.Kind == KindTimeout
}

// AsError extracts a classified RPC error from an error chain.
func AsError(err error) (*Error, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// RPCError is a daemon-side method failure carried in a response frame.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// CodeAccessDenied is returned by coffred when the caller fails its
// cookie/authentication check.
const CodeAccessDenied = -32001
