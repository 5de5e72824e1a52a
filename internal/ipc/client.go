package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Client is one session with coffred. It is safe for concurrent use; every
// in-flight call is matched to its response by correlation id. A client whose
// transport has dropped stays permanently failed and must be replaced.
type Client struct {
	conn        net.Conn
	socketPath  string
	callTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *response
	failure *Error

	done chan struct{}
}

// Dial connects to the daemon socket. The context bounds the connection
// attempt; callTimeout bounds each subsequent call made through typed
// helpers.
func Dial(ctx context.Context, socketPath string, callTimeout time.Duration) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, classifyDialError(err)
	}
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	c := &Client{
		conn:        conn,
		socketPath:  socketPath,
		callTimeout: callTimeout,
		pending:     make(map[string]chan *response),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func classifyDialError(err error) *Error {
	switch {
	case errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM):
		return &Error{Kind: KindRejected, Op: "dial", Err: err}
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, syscall.ENOENT),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindUnreachable, Op: "dial", Err: err}
	default:
		return &Error{Kind: KindUnreachable, Op: "dial", Err: err}
	}
}

// SocketPath returns the socket this client dialed.
func (c *Client) SocketPath() string { return c.socketPath }

// Done is closed when the transport drops or the client is closed. A closed
// Done means the session is invalid and must not be reused.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the terminal failure, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure == nil {
		return nil
	}
	return c.failure
}

// Close tears the session down. Pending calls fail with KindDisconnected.
func (c *Client) Close() error {
	c.fail(&Error{Kind: KindDisconnected, Op: "close", Err: errors.New("client closed")})
	return nil
}

func (c *Client) readLoop() {
	decoder := json.NewDecoder(c.conn)
	for {
		var resp response
		if err := decoder.Decode(&resp); err != nil {
			c.fail(&Error{Kind: KindDisconnected, Op: "read", Err: err})
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		// Unknown ids belong to calls that already gave up; drop them.
		if ok {
			ch <- &resp
		}
	}
}

func (c *Client) fail(err *Error) {
	c.mu.Lock()
	already := c.failure != nil
	if !already {
		c.failure = err
		close(c.done)
	}
	c.mu.Unlock()
	if !already {
		_ = c.conn.Close()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Call performs a single JSON-RPC exchange. It does not retry; the caller
// owns retry policy.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	if c.failure != nil {
		failure := c.failure
		c.mu.Unlock()
		return &Error{Kind: KindDisconnected, Op: method, Err: failure.Err}
	}
	id := uuid.NewString()
	ch := make(chan *response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	_, err = c.conn.Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		failErr := &Error{Kind: KindDisconnected, Op: method, Err: err}
		c.fail(failErr)
		return failErr
	}

	select {
	case resp := <-ch:
		return decodeResult(method, resp, out)
	case <-c.done:
		c.forget(id)
		return &Error{Kind: KindDisconnected, Op: method, Err: c.Err()}
	case <-ctx.Done():
		c.forget(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Kind: KindTimeout, Op: method, Err: ctx.Err()}
		}
		return ctx.Err()
	}
}

func decodeResult(method string, resp *response, out any) error {
	if resp.Error != nil {
		if resp.Error.Code == CodeAccessDenied {
			return &Error{Kind: KindRejected, Op: method, Err: resp.Error}
		}
		return fmt.Errorf("call %s: %w", method, resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// GetInfo fetches daemon identity and sync progress. It doubles as the
// liveness and authentication probe.
func (c *Client) GetInfo(ctx context.Context) (*GetInfoResponse, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	var resp GetInfoResponse
	if err := c.Call(callCtx, MethodGetInfo, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListVaults fetches the daemon's vault summaries.
func (c *Client) ListVaults(ctx context.Context) (*ListVaultsResponse, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	var resp ListVaultsResponse
	if err := c.Call(callCtx, MethodListVaults, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StopDaemon requests a graceful daemon shutdown.
func (c *Client) StopDaemon(ctx context.Context) (*StopResponse, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	var resp StopResponse
	if err := c.Call(callCtx, MethodStop, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
