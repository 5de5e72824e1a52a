// Package ipc speaks the coffred JSON-RPC protocol over a Unix domain socket.
//
// The client tags every request with a uuid correlation id and a reader
// goroutine matches responses back to their callers by that id, never by
// arrival order, so one transport can serve concurrent logical callers. The
// client never retries: it classifies each failure (unreachable, rejected,
// disconnected, timeout) and leaves retry policy to the orchestrator. Once
// the transport drops the session is permanently invalid and Done() is
// closed.
package ipc
