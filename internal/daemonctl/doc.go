// Package daemonctl supervises the coffred process on behalf of the
// front-end.
//
// EnsureRunning first probes the configured socket: a reachable daemon yields
// an externally-managed handle the supervisor will never signal or kill.
// Otherwise coffred is spawned as a child with bounded stdout/stderr capture
// and its exit status is recorded the moment it happens. Liveness is always
// queried, never assumed, and Stop escalates from a graceful RPC request
// through SIGTERM to SIGKILL.
package daemonctl
