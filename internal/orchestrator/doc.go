// Package orchestrator drives the front-end session lifecycle: it resolves
// configuration, runs the first-launch installer when no configuration
// exists, supervises the coffred daemon, and maintains the RPC connection
// with bounded retry. All state lives behind a single event loop; callers
// observe it through Snapshot and Updates and influence it through the
// exported request methods, which are safe for concurrent use.
package orchestrator
