// Package journal persists a bounded history of orchestrator lifecycle
// events to SQLite.
//
// The journal exists for diagnostics: which daemon runs happened, how many
// connection attempts each one took, why a session ended. Recording is
// best-effort; a journal failure never influences orchestration.
package journal
