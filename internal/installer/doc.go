// Package installer drives the first-run configuration wizard.
//
// Steps form a fixed ordered sequence: choose-network, choose-datadir,
// configure-keys, review, commit. Advance validates the current step's input
// and refuses to move on failure; Back returns to the previous step without
// discarding anything already entered. Nothing touches disk until Commit,
// which writes the assembled configuration atomically so a failed commit can
// simply be retried.
//
// The machine is not safe for concurrent use; the orchestrator loop is its
// only mutator.
package installer
