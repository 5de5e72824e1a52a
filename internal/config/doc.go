// Package config locates, loads, and validates Coffre configuration data.
//
// Resolution follows a strict precedence: an explicit config file path wins
// over an explicit data directory, which wins over the default data directory.
// A missing config file (or an empty data directory) is reported as
// ErrNotFound so callers can route to the installer instead of failing; a
// present but unparseable or schema-invalid file is reported as InvalidError
// with every problem enumerated.
//
// A loaded Config is never mutated in place. The installer produces a new
// file through WriteAtomic and the caller reloads.
package config
