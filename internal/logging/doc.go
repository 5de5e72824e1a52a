// Package logging builds the slog loggers used across the front-end.
//
// It supports a console format for interactive use and a JSON format for
// machine consumption, selected by configuration, with attr helpers so call
// sites stay terse. NewNop returns a logger that discards everything, which
// tests and optional dependencies rely on.
package logging
