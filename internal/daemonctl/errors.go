package daemonctl

import (
	"errors"
	"fmt"
)

// SpawnKind classifies a supervision failure.
type SpawnKind int

const (
	// KindExecutableNotFound means the daemon binary could not be resolved.
	KindExecutableNotFound SpawnKind = iota + 1
	// KindLaunchFailed means the process could not be started.
	KindLaunchFailed
	// KindExitedEarly means the daemon exited before a session was established.
	KindExitedEarly
)

func (k SpawnKind) String() string {
	switch k {
	case KindExecutableNotFound:
		return "executable not found"
	case KindLaunchFailed:
		return "launch failed"
	case KindExitedEarly:
		return "exited early"
	default:
		return "unknown"
	}
}

// SpawnError is a classified daemon supervision failure.
type SpawnError struct {
	Kind   SpawnKind
	Err    error
	Status int
	Stderr string
}

func (e *SpawnError) Error() string {
	msg := fmt.Sprintf("daemon %s", e.Kind)
	if e.Kind == KindExitedEarly {
		msg = fmt.Sprintf("%s with status %d", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SpawnError) Unwrap() error { return e.Err }

// AsSpawnError extracts a classified spawn error from an error chain.
func AsSpawnError(err error) (*SpawnError, bool) {
	var spawnErr *SpawnError
	if errors.As(err, &spawnErr) {
		return spawnErr, true
	}
	return nil, false
}
