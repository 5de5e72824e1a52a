package installer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an installer failure.
type ErrorKind int

const (
	// KindValidationFailed means step input was rejected; the step is unchanged.
	KindValidationFailed ErrorKind = iota + 1
	// KindWriteFailed means the final config write did not complete. No
	// partial file is left behind and Commit may be retried.
	KindWriteFailed
)

// Error is a classified installer failure.
type Error struct {
	Kind   ErrorKind
	Step   Step
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindValidationFailed:
		return fmt.Sprintf("step %s: %s", e.Step, e.Reason)
	case KindWriteFailed:
		return fmt.Sprintf("write configuration: %v", e.Err)
	default:
		return fmt.Sprintf("installer error: %s", e.Reason)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a classified installer error from an error chain.
func AsError(err error) (*Error, bool) {
	var instErr *Error
	if errors.As(err, &instErr) {
		return instErr, true
	}
	return nil, false
}
