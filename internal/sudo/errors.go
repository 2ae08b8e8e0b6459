package sudo

import (
	"errors"
	"fmt"
)

var (
	ErrTestInProgress = errors.New("credential test already in progress")
	ErrIncorrect      = errors.New("incorrect password or sudo timeout")
)

// ElevationError reports a failed credential test.
type ElevationError struct {
	Op  string // "launch", "validate" or "apply"
	Err error
}

func (e *ElevationError) Error() string {
	return fmt.Sprintf("elevation %s: %v", e.Op, e.Err)
}

func (e *ElevationError) Unwrap() error { return e.Err }
