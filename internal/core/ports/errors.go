package ports

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrExhausted is returned when no collision-free candidate exists
	// within the bounded search window. Hard error, never retried.
	ErrExhausted = errors.New("port search exhausted")
)

// AllocationError wraps allocation failures with the instance reference.
type AllocationError struct {
	Reference string // instance reference, filled in by the caller
	Message   string
	Err       error
}

func (e *AllocationError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("%s: %s", e.Reference, e.Message)
	}
	return e.Message
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// NewAllocationError creates a new AllocationError.
func NewAllocationError(reference, message string, err error) *AllocationError {
	return &AllocationError{Reference: reference, Message: message, Err: err}
}

// WithReference returns a copy of the error naming the instance it failed
// for, so the CLI can surface the offending reference.
func (e *AllocationError) WithReference(reference string) *AllocationError {
	return &AllocationError{Reference: reference, Message: e.Message, Err: e.Err}
}
