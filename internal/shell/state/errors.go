// Package state persists a project's port allocation state: a flat,
// append/confirm-only mapping from "{type_id}.{instance_name}" to assigned
// port(s). The file is also read by the external renderer to pin ports into
// rendered service definitions.
package state

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrLockFailed is returned when the advisory lock cannot be acquired.
	ErrLockFailed = errors.New("could not acquire allocation state lock")

	// ErrCorruptState is returned when the state file cannot be parsed.
	ErrCorruptState = errors.New("allocation state file is corrupt")

	// ErrWriteFailed is returned when persisting the state file fails.
	ErrWriteFailed = errors.New("could not persist allocation state")
)

// StoreError wraps state store errors with operation context.
type StoreError struct {
	Op      string // e.g. "Record"
	Key     string // state key if applicable
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Key, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, key, message string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Message: message, Err: err}
}
