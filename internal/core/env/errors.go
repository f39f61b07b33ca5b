package env

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrMissingCredential is returned when the secrets store has no entry
	// (or lacks a referenced field) for the instance at generation time.
	// Surfacing this beats handing an app an empty password.
	ErrMissingCredential = errors.New("missing credential")

	// ErrReadOnlyCredentialMissing is returned when a readonly attachment
	// targets a type that provisions no read-only credential pair. Never a
	// silent fallback to read-write credentials.
	ErrReadOnlyCredentialMissing = errors.New("read-only credentials not provisioned")

	// ErrUnknownPort is returned when an env entry selects a port name the
	// assignment does not carry.
	ErrUnknownPort = errors.New("unknown port name")
)

// GenerateError wraps generation failures with the attachment context.
type GenerateError struct {
	Reference string // addon instance reference
	Alias     string // attachment alias
	Field     string // credential field or port name, if applicable
	Message   string
	Err       error
}

func (e *GenerateError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("%s (alias %s): %s", e.Reference, e.Alias, e.Message)
	}
	return e.Message
}

func (e *GenerateError) Unwrap() error {
	return e.Err
}

// NewGenerateError creates a new GenerateError.
func NewGenerateError(reference, alias, field, message string, err error) *GenerateError {
	return &GenerateError{Reference: reference, Alias: alias, Field: field, Message: message, Err: err}
}
