// Package secrets persists per-instance credential bundles in a
// project-local SQLite database. Credentials are generated once at
// instance-creation time and encrypted at rest; environment generation only
// ever reads them.
package secrets

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when an instance has no credential bundle.
	ErrNotFound = errors.New("no credentials for instance")

	// ErrConnectionFailed is returned when the database cannot be opened.
	ErrConnectionFailed = errors.New("secrets database connection failed")

	// ErrMigrationFailed is returned when schema migration fails.
	ErrMigrationFailed = errors.New("secrets database migration failed")

	// ErrEncryptionFailed is returned when a value cannot be encrypted or
	// decrypted (wrong master secret or corrupted row).
	ErrEncryptionFailed = errors.New("credential encryption failed")
)

// StoreError wraps secrets store errors with operation context.
type StoreError struct {
	Op       string // e.g. "Ensure"
	TypeID   string
	Instance string
	Message  string
	Err      error
}

func (e *StoreError) Error() string {
	if e.Instance != "" {
		return fmt.Sprintf("%s %s.%s: %s", e.Op, e.TypeID, e.Instance, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, typeID, instance, message string, err error) *StoreError {
	return &StoreError{Op: op, TypeID: typeID, Instance: instance, Message: message, Err: err}
}
