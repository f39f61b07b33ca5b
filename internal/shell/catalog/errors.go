package catalog

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotDirectory is returned when the catalog path is not a directory.
	ErrNotDirectory = errors.New("catalog path is not a directory")

	// ErrInvalidMetadata is returned for an unparseable or invalid type file.
	ErrInvalidMetadata = errors.New("invalid addon type metadata")

	// ErrTypeMismatch is returned when a file's declared type id does not
	// match its file name.
	ErrTypeMismatch = errors.New("type id does not match file name")

	// ErrInvalidComposeTemplate is returned when a type's compose service
	// snippet does not parse.
	ErrInvalidComposeTemplate = errors.New("invalid compose template")
)

// CatalogError wraps catalog loading errors with the offending path.
type CatalogError struct {
	Path    string
	Message string
	Err     error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// NewCatalogError creates a new CatalogError.
func NewCatalogError(path, message string, err error) *CatalogError {
	return &CatalogError{Path: path, Message: message, Err: err}
}
