package addon

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrUnknownType is returned when a type id is not in the catalog.
	ErrUnknownType = errors.New("unknown addon type")

	// ErrDuplicateType is returned when two catalog entries share a type id.
	ErrDuplicateType = errors.New("duplicate addon type")

	// Type validation errors
	ErrTypeIDRequired   = errors.New("type id is required")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrNoVersions       = errors.New("at least one supported version is required")
	ErrInvalidBasePort  = errors.New("base port must be between 1 and 65535")
	ErrInvalidPortStep  = errors.New("port step must be positive")
	ErrDuplicatePort    = errors.New("duplicate named port")
	ErrNegativeOffset   = errors.New("port offset cannot be negative")
	ErrNoEnvTemplate    = errors.New("env template must have at least one entry")
	ErrInvalidEnvEntry  = errors.New("invalid env template entry")
	ErrDuplicateSuffix  = errors.New("duplicate env template suffix")
	ErrInvalidPlan      = errors.New("plan must declare positive memory and cpu")
	ErrUnknownPortName  = errors.New("env entry references undeclared port name")
)

// UnknownTypeError reports a lookup of a type id absent from the catalog.
type UnknownTypeError struct {
	TypeID string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown addon type %q", e.TypeID)
}

func (e *UnknownTypeError) Unwrap() error {
	return ErrUnknownType
}
