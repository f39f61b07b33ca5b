package config

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrMalformedConfig is returned for wrong nesting depth or non-mapping
	// nodes where a mapping is required.
	ErrMalformedConfig = errors.New("malformed configuration")

	// ErrDanglingReference is returned when an attachment references an
	// addon instance that is not declared.
	ErrDanglingReference = errors.New("attachment references undeclared addon instance")

	// ErrDuplicateReference is returned when two instances share a reference.
	ErrDuplicateReference = errors.New("duplicate addon instance reference")

	// ErrDuplicateStateKey is returned when two instances of the same type
	// share an instance name across categories. Allocation state and
	// credentials are keyed "{type_id}.{instance_name}", so such instances
	// would collapse into one port and one credential bundle.
	ErrDuplicateStateKey = errors.New("duplicate allocation state key")

	// ErrDuplicateAlias is returned when one app declares two attachments
	// with the same alias.
	ErrDuplicateAlias = errors.New("duplicate attachment alias")

	// ErrMissingType is returned when a nested instance omits "type".
	ErrMissingType = errors.New("instance must declare a type")

	// ErrUnknownVersion is returned when an instance pins a version the
	// catalog entry does not support.
	ErrUnknownVersion = errors.New("unsupported addon version")

	// ErrUnknownPlan is returned when an instance names a plan that exists
	// neither on the type nor in the project plan table.
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrInvalidAccess is returned for an access level other than
	// readwrite or readonly.
	ErrInvalidAccess = errors.New("invalid access level")

	// ErrInvalidAlias is returned for an alias that is not a valid env var
	// prefix.
	ErrInvalidAlias = errors.New("invalid alias")
)

// Error wraps parsing errors with the offending reference so the operator
// can fix configuration rather than receiving a generic failure.
type Error struct {
	Reference string // instance reference, attachment target, or yaml path
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("%s: %s", e.Reference, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new config Error.
func NewError(reference, message string, err error) *Error {
	return &Error{Reference: reference, Message: message, Err: err}
}
