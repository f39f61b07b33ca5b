package registry

import (
	"errors"
	"fmt"
)

// =============================================================================
// Instance Status Machine
// =============================================================================

// Status is the lifecycle state of an addon instance.
//
// declared → allocated → deployed → removed. The declared → allocated
// transition is driven by the port allocator; allocated → deployed (and its
// reverse) are reported by the external deployer and merely recorded here.
// A removed instance whose declaration reappears goes back to declared and
// receives its prior port from the allocation state.
type Status string

const (
	StatusDeclared  Status = "declared"
	StatusAllocated Status = "allocated"
	StatusDeployed  Status = "deployed"
	StatusRemoved   Status = "removed"
)

// ErrInvalidTransition is returned for a disallowed status change.
var ErrInvalidTransition = errors.New("invalid status transition")

// IsValid checks if the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusDeclared, StatusAllocated, StatusDeployed, StatusRemoved:
		return true
	default:
		return false
	}
}

// validTransitions maps each status to its allowed successors.
var validTransitions = map[Status][]Status{
	StatusDeclared:  {StatusAllocated, StatusRemoved},
	StatusAllocated: {StatusDeployed, StatusRemoved},
	StatusDeployed:  {StatusAllocated, StatusRemoved}, // deployer may report teardown
	StatusRemoved:   {StatusDeclared},                 // declaration reappeared
}

// CanTransitionTo checks whether the status change is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the instance to the next status, validating the change.
func (i *AddonInstance) Transition(next Status) error {
	if !next.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !i.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidTransition, i.Reference, i.Status, next)
	}
	i.Status = next
	return nil
}
