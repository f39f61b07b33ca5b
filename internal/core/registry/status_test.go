package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_IsValid(t *testing.T) {
	assert.True(t, StatusDeclared.IsValid())
	assert.True(t, StatusAllocated.IsValid())
	assert.True(t, StatusDeployed.IsValid())
	assert.True(t, StatusRemoved.IsValid())
	assert.False(t, Status("provisioning").IsValid())
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusDeclared, StatusAllocated, true},
		{StatusDeclared, StatusRemoved, true},
		{StatusDeclared, StatusDeployed, false},
		{StatusAllocated, StatusDeployed, true},
		{StatusAllocated, StatusRemoved, true},
		{StatusAllocated, StatusDeclared, false},
		{StatusDeployed, StatusAllocated, true}, // deployer reported teardown
		{StatusDeployed, StatusRemoved, true},
		{StatusDeployed, StatusDeclared, false},
		{StatusRemoved, StatusDeclared, true}, // declaration reappeared
		{StatusRemoved, StatusAllocated, false},
		{StatusRemoved, StatusDeployed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestAddonInstance_Transition(t *testing.T) {
	inst := &AddonInstance{Reference: "databases.primary", Status: StatusDeclared}

	require.NoError(t, inst.Transition(StatusAllocated))
	require.NoError(t, inst.Transition(StatusDeployed))
	assert.Equal(t, StatusDeployed, inst.Status)

	err := inst.Transition(StatusDeclared)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusDeployed, inst.Status, "failed transition must not change status")
}

func TestAddonInstance_TransitionUnknownStatus(t *testing.T) {
	inst := &AddonInstance{Status: StatusDeclared}

	err := inst.Transition(Status("limbo"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
