package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to DeploymentState
		want     bool
	}{
		{"", StateRequested, true},
		{StateRequested, StateValidating, true},
		{StateRequested, StateProvisioning, false},
		{StateValidating, StateProvisioning, true},
		{StateValidating, StateFailed, true},
		{StateProvisioning, StateActive, true},
		{StateProvisioning, StateDeleting, true},
		{StateProvisioning, StateFailed, true},
		{StateActive, StateDeleting, true},
		{StateActive, StateUpdating, true},
		{StateActive, StateFailed, false},
		{StateUpdating, StateActive, true},
		{StateUpdating, StateFailed, true},
		{StateUpdating, StateDeleting, false},
		{StateDeleting, StateDeleted, true},
		{StateDeleting, StateFailed, true},
		{StateFailed, StateDeleting, true},
		{StateFailed, StateActive, false},
		{StateDeleted, StateRequested, false},
		{StateDeleted, StateDeleting, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestDeploymentState_Predicates(t *testing.T) {
	assert.True(t, StateDeleted.IsTerminal())
	assert.False(t, StateFailed.IsTerminal())

	for _, s := range []DeploymentState{StateActive, StateFailed, StateProvisioning} {
		assert.True(t, s.IsDeletable(), s)
	}
	for _, s := range []DeploymentState{StateRequested, StateValidating, StateUpdating, StateDeleting, StateDeleted} {
		assert.False(t, s.IsDeletable(), s)
	}

	for _, s := range InFlightStates() {
		assert.False(t, s.IsResting(), s)
	}
	assert.True(t, StateDeleted.IsValid())
	assert.False(t, DeploymentState("BOGUS").IsValid())
}

func TestApprovalState_CanTransitionTo(t *testing.T) {
	assert.True(t, ApprovalDraft.CanTransitionTo(ApprovalPending))
	assert.True(t, ApprovalRejected.CanTransitionTo(ApprovalPending))
	assert.True(t, ApprovalPending.CanTransitionTo(ApprovalApproved))
	assert.True(t, ApprovalPending.CanTransitionTo(ApprovalRejected))
	assert.True(t, ApprovalApproved.CanTransitionTo(ApprovalDeprecated))

	assert.False(t, ApprovalDraft.CanTransitionTo(ApprovalApproved))
	assert.False(t, ApprovalDeprecated.CanTransitionTo(ApprovalApproved))
	assert.False(t, ApprovalApproved.CanTransitionTo(ApprovalDraft))
}

func TestIsValidHistory(t *testing.T) {
	valid := []DeploymentEvent{
		{Revision: 1, From: "", To: StateRequested},
		{Revision: 2, From: StateRequested, To: StateValidating},
		{Revision: 3, From: StateValidating, To: StateProvisioning},
		{Revision: 5, From: StateProvisioning, To: StateDeleting},
		{Revision: 6, From: StateDeleting, To: StateDeleted},
	}
	assert.True(t, IsValidHistory(valid))

	skipped := []DeploymentEvent{
		{Revision: 1, From: "", To: StateRequested},
		{Revision: 2, From: StateRequested, To: StateProvisioning},
	}
	assert.False(t, IsValidHistory(skipped))

	broken := []DeploymentEvent{
		{Revision: 1, From: "", To: StateRequested},
		{Revision: 2, From: StateValidating, To: StateProvisioning},
	}
	assert.False(t, IsValidHistory(broken))
}
