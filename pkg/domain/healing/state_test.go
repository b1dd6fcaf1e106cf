package healing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    WorkflowState
		to      WorkflowState
		allowed bool
	}{
		{"detected to scored", StateDetected, StateScored, true},
		{"detected to rejected", StateDetected, StateRejected, true},
		{"detected skips to committed", StateDetected, StateCommitted, false},
		{"scored to auto applied", StateScored, StateAutoApplied, true},
		{"scored to pending approval", StateScored, StatePendingApproval, true},
		{"scored to rejected", StateScored, StateRejected, true},
		{"scored back to detected", StateScored, StateDetected, false},
		{"pending to committed", StatePendingApproval, StateCommitted, true},
		{"pending to validation failed", StatePendingApproval, StateValidationFailed, true},
		{"auto applied to committed", StateAutoApplied, StateCommitted, true},
		{"auto applied to validation failed", StateAutoApplied, StateValidationFailed, true},
		{"validation failed demotes to pending", StateValidationFailed, StatePendingApproval, true},
		{"validation failed to committed directly", StateValidationFailed, StateCommitted, false},
		{"committed to rolled back", StateCommitted, StateRolledBack, true},
		{"committed to rejected", StateCommitted, StateRejected, false},
		{"rejected is terminal", StateRejected, StateDetected, false},
		{"rolled back is terminal", StateRolledBack, StateCommitted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestWorkflowStateTerminal(t *testing.T) {
	assert.True(t, StateRejected.IsTerminal())
	assert.True(t, StateRolledBack.IsTerminal())

	for _, s := range []WorkflowState{
		StateDetected, StateScored, StatePendingApproval,
		StateAutoApplied, StateValidationFailed, StateCommitted,
	} {
		assert.False(t, s.IsTerminal(), "state %s should not be terminal", s)
	}
}

func TestWorkflowStateValid(t *testing.T) {
	assert.True(t, StateDetected.IsValid())
	assert.False(t, WorkflowState("limbo").IsValid())
}

func TestDecisionValid(t *testing.T) {
	assert.True(t, DecisionApprove.IsValid())
	assert.True(t, DecisionReject.IsValid())
	assert.False(t, Decision("maybe").IsValid())
}

func TestRiskTier(t *testing.T) {
	assert.True(t, RiskProduction.IsProduction())
	assert.False(t, RiskNonProduction.IsProduction())
	assert.False(t, RiskTier("staging").IsValid())
}
