package healing

// WorkflowState represents the lifecycle state of a healing record.
type WorkflowState string

const (
	// StateDetected indicates a failure was ingested and a record created.
	StateDetected WorkflowState = "detected"
	// StateScored indicates a best candidate was selected and scored.
	StateScored WorkflowState = "scored"
	// StatePendingApproval indicates the record awaits a human decision.
	StatePendingApproval WorkflowState = "pending_approval"
	// StateAutoApplied indicates the repair was applied without human review.
	StateAutoApplied WorkflowState = "auto_applied"
	// StateRejected indicates the record is terminally rejected.
	StateRejected WorkflowState = "rejected"
	// StateValidationFailed indicates the validation run failed after apply.
	StateValidationFailed WorkflowState = "validation_failed"
	// StateCommitted indicates the repair passed validation and is committed.
	StateCommitted WorkflowState = "committed"
	// StateRolledBack indicates a committed repair was reverted.
	StateRolledBack WorkflowState = "rolled_back"
)

// transitions is the allowed state transition table. Transitions are
// forward-monotonic with two sanctioned exceptions: ValidationFailed may
// demote back to PendingApproval for re-review, and Committed may move to
// RolledBack inside the rollback window.
var transitions = map[WorkflowState][]WorkflowState{
	StateDetected:         {StateScored, StateRejected},
	StateScored:           {StateAutoApplied, StatePendingApproval, StateRejected},
	StatePendingApproval:  {StateCommitted, StateValidationFailed, StateRejected},
	StateAutoApplied:      {StateCommitted, StateValidationFailed, StateRejected},
	StateValidationFailed: {StatePendingApproval, StateRejected},
	StateCommitted:        {StateRolledBack},
	StateRejected:         {},
	StateRolledBack:       {},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to WorkflowState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state admits no further transitions.
func (s WorkflowState) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsValid reports whether the state is a known workflow state.
func (s WorkflowState) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// String returns the string representation of the state.
func (s WorkflowState) String() string {
	return string(s)
}

// Decision is a human verdict on a pending healing record.
type Decision string

const (
	// DecisionApprove accepts the proposed repair for validation.
	DecisionApprove Decision = "approve"
	// DecisionReject declines the proposed repair.
	DecisionReject Decision = "reject"
)

// IsValid reports whether the decision is recognized.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// RiskTier classifies the deployment context of the target test.
// Production-tier repairs always require human sign-off.
type RiskTier string

const (
	// RiskProduction marks tests that run against production systems.
	RiskProduction RiskTier = "production"
	// RiskNonProduction marks tests in staging, CI, or development contexts.
	RiskNonProduction RiskTier = "non_production"
)

// IsProduction reports whether the tier mandates human approval.
func (r RiskTier) IsProduction() bool {
	return r == RiskProduction
}

// IsValid reports whether the tier is recognized.
func (r RiskTier) IsValid() bool {
	return r == RiskProduction || r == RiskNonProduction
}
