package healing

import (
	"fmt"
	"time"

	"github.com/jskelly/gomend/pkg/domain/types"
)

// HealingRecord is the unit of work tracked through the repair lifecycle.
// It is the root entity of the healing aggregate: created on failure
// detection, mutated only by the workflow engine, never deleted. Terminal
// records are retained permanently; superseded records are flagged, not
// removed.
type HealingRecord struct {
	// ID is the unique identifier for this record.
	ID types.RecordID
	// TenantID scopes the record to one tenant. Never crosses tenants.
	TenantID types.TenantID
	// TestID identifies the failing test.
	TestID types.TestID
	// StepIndex is the failing step within the test.
	StepIndex int
	// OldLocator is the broken locator string.
	OldLocator string
	// LastGoodSnapshot references the last-known-good snapshot for the step.
	LastGoodSnapshot string
	// FailureSnapshot references the failure-time snapshot.
	FailureSnapshot string
	// OldNodePath is the old locator's last successfully resolved node path
	// in the last-good snapshot.
	OldNodePath []int
	// Candidate is the chosen replacement (nil until Scored).
	Candidate *HealingCandidate
	// Score is the confidence score of the chosen candidate (nil until Scored).
	Score *ConfidenceScore
	// RiskTier classifies the target test's deployment context.
	RiskTier RiskTier
	// State is the current workflow state.
	State WorkflowState
	// CreatedAt is when the failure was ingested.
	CreatedAt time.Time
	// UpdatedAt is when the record last transitioned.
	UpdatedAt time.Time
	// Approver is the identity that approved the repair (empty if none).
	Approver string
	// RollbackDeadline bounds the window for reverting a committed repair
	// (zero if not committed).
	RollbackDeadline time.Time
	// ValidationReason carries the most recent validation failure reason.
	// Non-empty on a record that returned to PendingApproval after a failed
	// validation run, so reviewers can tell re-reviews from first reviews.
	ValidationReason string
	// Superseded marks a record replaced by a newer repair of the same step.
	Superseded bool
}

// NewHealingRecord creates a record in the Detected state for an ingested
// failure.
func NewHealingRecord(tenant types.TenantID, test types.TestID, stepIndex int, oldLocator string, tier RiskTier) (*HealingRecord, error) {
	if tenant == "" {
		return nil, fmt.Errorf("tenant ID cannot be empty")
	}
	if test == "" {
		return nil, fmt.Errorf("test ID cannot be empty")
	}
	if stepIndex < 0 {
		return nil, fmt.Errorf("step index cannot be negative")
	}
	if oldLocator == "" {
		return nil, fmt.Errorf("old locator cannot be empty")
	}
	if !tier.IsValid() {
		return nil, fmt.Errorf("unknown risk tier: %q", tier)
	}

	now := time.Now().UTC()
	return &HealingRecord{
		ID:         types.NewRecordID(),
		TenantID:   tenant,
		TestID:     test,
		StepIndex:  stepIndex,
		OldLocator: oldLocator,
		RiskTier:   tier,
		State:      StateDetected,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// transition moves the record to the target state after checking the
// transition table. All mutators funnel through here.
func (r *HealingRecord) transition(to WorkflowState) error {
	if !CanTransition(r.State, to) {
		return &TransitionError{RecordID: r.ID, From: r.State, To: to}
	}
	r.State = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkScored attaches the selected candidate and its confidence score and
// moves the record from Detected to Scored.
func (r *HealingRecord) MarkScored(candidate *HealingCandidate, score *ConfidenceScore) error {
	if candidate == nil {
		return fmt.Errorf("record %s: candidate cannot be nil", r.ID)
	}
	if score == nil {
		return fmt.Errorf("record %s: score cannot be nil", r.ID)
	}
	if err := score.Validate(); err != nil {
		return fmt.Errorf("record %s: %w", r.ID, err)
	}
	if err := r.transition(StateScored); err != nil {
		return err
	}
	r.Candidate = candidate
	r.Score = score
	return nil
}

// AutoApply moves a scored record to AutoApplied. Production-tier records
// refuse auto-apply structurally regardless of confidence.
func (r *HealingRecord) AutoApply() error {
	if r.RiskTier.IsProduction() {
		return fmt.Errorf("record %s: production risk tier requires human approval, cannot auto-apply", r.ID)
	}
	return r.transition(StateAutoApplied)
}

// RequireApproval moves a scored record into the pending approval queue.
func (r *HealingRecord) RequireApproval() error {
	return r.transition(StatePendingApproval)
}

// Approve records the approver identity on a pending record. The record
// stays in PendingApproval until validation settles it; a non-empty
// approver marks it as decided, so a second decision conflicts.
func (r *HealingRecord) Approve(actor string) error {
	if actor == "" {
		return fmt.Errorf("record %s: approver identity cannot be empty", r.ID)
	}
	if r.State != StatePendingApproval {
		return &DuplicateDecisionError{RecordID: r.ID, State: r.State}
	}
	if r.Approver != "" {
		return &DuplicateDecisionError{RecordID: r.ID, State: r.State}
	}
	r.Approver = actor
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Decided reports whether a pending record already received a decision.
func (r *HealingRecord) Decided() bool {
	return r.State != StatePendingApproval || r.Approver != ""
}

// Reject terminally rejects the record.
func (r *HealingRecord) Reject() error {
	return r.transition(StateRejected)
}

// FailValidation moves an applied or approved record to ValidationFailed
// with the failure reason attached.
func (r *HealingRecord) FailValidation(reason string) error {
	if err := r.transition(StateValidationFailed); err != nil {
		return err
	}
	r.ValidationReason = reason
	return nil
}

// DemoteForReview returns a ValidationFailed record to the approval queue.
// The previous approver is cleared: a demoted record needs a fresh decision.
// ValidationReason is kept so reviewers can see why the record came back.
func (r *HealingRecord) DemoteForReview() error {
	if err := r.transition(StatePendingApproval); err != nil {
		return err
	}
	r.Approver = ""
	return nil
}

// Commit finalizes a validated repair and opens the rollback window.
// Production-tier records must carry a named approver; reaching Committed
// without one is an invariant violation.
func (r *HealingRecord) Commit(rollbackWindow time.Duration) error {
	if r.RiskTier.IsProduction() && r.Approver == "" {
		return fmt.Errorf("record %s: production commit requires a named approver", r.ID)
	}
	if err := r.transition(StateCommitted); err != nil {
		return err
	}
	r.RollbackDeadline = time.Now().UTC().Add(rollbackWindow)
	return nil
}

// Rollback reverts a committed repair if the deadline has not passed.
// After the deadline the state is left unchanged and the caller gets
// ErrRollbackWindowExpired.
func (r *HealingRecord) Rollback(now time.Time) error {
	if r.State == StateCommitted && now.After(r.RollbackDeadline) {
		return &RollbackExpiredError{RecordID: r.ID, Deadline: r.RollbackDeadline}
	}
	return r.transition(StateRolledBack)
}

// Cancel rejects a record whose parent test run was aborted. Only legal
// before Committed; committed records go through Rollback instead.
func (r *HealingRecord) Cancel() error {
	if r.State == StateCommitted || r.State.IsTerminal() {
		return &TransitionError{RecordID: r.ID, From: r.State, To: StateRejected}
	}
	return r.transition(StateRejected)
}

// Supersede flags the record as replaced by a newer repair of the same
// step. Superseded records are retained, never removed.
func (r *HealingRecord) Supersede() {
	r.Superseded = true
	r.UpdatedAt = time.Now().UTC()
}

// NewLocator returns the replacement locator string, or empty if the
// record has no chosen candidate yet.
func (r *HealingRecord) NewLocator() string {
	if r.Candidate == nil || r.Candidate.Strategy == nil {
		return ""
	}
	return r.Candidate.Strategy.Locator()
}

// ReturnedForReview reports whether a pending record came back from a
// failed validation run rather than awaiting its first decision.
func (r *HealingRecord) ReturnedForReview() bool {
	return r.State == StatePendingApproval && r.ValidationReason != ""
}
