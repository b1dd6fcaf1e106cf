package healing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jskelly/gomend/pkg/domain/types"
)

func newTestRecord(t *testing.T, tier RiskTier) *HealingRecord {
	t.Helper()
	rec, err := NewHealingRecord("acme", "checkout-flow", 3, `button[data-testid="submit"]`, tier)
	require.NoError(t, err)
	return rec
}

func scoredCandidate() (*HealingCandidate, *ConfidenceScore) {
	cand := &HealingCandidate{
		TestID:               "checkout-flow",
		StepIndex:            3,
		OldLocator:           `button[data-testid="submit"]`,
		Strategy:             AttributeMatch{Tag: "button", Attribute: "data-testid", Value: "submit-v2"},
		StructuralSimilarity: 0.92,
		Uniqueness:           1.0,
	}
	score := &ConfidenceScore{
		Value: 0.9,
		Breakdown: Breakdown{
			Structural: Signal{Value: 0.92, Weight: 0.5, Present: true},
			Historical: Signal{Value: 0.8, Weight: 0.375, Present: true},
			Uniqueness: Signal{Value: 1.0, Weight: 0.125, Present: true},
		},
	}
	return cand, score
}

func TestNewHealingRecordValidation(t *testing.T) {
	_, err := NewHealingRecord("", "t", 0, "x", RiskNonProduction)
	assert.Error(t, err)
	_, err = NewHealingRecord("acme", "", 0, "x", RiskNonProduction)
	assert.Error(t, err)
	_, err = NewHealingRecord("acme", "t", -1, "x", RiskNonProduction)
	assert.Error(t, err)
	_, err = NewHealingRecord("acme", "t", 0, "", RiskNonProduction)
	assert.Error(t, err)
	_, err = NewHealingRecord("acme", "t", 0, "x", RiskTier("staging"))
	assert.Error(t, err)

	rec := newTestRecord(t, RiskNonProduction)
	assert.Equal(t, StateDetected, rec.State)
	assert.False(t, rec.ID.IsZero())
}

func TestAutoApplyLifecycle(t *testing.T) {
	rec := newTestRecord(t, RiskNonProduction)
	cand, score := scoredCandidate()

	require.NoError(t, rec.MarkScored(cand, score))
	assert.Equal(t, StateScored, rec.State)

	require.NoError(t, rec.AutoApply())
	assert.Equal(t, StateAutoApplied, rec.State)

	require.NoError(t, rec.Commit(7*24*time.Hour))
	assert.Equal(t, StateCommitted, rec.State)
	assert.WithinDuration(t, time.Now().UTC().Add(7*24*time.Hour), rec.RollbackDeadline, time.Minute)
	assert.Equal(t, `button[data-testid="submit-v2"]`, rec.NewLocator())
}

func TestProductionNeverAutoApplies(t *testing.T) {
	rec := newTestRecord(t, RiskProduction)
	cand, score := scoredCandidate()
	require.NoError(t, rec.MarkScored(cand, score))

	err := rec.AutoApply()
	require.Error(t, err)
	assert.Equal(t, StateScored, rec.State, "failed auto-apply must not change state")
}

func TestProductionCommitRequiresApprover(t *testing.T) {
	rec := newTestRecord(t, RiskProduction)
	cand, score := scoredCandidate()
	require.NoError(t, rec.MarkScored(cand, score))
	require.NoError(t, rec.RequireApproval())

	err := rec.Commit(time.Hour)
	require.Error(t, err)
	assert.Equal(t, StatePendingApproval, rec.State)

	require.NoError(t, rec.Approve("reviewer@example.com"))
	require.NoError(t, rec.Commit(time.Hour))
	assert.Equal(t, StateCommitted, rec.State)
}

func TestApproveIsSingleShot(t *testing.T) {
	rec := newTestRecord(t, RiskNonProduction)
	cand, score := scoredCandidate()
	require.NoError(t, rec.MarkScored(cand, score))
	require.NoError(t, rec.RequireApproval())

	assert.False(t, rec.Decided())
	require.NoError(t, rec.Approve("alice"))
	assert.True(t, rec.Decided())

	err := rec.Approve("bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateDecision)
	assert.Equal(t, "alice", rec.Approver)
}

func TestValidationFailureDemotesForReview(t *testing.T) {
	rec := newTestRecord(t, RiskNonProduction)
	cand, score := scoredCandidate()
	require.NoError(t, rec.MarkScored(cand, score))
	require.NoError(t, rec.RequireApproval())
	require.NoError(t, rec.Approve("alice"))

	require.NoError(t, rec.FailValidation("new locator no longer unique"))
	assert.Equal(t, StateValidationFailed, rec.State)

	require.NoError(t, rec.DemoteForReview())
	assert.Equal(t, StatePendingApproval, rec.State)
	assert.Empty(t, rec.Approver, "demotion requires a fresh decision")
	assert.Equal(t, "new locator no longer unique", rec.ValidationReason)
	assert.True(t, rec.ReturnedForReview())
}

func TestRollbackWindow(t *testing.T) {
	rec := newTestRecord(t, RiskNonProduction)
	cand, score := scoredCandidate()
	require.NoError(t, rec.MarkScored(cand, score))
	require.NoError(t, rec.AutoApply())
	require.NoError(t, rec.Commit(time.Hour))

	require.NoError(t, rec.Rollback(time.Now().UTC()))
	assert.Equal(t, StateRolledBack, rec.State)
}

func TestRollbackAfterDeadline(t *testing.T) {
	rec := newTestRecord(t, RiskNonProduction)
	cand, score := scoredCandidate()
	require.NoError(t, rec.MarkScored(cand, score))
	require.NoError(t, rec.AutoApply())
	require.NoError(t, rec.Commit(time.Hour))

	err := rec.Rollback(rec.RollbackDeadline.Add(time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRollbackWindowExpired)
	assert.Equal(t, StateCommitted, rec.State, "expired rollback must not change state")

	var expired *RollbackExpiredError
	require.True(t, errors.As(err, &expired))
	assert.Equal(t, rec.ID, expired.RecordID)
}

func TestCancel(t *testing.T) {
	rec := newTestRecord(t, RiskNonProduction)
	require.NoError(t, rec.Cancel())
	assert.Equal(t, StateRejected, rec.State)

	committed := newTestRecord(t, RiskNonProduction)
	cand, score := scoredCandidate()
	require.NoError(t, committed.MarkScored(cand, score))
	require.NoError(t, committed.AutoApply())
	require.NoError(t, committed.Commit(time.Hour))

	err := committed.Cancel()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestIllegalTransitionCarriesContext(t *testing.T) {
	rec := newTestRecord(t, RiskNonProduction)
	err := rec.Commit(time.Hour)
	require.Error(t, err)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, rec.ID, te.RecordID)
	assert.Equal(t, StateDetected, te.From)
	assert.Equal(t, StateCommitted, te.To)
}

func TestMarkScoredValidatesInput(t *testing.T) {
	rec := newTestRecord(t, RiskNonProduction)
	_, score := scoredCandidate()
	assert.Error(t, rec.MarkScored(nil, score))

	cand, _ := scoredCandidate()
	assert.Error(t, rec.MarkScored(cand, nil))

	bad := &ConfidenceScore{Value: 1.5}
	assert.Error(t, rec.MarkScored(cand, bad))
	assert.Equal(t, StateDetected, rec.State)
}

func TestSupersede(t *testing.T) {
	rec := newTestRecord(t, RiskNonProduction)
	assert.False(t, rec.Superseded)
	rec.Supersede()
	assert.True(t, rec.Superseded)
}

func TestRecordIDsAreUnique(t *testing.T) {
	seen := make(map[types.RecordID]bool)
	for i := 0; i < 100; i++ {
		rec := newTestRecord(t, RiskNonProduction)
		assert.False(t, seen[rec.ID])
		seen[rec.ID] = true
	}
}
