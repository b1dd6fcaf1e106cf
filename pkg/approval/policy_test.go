package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jskelly/gomend/internal/testutil"
	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
)

const defaultPolicy = `tier == "production" || confidence < auto_threshold`

func TestNewPolicy(t *testing.T) {
	_, err := NewPolicy(defaultPolicy)
	require.NoError(t, err)

	_, err = NewPolicy("")
	assert.Error(t, err)

	_, err = NewPolicy("tier ==")
	assert.Error(t, err)
}

func TestPolicyFailsSafe(t *testing.T) {
	// A policy that does not produce a boolean queues for a human.
	policy, err := NewPolicy(`tier + "x"`)
	if err != nil {
		// Rejected at compile time is equally acceptable.
		return
	}
	required, evalErr := policy.RequiresHumanApproval("acme", healing.RiskNonProduction, 0.9, 0.85)
	assert.Error(t, evalErr)
	assert.True(t, required)
}

func TestProductionAlwaysRequiresApproval(t *testing.T) {
	// Even a policy that waves everything through cannot exempt
	// production.
	policy, err := NewPolicy("false")
	require.NoError(t, err)

	required, err := policy.RequiresHumanApproval("acme", healing.RiskProduction, 0.99, 0.85)
	require.NoError(t, err)
	assert.True(t, required)
}

func TestPolicyEvaluation(t *testing.T) {
	policy, err := NewPolicy(defaultPolicy)
	require.NoError(t, err)

	tests := []struct {
		name       string
		tier       healing.RiskTier
		confidence float64
		required   bool
	}{
		{"non-production above threshold", healing.RiskNonProduction, 0.9, false},
		{"non-production at threshold", healing.RiskNonProduction, 0.85, false},
		{"non-production below threshold", healing.RiskNonProduction, 0.7, true},
		{"production above threshold", healing.RiskProduction, 0.99, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			required, err := policy.RequiresHumanApproval("acme", tt.tier, tt.confidence, 0.85)
			require.NoError(t, err)
			assert.Equal(t, tt.required, required)
		})
	}
}

type fakeDecider struct {
	lastID       types.RecordID
	lastDecision healing.Decision
	lastActor    string
}

func (d *fakeDecider) Decide(_ context.Context, id types.RecordID, decision healing.Decision, actor string) (*healing.HealingRecord, error) {
	d.lastID = id
	d.lastDecision = decision
	d.lastActor = actor
	return &healing.HealingRecord{ID: id}, nil
}

func TestGatewayPending(t *testing.T) {
	ctx := context.Background()
	records := testutil.NewMemRecordRepository()

	pending, err := healing.NewHealingRecord("acme", "t1", 0, "a", healing.RiskNonProduction)
	require.NoError(t, err)
	pending.State = healing.StatePendingApproval
	require.NoError(t, records.Save(ctx, pending))

	demoted, err := healing.NewHealingRecord("acme", "t2", 0, "b", healing.RiskNonProduction)
	require.NoError(t, err)
	demoted.State = healing.StatePendingApproval
	demoted.ValidationReason = "locator no longer unique"
	require.NoError(t, records.Save(ctx, demoted))

	committed, err := healing.NewHealingRecord("acme", "t3", 0, "c", healing.RiskNonProduction)
	require.NoError(t, err)
	committed.State = healing.StateCommitted
	require.NoError(t, records.Save(ctx, committed))

	otherTenant, err := healing.NewHealingRecord("globex", "t4", 0, "d", healing.RiskNonProduction)
	require.NoError(t, err)
	otherTenant.State = healing.StatePendingApproval
	require.NoError(t, records.Save(ctx, otherTenant))

	gw := NewGateway(records, &fakeDecider{})
	items, err := gw.Pending(ctx, PendingFilter{Tenant: "acme"})
	require.NoError(t, err)
	require.Len(t, items, 2)

	byTest := make(map[string]PendingItem)
	for _, item := range items {
		byTest[item.Record.TestID.String()] = item
	}
	assert.False(t, byTest["t1"].ReturnedForReview)
	assert.True(t, byTest["t2"].ReturnedForReview)
}

func TestGatewayDecideForwards(t *testing.T) {
	decider := &fakeDecider{}
	gw := NewGateway(testutil.NewMemRecordRepository(), decider)

	_, err := gw.Decide(context.Background(), "rec-1", healing.DecisionApprove, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.RecordID("rec-1"), decider.lastID)
	assert.Equal(t, healing.DecisionApprove, decider.lastDecision)
	assert.Equal(t, "alice", decider.lastActor)
}
