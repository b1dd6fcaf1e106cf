package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "gomend.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func appliedRecord(t *testing.T) *healing.HealingRecord {
	t.Helper()

	rec, err := healing.NewHealingRecord("acme", "checkout-flow", 3, `button[data-testid="submit"]`, healing.RiskNonProduction)
	require.NoError(t, err)

	cand := &healing.HealingCandidate{
		TestID:               rec.TestID,
		StepIndex:            rec.StepIndex,
		OldLocator:           rec.OldLocator,
		Strategy:             healing.AttributeMatch{Tag: "button", Attribute: "data-testid", Value: "submit-v2"},
		StructuralSimilarity: 0.92,
		Uniqueness:           1.0,
	}
	score := &healing.ConfidenceScore{
		Value: 0.9,
		Breakdown: healing.Breakdown{
			Structural: healing.Signal{Value: 0.92, Weight: 0.5, Present: true},
			Historical: healing.Signal{Value: 0.8, Weight: 0.375, Present: true},
			Uniqueness: healing.Signal{Value: 1.0, Weight: 0.125, Present: true},
		},
	}
	require.NoError(t, rec.MarkScored(cand, score))
	require.NoError(t, rec.AutoApply())
	return rec
}

func TestAppendAndForRecord(t *testing.T) {
	db := openTestDB(t)
	ledger := New(db)
	ctx := context.Background()

	rec := appliedRecord(t)
	first := healing.NewAuditEntry(rec, healing.StateScored, healing.ActorSystem, "confidence above auto-apply threshold")
	require.NoError(t, ledger.Append(ctx, first))

	entries, err := ledger.ForRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, rec.ID, got.RecordID)
	assert.Equal(t, healing.StateScored, got.FromState)
	assert.Equal(t, healing.StateAutoApplied, got.ToState)
	assert.Equal(t, healing.ActorSystem, got.Actor)
	assert.Equal(t, first.Reason, got.Reason)
	assert.Equal(t, rec.OldLocator, got.OldLocator)
	assert.Equal(t, `button[data-testid="submit-v2"]`, got.NewLocator)
	require.NotNil(t, got.Score)
	assert.Equal(t, rec.Score.Breakdown, got.Score.Breakdown)

	_, err = ledger.ForRecord(ctx, "")
	assert.Error(t, err)
}

func TestAppendRejectsIncompleteEntries(t *testing.T) {
	ledger := New(openTestDB(t))

	err := ledger.Append(context.Background(), healing.AuditEntry{})
	assert.Error(t, err)
}

func TestQueryRequiresTenant(t *testing.T) {
	ledger := New(openTestDB(t))

	_, err := ledger.Query(context.Background(), healing.RecordFilter{})
	assert.Error(t, err)
}

func TestQueryFilters(t *testing.T) {
	db := openTestDB(t)
	ledger := New(db)
	ctx := context.Background()

	rec := appliedRecord(t)
	require.NoError(t, ledger.Append(ctx, healing.NewAuditEntry(rec, healing.StateScored, healing.ActorSystem, "applied")))

	other, err := healing.NewHealingRecord("globex", "login-flow", 0, "a.link", healing.RiskProduction)
	require.NoError(t, err)
	require.NoError(t, ledger.Append(ctx, healing.NewAuditEntry(other, "", healing.ActorSystem, "failure ingested")))

	acme, err := ledger.Query(ctx, healing.RecordFilter{Tenant: "acme"})
	require.NoError(t, err)
	require.Len(t, acme, 1)
	assert.Equal(t, rec.ID, acme[0].RecordID)

	byState, err := ledger.Query(ctx, healing.RecordFilter{
		Tenant: "acme",
		States: []healing.WorkflowState{healing.StateAutoApplied},
	})
	require.NoError(t, err)
	assert.Len(t, byState, 1)

	outside, err := ledger.Query(ctx, healing.RecordFilter{
		Tenant: "acme",
		Until:  time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, outside)
}

func TestCommitRepairIsTransactional(t *testing.T) {
	db := openTestDB(t)
	ledger := New(db)
	records := storage.NewSQLiteRecordRepository(db)
	ctx := context.Background()

	rec := appliedRecord(t)
	require.NoError(t, records.Save(ctx, rec))

	from := rec.State
	require.NoError(t, rec.Commit(24*time.Hour))
	entry := healing.NewAuditEntry(rec, from, healing.ActorSystem, "validation passed, repair committed")
	require.NoError(t, ledger.CommitRepair(ctx, rec, entry))

	// All three writes landed: record state, overlay, audit entry.
	got, err := records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, healing.StateCommitted, got.State)

	loc, err := records.CurrentLocator(ctx, rec.TenantID, rec.TestID, rec.StepIndex)
	require.NoError(t, err)
	assert.Equal(t, `button[data-testid="submit-v2"]`, loc)

	entries, err := ledger.ForRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, healing.StateCommitted, entries[0].ToState)
}

func TestCommitRepairWithoutCandidate(t *testing.T) {
	ledger := New(openTestDB(t))

	rec, err := healing.NewHealingRecord("acme", "checkout-flow", 0, "button.btn", healing.RiskNonProduction)
	require.NoError(t, err)

	err = ledger.CommitRepair(context.Background(), rec, healing.NewAuditEntry(rec, "", healing.ActorSystem, "x"))
	assert.Error(t, err)
}

func TestRollbackRepairRestoresOverlay(t *testing.T) {
	db := openTestDB(t)
	ledger := New(db)
	records := storage.NewSQLiteRecordRepository(db)
	ctx := context.Background()

	rec := appliedRecord(t)
	require.NoError(t, records.Save(ctx, rec))

	from := rec.State
	require.NoError(t, rec.Commit(24*time.Hour))
	require.NoError(t, ledger.CommitRepair(ctx, rec, healing.NewAuditEntry(rec, from, healing.ActorSystem, "committed")))

	from = rec.State
	require.NoError(t, rec.Rollback(time.Now().UTC()))
	require.NoError(t, ledger.RollbackRepair(ctx, rec, healing.NewAuditEntry(rec, from, "oncall@example.com", "repair rolled back, old locator restored")))

	loc, err := records.CurrentLocator(ctx, rec.TenantID, rec.TestID, rec.StepIndex)
	require.NoError(t, err)
	assert.Equal(t, rec.OldLocator, loc)

	got, err := records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, healing.StateRolledBack, got.State)

	entries, err := ledger.ForRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, healing.StateRolledBack, entries[1].ToState)
	assert.Equal(t, "oncall@example.com", entries[1].Actor)
}
