package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jskelly/gomend/pkg/domain/healing"
)

func TestHistoryEmpty(t *testing.T) {
	store := NewSQLiteHistoryStore(openTestDB(t))

	rate, samples, err := store.SuccessRate(context.Background(), "acme", healing.KindAttributeMatch)
	require.NoError(t, err)
	assert.Zero(t, rate)
	assert.Zero(t, samples)
}

func TestHistoryAccumulatesOutcomes(t *testing.T) {
	store := NewSQLiteHistoryStore(openTestDB(t))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, store.RecordOutcome(ctx, "acme", healing.KindAttributeMatch, true))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, store.RecordOutcome(ctx, "acme", healing.KindAttributeMatch, false))
	}

	rate, samples, err := store.SuccessRate(ctx, "acme", healing.KindAttributeMatch)
	require.NoError(t, err)
	assert.Equal(t, 10, samples)
	assert.InDelta(t, 0.8, rate, 1e-9)
}

func TestHistoryScopedByTenantAndKind(t *testing.T) {
	store := NewSQLiteHistoryStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.RecordOutcome(ctx, "acme", healing.KindAttributeMatch, true))
	require.NoError(t, store.RecordOutcome(ctx, "acme", healing.KindTextAnchor, false))
	require.NoError(t, store.RecordOutcome(ctx, "globex", healing.KindAttributeMatch, false))

	rate, samples, err := store.SuccessRate(ctx, "acme", healing.KindAttributeMatch)
	require.NoError(t, err)
	assert.Equal(t, 1, samples)
	assert.InDelta(t, 1.0, rate, 1e-9)

	rate, samples, err = store.SuccessRate(ctx, "acme", healing.KindTextAnchor)
	require.NoError(t, err)
	assert.Equal(t, 1, samples)
	assert.Zero(t, rate)

	_, samples, err = store.SuccessRate(ctx, "initech", healing.KindAttributeMatch)
	require.NoError(t, err)
	assert.Zero(t, samples)
}

func TestHistoryIgnoresBucketsOutsideWindow(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLiteHistoryStore(db)
	ctx := context.Background()

	// A bucket well past the rolling window must not contribute.
	_, err := db.ExecContext(ctx, `
		INSERT INTO strategy_history (tenant_id, kind, bucket, successes, failures)
		VALUES ('acme', 'attribute_match', '2020-01-01', 100, 0)`)
	require.NoError(t, err)
	require.NoError(t, store.RecordOutcome(ctx, "acme", healing.KindAttributeMatch, false))

	rate, samples, err := store.SuccessRate(ctx, "acme", healing.KindAttributeMatch)
	require.NoError(t, err)
	assert.Equal(t, 1, samples)
	assert.Zero(t, rate)
}
