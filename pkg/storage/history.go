package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
)

// historyWindowDays is the rolling window over which strategy success
// rates are computed. Buckets older than the window still exist but stop
// contributing.
const historyWindowDays = 30

// bucketLayout formats a day bucket key.
const bucketLayout = "2006-01-02"

// SQLiteHistoryStore implements healing.HistoryStore over day-bucketed
// counters. Outcome updates are at-least-once: a duplicate bump only
// shifts a counter, which the scoring model tolerates.
type SQLiteHistoryStore struct {
	db *sql.DB
}

// NewSQLiteHistoryStore creates a history store over an open database.
func NewSQLiteHistoryStore(db *sql.DB) *SQLiteHistoryStore {
	return &SQLiteHistoryStore{db: db}
}

// SuccessRate returns the success rate and sample count for the tenant and
// strategy kind over the rolling window.
func (s *SQLiteHistoryStore) SuccessRate(ctx context.Context, tenant types.TenantID, kind healing.StrategyKind) (float64, int, error) {
	cutoff := nowUTC().AddDate(0, 0, -historyWindowDays).Format(bucketLayout)

	var successes, failures int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(successes), 0), COALESCE(SUM(failures), 0)
		FROM strategy_history
		WHERE tenant_id = ? AND kind = ? AND bucket >= ?`,
		tenant.String(), kind.String(), cutoff,
	).Scan(&successes, &failures)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query strategy history: %w", err)
	}

	samples := successes + failures
	if samples == 0 {
		return 0, 0, nil
	}
	return float64(successes) / float64(samples), samples, nil
}

// RecordOutcome bumps today's counter for the tenant and strategy kind.
func (s *SQLiteHistoryStore) RecordOutcome(ctx context.Context, tenant types.TenantID, kind healing.StrategyKind, success bool) error {
	bucket := nowUTC().Format(bucketLayout)

	successInc, failureInc := 0, 1
	if success {
		successInc, failureInc = 1, 0
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_history (tenant_id, kind, bucket, successes, failures)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, kind, bucket) DO UPDATE SET
			successes = successes + excluded.successes,
			failures = failures + excluded.failures`,
		tenant.String(), kind.String(), bucket, successInc, failureInc,
	)
	if err != nil {
		return fmt.Errorf("failed to record strategy outcome: %w", err)
	}
	return nil
}
