// Package storage provides SQLite-backed persistence for healing records,
// the audit ledger, strategy history, and the locator overlay.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
)

// Open opens (or creates) the engine database at the given path and brings
// the schema up to date.
func Open(dbPath string) (*sql.DB, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := InitializeDatabase(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// SQLiteRecordRepository implements healing.RecordRepository.
type SQLiteRecordRepository struct {
	db *sql.DB
}

// NewSQLiteRecordRepository creates a record repository over an open
// database.
func NewSQLiteRecordRepository(db *sql.DB) *SQLiteRecordRepository {
	return &SQLiteRecordRepository{db: db}
}

// candidateDoc is the persisted JSON form of a healing candidate.
type candidateDoc struct {
	TestID               string          `json:"test_id"`
	StepIndex            int             `json:"step_index"`
	OldLocator           string          `json:"old_locator"`
	Strategy             json.RawMessage `json:"strategy"`
	StructuralSimilarity float64         `json:"structural_similarity"`
	Uniqueness           float64         `json:"uniqueness"`
}

func encodeCandidate(c *healing.HealingCandidate) (sql.NullString, error) {
	if c == nil {
		return sql.NullString{}, nil
	}
	strategy, err := healing.MarshalStrategy(c.Strategy)
	if err != nil {
		return sql.NullString{}, err
	}
	data, err := json.Marshal(candidateDoc{
		TestID:               c.TestID.String(),
		StepIndex:            c.StepIndex,
		OldLocator:           c.OldLocator,
		Strategy:             strategy,
		StructuralSimilarity: c.StructuralSimilarity,
		Uniqueness:           c.Uniqueness,
	})
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode candidate: %w", err)
	}
	return sql.NullString{Valid: true, String: string(data)}, nil
}

func decodeCandidate(raw sql.NullString) (*healing.HealingCandidate, error) {
	if !raw.Valid {
		return nil, nil
	}
	var doc candidateDoc
	if err := json.Unmarshal([]byte(raw.String), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode candidate: %w", err)
	}
	strategy, err := healing.UnmarshalStrategy(doc.Strategy)
	if err != nil {
		return nil, err
	}
	return &healing.HealingCandidate{
		TestID:               types.TestID(doc.TestID),
		StepIndex:            doc.StepIndex,
		OldLocator:           doc.OldLocator,
		Strategy:             strategy,
		StructuralSimilarity: doc.StructuralSimilarity,
		Uniqueness:           doc.Uniqueness,
	}, nil
}

func encodeScore(s *healing.ConfidenceScore) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode score: %w", err)
	}
	return sql.NullString{Valid: true, String: string(data)}, nil
}

func decodeScore(raw sql.NullString) (*healing.ConfidenceScore, error) {
	if !raw.Valid {
		return nil, nil
	}
	var s healing.ConfidenceScore
	if err := json.Unmarshal([]byte(raw.String), &s); err != nil {
		return nil, fmt.Errorf("failed to decode score: %w", err)
	}
	return &s, nil
}

// Execer is the subset of sql.DB and sql.Tx used for writes, so record
// upserts can participate in larger transactions.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Save upserts a record by ID.
func (r *SQLiteRecordRepository) Save(ctx context.Context, rec *healing.HealingRecord) error {
	return SaveRecord(ctx, r.db, rec)
}

// SaveRecord upserts a record using the given executor, which may be a
// transaction.
func SaveRecord(ctx context.Context, ex Execer, rec *healing.HealingRecord) error {
	if rec == nil {
		return fmt.Errorf("cannot save nil record")
	}

	candidate, err := encodeCandidate(rec.Candidate)
	if err != nil {
		return err
	}
	score, err := encodeScore(rec.Score)
	if err != nil {
		return err
	}

	var deadline sql.NullTime
	if !rec.RollbackDeadline.IsZero() {
		deadline = sql.NullTime{Valid: true, Time: rec.RollbackDeadline}
	}

	nodePath, err := json.Marshal(rec.OldNodePath)
	if err != nil {
		return fmt.Errorf("failed to encode node path: %w", err)
	}

	query := `
		INSERT INTO healing_records (
			id, tenant_id, test_id, step_index, old_locator,
			last_good_snapshot, failure_snapshot, old_node_path,
			candidate, score,
			risk_tier, state, created_at, updated_at, approver,
			rollback_deadline, validation_reason, superseded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			candidate = excluded.candidate,
			score = excluded.score,
			state = excluded.state,
			updated_at = excluded.updated_at,
			approver = excluded.approver,
			rollback_deadline = excluded.rollback_deadline,
			validation_reason = excluded.validation_reason,
			superseded = excluded.superseded
	`

	_, err = ex.ExecContext(ctx, query,
		rec.ID.String(),
		rec.TenantID.String(),
		rec.TestID.String(),
		rec.StepIndex,
		rec.OldLocator,
		rec.LastGoodSnapshot,
		rec.FailureSnapshot,
		string(nodePath),
		candidate,
		score,
		string(rec.RiskTier),
		string(rec.State),
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.Approver,
		deadline,
		rec.ValidationReason,
		boolToInt(rec.Superseded),
	)
	if err != nil {
		return fmt.Errorf("failed to save healing record: %w", err)
	}
	return nil
}

const recordColumns = `
	id, tenant_id, test_id, step_index, old_locator,
	last_good_snapshot, failure_snapshot, old_node_path,
	candidate, score,
	risk_tier, state, created_at, updated_at, approver,
	rollback_deadline, validation_reason, superseded`

// Get retrieves a record by ID.
func (r *SQLiteRecordRepository) Get(ctx context.Context, id types.RecordID) (*healing.HealingRecord, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("record ID cannot be empty")
	}

	row := r.db.QueryRowContext(ctx,
		"SELECT"+recordColumns+" FROM healing_records WHERE id = ?", id.String())

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", healing.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load healing record: %w", err)
	}
	return rec, nil
}

// List returns records matching the filter, newest first. Listing always
// requires a tenant: queries never cross tenant boundaries.
func (r *SQLiteRecordRepository) List(ctx context.Context, f healing.RecordFilter) ([]*healing.HealingRecord, error) {
	if f.Tenant == "" {
		return nil, fmt.Errorf("record listing requires a tenant")
	}

	query := "SELECT" + recordColumns + " FROM healing_records WHERE tenant_id = ?"
	args := []interface{}{f.Tenant.String()}

	if f.Test != "" {
		query += " AND test_id = ?"
		args = append(args, f.Test.String())
	}
	if len(f.States) > 0 {
		query += " AND state IN (?" + strings.Repeat(", ?", len(f.States)-1) + ")"
		for _, s := range f.States {
			args = append(args, string(s))
		}
	}
	if f.Tier != "" {
		query += " AND risk_tier = ?"
		args = append(args, string(f.Tier))
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, f.Until)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list healing records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*healing.HealingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan healing record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate healing records: %w", err)
	}
	return out, nil
}

// rowScanner abstracts sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*healing.HealingRecord, error) {
	var (
		rec        healing.HealingRecord
		id         string
		tenant     string
		test       string
		tier       string
		state      string
		lastGood   sql.NullString
		failure    sql.NullString
		nodePath   sql.NullString
		candidate  sql.NullString
		score      sql.NullString
		approver   sql.NullString
		deadline   sql.NullTime
		reason     sql.NullString
		superseded int
	)

	err := row.Scan(
		&id, &tenant, &test, &rec.StepIndex, &rec.OldLocator,
		&lastGood, &failure, &nodePath,
		&candidate, &score, &tier, &state,
		&rec.CreatedAt, &rec.UpdatedAt, &approver,
		&deadline, &reason, &superseded,
	)
	if err != nil {
		return nil, err
	}

	if lastGood.Valid {
		rec.LastGoodSnapshot = lastGood.String
	}
	if failure.Valid {
		rec.FailureSnapshot = failure.String
	}
	if nodePath.Valid && nodePath.String != "" {
		if err := json.Unmarshal([]byte(nodePath.String), &rec.OldNodePath); err != nil {
			return nil, fmt.Errorf("failed to decode node path: %w", err)
		}
	}

	rec.ID = types.RecordID(id)
	rec.TenantID = types.TenantID(tenant)
	rec.TestID = types.TestID(test)
	rec.RiskTier = healing.RiskTier(tier)
	rec.State = healing.WorkflowState(state)
	if approver.Valid {
		rec.Approver = approver.String
	}
	if deadline.Valid {
		rec.RollbackDeadline = deadline.Time
	}
	if reason.Valid {
		rec.ValidationReason = reason.String
	}
	rec.Superseded = superseded != 0

	if rec.Candidate, err = decodeCandidate(candidate); err != nil {
		return nil, err
	}
	if rec.Score, err = decodeScore(score); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CurrentLocator returns the overlay locator for a step, or empty if the
// step has never been repaired.
func (r *SQLiteRecordRepository) CurrentLocator(ctx context.Context, tenant types.TenantID, test types.TestID, step int) (string, error) {
	var locator string
	err := r.db.QueryRowContext(ctx,
		"SELECT locator FROM test_locators WHERE tenant_id = ? AND test_id = ? AND step_index = ?",
		tenant.String(), test.String(), step).Scan(&locator)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load locator overlay: %w", err)
	}
	return locator, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nowUTC exists so timestamps in this package are consistent.
func nowUTC() time.Time {
	return time.Now().UTC()
}
