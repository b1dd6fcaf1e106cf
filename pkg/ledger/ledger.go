// Package ledger is the append-only audit record of every healing decision
// and its inputs, plus the transactional commit/rollback operations that
// must never partially apply.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
	"github.com/jskelly/gomend/pkg/storage"
)

// Ledger implements healing.AuditRepository over SQLite and owns the
// transactional boundary around locator changes: a committed or rolled
// back repair updates the locator overlay, the record row, and the audit
// trail in one transaction. A restored locator without a ledger entry (or
// vice versa) is an invariant violation this boundary prevents.
type Ledger struct {
	db *sql.DB
}

// New creates a ledger over an open database.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append records one audit entry. A single insert, so it succeeds or
// fails atomically with no partial write.
func (l *Ledger) Append(ctx context.Context, e healing.AuditEntry) error {
	return appendEntry(ctx, l.db, e)
}

func appendEntry(ctx context.Context, ex storage.Execer, e healing.AuditEntry) error {
	if e.ID.IsZero() {
		return fmt.Errorf("audit entry ID cannot be empty")
	}
	if e.RecordID.IsZero() {
		return fmt.Errorf("audit entry record ID cannot be empty")
	}

	var score sql.NullString
	if e.Score != nil {
		data, err := json.Marshal(e.Score)
		if err != nil {
			return fmt.Errorf("failed to encode audit score: %w", err)
		}
		score = sql.NullString{Valid: true, String: string(data)}
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, record_id, tenant_id, test_id, from_state, to_state,
			actor, reason, old_locator, new_locator, score, at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(),
		e.RecordID.String(),
		e.TenantID.String(),
		e.TestID.String(),
		string(e.FromState),
		string(e.ToState),
		e.Actor,
		e.Reason,
		e.OldLocator,
		e.NewLocator,
		score,
		e.At,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns entries matching the filter in chronological order.
// A tenant is required: audit queries never cross tenant boundaries.
func (l *Ledger) Query(ctx context.Context, f healing.RecordFilter) ([]healing.AuditEntry, error) {
	if f.Tenant == "" {
		return nil, fmt.Errorf("audit query requires a tenant")
	}

	query := "SELECT " + auditColumns + " FROM audit_entries WHERE tenant_id = ?"
	args := []interface{}{f.Tenant.String()}

	if f.Test != "" {
		query += " AND test_id = ?"
		args = append(args, f.Test.String())
	}
	if len(f.States) > 0 {
		query += " AND to_state IN (?" + strings.Repeat(", ?", len(f.States)-1) + ")"
		for _, s := range f.States {
			args = append(args, string(s))
		}
	}
	if !f.Since.IsZero() {
		query += " AND at >= ?"
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += " AND at <= ?"
		args = append(args, f.Until)
	}
	query += " ORDER BY at ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return l.queryEntries(ctx, query, args...)
}

// ForRecord returns every entry for one record in chronological order.
func (l *Ledger) ForRecord(ctx context.Context, id types.RecordID) ([]healing.AuditEntry, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("record ID cannot be empty")
	}
	return l.queryEntries(ctx,
		"SELECT "+auditColumns+" FROM audit_entries WHERE record_id = ? ORDER BY at ASC",
		id.String())
}

const auditColumns = `id, record_id, tenant_id, test_id, from_state, to_state,
	actor, reason, old_locator, new_locator, score, at`

func (l *Ledger) queryEntries(ctx context.Context, query string, args ...interface{}) ([]healing.AuditEntry, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []healing.AuditEntry
	for rows.Next() {
		var (
			e         healing.AuditEntry
			id        string
			record    string
			tenant    string
			test      string
			fromState sql.NullString
			reason    sql.NullString
			oldLoc    sql.NullString
			newLoc    sql.NullString
			score     sql.NullString
		)
		err := rows.Scan(&id, &record, &tenant, &test, &fromState, &e.ToState,
			&e.Actor, &reason, &oldLoc, &newLoc, &score, &e.At)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		e.ID = types.EntryID(id)
		e.RecordID = types.RecordID(record)
		e.TenantID = types.TenantID(tenant)
		e.TestID = types.TestID(test)
		if fromState.Valid {
			e.FromState = healing.WorkflowState(fromState.String)
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		if oldLoc.Valid {
			e.OldLocator = oldLoc.String
		}
		if newLoc.Valid {
			e.NewLocator = newLoc.String
		}
		if score.Valid {
			var cs healing.ConfidenceScore
			if err := json.Unmarshal([]byte(score.String), &cs); err != nil {
				return nil, fmt.Errorf("failed to decode audit score: %w", err)
			}
			e.Score = &cs
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return out, nil
}

// CommitRepair persists a committed record, writes the repaired locator to
// the overlay, and appends the Committed audit entry in one transaction.
func (l *Ledger) CommitRepair(ctx context.Context, rec *healing.HealingRecord, entry healing.AuditEntry) error {
	newLocator := rec.NewLocator()
	if newLocator == "" {
		return fmt.Errorf("record %s has no chosen candidate to commit", rec.ID)
	}
	return l.applyInTx(ctx, rec, entry, newLocator)
}

// RollbackRepair persists a rolled back record, restores the exact old
// locator in the overlay, and appends the RolledBack audit entry in one
// transaction.
func (l *Ledger) RollbackRepair(ctx context.Context, rec *healing.HealingRecord, entry healing.AuditEntry) error {
	return l.applyInTx(ctx, rec, entry, rec.OldLocator)
}

func (l *Ledger) applyInTx(ctx context.Context, rec *healing.HealingRecord, entry healing.AuditEntry, locator string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := storage.SaveRecord(ctx, tx, rec); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO test_locators (tenant_id, test_id, step_index, locator, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, test_id, step_index) DO UPDATE SET
			locator = excluded.locator,
			updated_at = excluded.updated_at`,
		rec.TenantID.String(), rec.TestID.String(), rec.StepIndex, locator, entry.At,
	)
	if err != nil {
		return fmt.Errorf("failed to update locator overlay: %w", err)
	}

	if err := appendEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
