package storage

import (
	"database/sql"
	"fmt"
)

// MigrationVersion tracks the current database schema version.
const MigrationVersion = 1

// InitializeDatabase creates the SQLite schema for healing records, the
// audit ledger, strategy history, and the locator overlay. Includes
// migration version tracking to support future schema updates.
func InitializeDatabase(db *sql.DB) error {
	migrationsTable := `
	CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL UNIQUE,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := db.Exec(migrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to check migration version: %w", err)
	}

	if currentVersion < 1 {
		if err := applyMigration1(db); err != nil {
			return fmt.Errorf("failed to apply migration 1: %w", err)
		}
	}

	return nil
}

// applyMigration1 creates the initial database schema.
func applyMigration1(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Healing records table - tracks the repair lifecycle per failure
	recordsTable := `
	CREATE TABLE healing_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		test_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		old_locator TEXT NOT NULL,
		last_good_snapshot TEXT,
		failure_snapshot TEXT,
		old_node_path TEXT,
		candidate TEXT,
		score TEXT,
		risk_tier TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		approver TEXT,
		rollback_deadline TIMESTAMP,
		validation_reason TEXT,
		superseded INTEGER NOT NULL DEFAULT 0
	);`

	if _, err := tx.Exec(recordsTable); err != nil {
		return fmt.Errorf("failed to create healing_records table: %w", err)
	}

	recordsIndexes := []string{
		"CREATE INDEX idx_records_tenant ON healing_records(tenant_id, created_at DESC);",
		"CREATE INDEX idx_records_tenant_state ON healing_records(tenant_id, state, created_at DESC);",
		"CREATE INDEX idx_records_tenant_test ON healing_records(tenant_id, test_id, created_at DESC);",
	}
	for _, idx := range recordsIndexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create healing_records index: %w", err)
		}
	}

	// Audit entries table - append-only ledger, one row per transition
	auditTable := `
	CREATE TABLE audit_entries (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		test_id TEXT NOT NULL,
		from_state TEXT,
		to_state TEXT NOT NULL,
		actor TEXT NOT NULL,
		reason TEXT,
		old_locator TEXT,
		new_locator TEXT,
		score TEXT,
		at TIMESTAMP NOT NULL,
		FOREIGN KEY (record_id) REFERENCES healing_records(id)
	);`

	if _, err := tx.Exec(auditTable); err != nil {
		return fmt.Errorf("failed to create audit_entries table: %w", err)
	}

	auditIndexes := []string{
		"CREATE INDEX idx_audit_record ON audit_entries(record_id, at);",
		"CREATE INDEX idx_audit_tenant ON audit_entries(tenant_id, at);",
		"CREATE INDEX idx_audit_tenant_test ON audit_entries(tenant_id, test_id, at);",
	}
	for _, idx := range auditIndexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create audit_entries index: %w", err)
		}
	}

	// Strategy history table - per (tenant, strategy kind) outcome counters
	// bucketed by day so the success rate can be computed over a rolling
	// window. Updates are idempotent-tolerant: duplicates only shift
	// counts, which at-least-once semantics permits.
	historyTable := `
	CREATE TABLE strategy_history (
		tenant_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		bucket TEXT NOT NULL,
		successes INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, kind, bucket)
	);`

	if _, err := tx.Exec(historyTable); err != nil {
		return fmt.Errorf("failed to create strategy_history table: %w", err)
	}

	// Locator overlay table - the engine's authoritative view of each
	// step's current locator. Commit writes the repaired locator here;
	// rollback restores the old one in the same transaction as the ledger
	// entry.
	locatorsTable := `
	CREATE TABLE test_locators (
		tenant_id TEXT NOT NULL,
		test_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		locator TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, test_id, step_index)
	);`

	if _, err := tx.Exec(locatorsTable); err != nil {
		return fmt.Errorf("failed to create test_locators table: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", 1); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}
