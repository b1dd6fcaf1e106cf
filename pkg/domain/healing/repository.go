package healing

import (
	"context"
	"time"

	"github.com/jskelly/gomend/pkg/domain/types"
)

// RecordFilter narrows record and audit queries. Tenant is required for
// listing operations: queries never cross tenant boundaries.
type RecordFilter struct {
	Tenant types.TenantID
	Test   types.TestID
	States []WorkflowState
	Tier   RiskTier
	Since  time.Time
	Until  time.Time
	Limit  int
}

// RecordRepository persists healing records.
type RecordRepository interface {
	// Save upserts a record by ID.
	Save(ctx context.Context, r *HealingRecord) error
	// Get retrieves a record by ID, returning ErrRecordNotFound if absent.
	Get(ctx context.Context, id types.RecordID) (*HealingRecord, error)
	// List returns records matching the filter, newest first.
	List(ctx context.Context, f RecordFilter) ([]*HealingRecord, error)
}

// AuditRepository is the append-only ledger of state transitions.
type AuditRepository interface {
	// Append records one entry atomically.
	Append(ctx context.Context, e AuditEntry) error
	// Query returns entries matching the filter in chronological order.
	Query(ctx context.Context, f RecordFilter) ([]AuditEntry, error)
	// ForRecord returns all entries for one record in chronological order.
	ForRecord(ctx context.Context, id types.RecordID) ([]AuditEntry, error)
}

// HistoryStore tracks per-(tenant, strategy kind) repair outcomes over a
// rolling window. Counter updates have at-least-once semantics; duplicates
// are tolerated since exact-once counting is not a correctness requirement.
type HistoryStore interface {
	// SuccessRate returns the observed success rate and sample count.
	SuccessRate(ctx context.Context, tenant types.TenantID, kind StrategyKind) (rate float64, samples int, err error)
	// RecordOutcome registers one committed (success) or rolled back
	// (failure) repair for the strategy kind.
	RecordOutcome(ctx context.Context, tenant types.TenantID, kind StrategyKind, success bool) error
}
