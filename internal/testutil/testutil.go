// Package testutil provides in-memory test doubles and snapshot builders
// shared by the package test suites.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
	"github.com/jskelly/gomend/pkg/snapshot"
)

// Node builds a snapshot node with attributes supplied as alternating
// key/value pairs.
func Node(tag string, attrs map[string]string, children ...*snapshot.UiNode) *snapshot.UiNode {
	return &snapshot.UiNode{Tag: tag, Attrs: attrs, Children: children}
}

// TextNode builds a leaf node carrying text.
func TextNode(tag, text string, attrs map[string]string) *snapshot.UiNode {
	return &snapshot.UiNode{Tag: tag, Text: text, Attrs: attrs}
}

// Snap wraps a root node in a snapshot with the given ref.
func Snap(ref string, root *snapshot.UiNode) *snapshot.UiSnapshot {
	return &snapshot.UiSnapshot{Ref: ref, Root: root}
}

// MemSnapshotStore is an in-memory snapshot.Store.
type MemSnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]*snapshot.UiSnapshot
}

// NewMemSnapshotStore creates a store seeded with the given snapshots,
// keyed by their refs.
func NewMemSnapshotStore(snaps ...*snapshot.UiSnapshot) *MemSnapshotStore {
	s := &MemSnapshotStore{snaps: make(map[string]*snapshot.UiSnapshot)}
	for _, snap := range snaps {
		s.snaps[snap.Ref] = snap
	}
	return s
}

// Put adds or replaces a snapshot.
func (s *MemSnapshotStore) Put(snap *snapshot.UiSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Ref] = snap
}

// Get implements snapshot.Store.
func (s *MemSnapshotStore) Get(_ context.Context, ref string) (*snapshot.UiSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[ref]
	if !ok {
		return nil, &healing.SnapshotUnavailableError{Ref: ref}
	}
	return snap, nil
}

// StaticSemanticProvider returns a fixed similarity score, or an error.
type StaticSemanticProvider struct {
	Value float64
	Err   error
	// Block simulates a provider that never answers before the deadline.
	Block bool
}

// Score implements scoring.SemanticProvider.
func (p *StaticSemanticProvider) Score(ctx context.Context, beforeText, afterText string) (float64, error) {
	if p.Block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if p.Err != nil {
		return 0, p.Err
	}
	return p.Value, nil
}

// MemHistoryStore is an in-memory healing.HistoryStore.
type MemHistoryStore struct {
	mu     sync.Mutex
	counts map[string][2]int // successes, total
}

// NewMemHistoryStore creates an empty history store.
func NewMemHistoryStore() *MemHistoryStore {
	return &MemHistoryStore{counts: make(map[string][2]int)}
}

// Seed installs a prior outcome count for a tenant and strategy kind.
func (h *MemHistoryStore) Seed(tenant types.TenantID, kind healing.StrategyKind, successes, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[historyKey(tenant, kind)] = [2]int{successes, total}
}

// SuccessRate implements healing.HistoryStore.
func (h *MemHistoryStore) SuccessRate(_ context.Context, tenant types.TenantID, kind healing.StrategyKind) (float64, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.counts[historyKey(tenant, kind)]
	if c[1] == 0 {
		return 0, 0, nil
	}
	return float64(c[0]) / float64(c[1]), c[1], nil
}

// RecordOutcome implements healing.HistoryStore.
func (h *MemHistoryStore) RecordOutcome(_ context.Context, tenant types.TenantID, kind healing.StrategyKind, success bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := historyKey(tenant, kind)
	c := h.counts[key]
	if success {
		c[0]++
	}
	c[1]++
	h.counts[key] = c
	return nil
}

func historyKey(tenant types.TenantID, kind healing.StrategyKind) string {
	return fmt.Sprintf("%s/%s", tenant, kind)
}

// MemRecordRepository is an in-memory healing.RecordRepository.
type MemRecordRepository struct {
	mu      sync.Mutex
	records map[types.RecordID]*healing.HealingRecord
	order   []types.RecordID
}

// NewMemRecordRepository creates an empty repository.
func NewMemRecordRepository() *MemRecordRepository {
	return &MemRecordRepository{records: make(map[types.RecordID]*healing.HealingRecord)}
}

// Save implements healing.RecordRepository.
func (r *MemRecordRepository) Save(_ context.Context, rec *healing.HealingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; !ok {
		r.order = append(r.order, rec.ID)
	}
	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

// Get implements healing.RecordRepository.
func (r *MemRecordRepository) Get(_ context.Context, id types.RecordID) (*healing.HealingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, healing.ErrRecordNotFound)
	}
	cp := *rec
	return &cp, nil
}

// List implements healing.RecordRepository. Newest first.
func (r *MemRecordRepository) List(_ context.Context, f healing.RecordFilter) ([]*healing.HealingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*healing.HealingRecord
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.records[r.order[i]]
		if f.Tenant != "" && rec.TenantID != f.Tenant {
			continue
		}
		if f.Test != "" && rec.TestID != f.Test {
			continue
		}
		if f.Tier != "" && rec.RiskTier != f.Tier {
			continue
		}
		if len(f.States) > 0 && !stateIn(rec.State, f.States) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func stateIn(s healing.WorkflowState, states []healing.WorkflowState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// MemLedger is an in-memory audit ledger implementing the engine's
// AuditLedger surface. Commit and rollback record the applied locator per
// (tenant, test, step) the way the SQLite ledger maintains its overlay.
type MemLedger struct {
	mu       sync.Mutex
	entries  []healing.AuditEntry
	locators map[string]string
	records  *MemRecordRepository
}

// NewMemLedger creates a ledger writing record state through the given
// repository on commit and rollback.
func NewMemLedger(records *MemRecordRepository) *MemLedger {
	return &MemLedger{locators: make(map[string]string), records: records}
}

// Append implements healing.AuditRepository.
func (l *MemLedger) Append(_ context.Context, e healing.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

// Query implements healing.AuditRepository.
func (l *MemLedger) Query(_ context.Context, f healing.RecordFilter) ([]healing.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []healing.AuditEntry
	for _, e := range l.entries {
		if f.Tenant != "" && e.TenantID != f.Tenant {
			continue
		}
		if f.Test != "" && e.TestID != f.Test {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ForRecord implements healing.AuditRepository.
func (l *MemLedger) ForRecord(_ context.Context, id types.RecordID) ([]healing.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []healing.AuditEntry
	for _, e := range l.entries {
		if e.RecordID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

// CommitRepair stores the record, the new locator, and the entry together.
func (l *MemLedger) CommitRepair(ctx context.Context, rec *healing.HealingRecord, entry healing.AuditEntry) error {
	if err := l.records.Save(ctx, rec); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locators[locatorKey(rec)] = rec.NewLocator()
	l.entries = append(l.entries, entry)
	return nil
}

// RollbackRepair restores the old locator and appends the entry.
func (l *MemLedger) RollbackRepair(ctx context.Context, rec *healing.HealingRecord, entry healing.AuditEntry) error {
	if err := l.records.Save(ctx, rec); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locators[locatorKey(rec)] = rec.OldLocator
	l.entries = append(l.entries, entry)
	return nil
}

// CurrentLocator returns the applied locator for a test step, if any.
func (l *MemLedger) CurrentLocator(rec *healing.HealingRecord) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	loc, ok := l.locators[locatorKey(rec)]
	return loc, ok
}

// Entries returns a copy of all appended entries in order.
func (l *MemLedger) Entries() []healing.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]healing.AuditEntry{}, l.entries...)
}

func locatorKey(rec *healing.HealingRecord) string {
	return fmt.Sprintf("%s/%s/%d", rec.TenantID, rec.TestID, rec.StepIndex)
}
