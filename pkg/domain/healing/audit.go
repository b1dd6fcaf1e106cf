package healing

import (
	"time"

	"github.com/jskelly/gomend/pkg/domain/types"
)

// ActorSystem is the actor recorded for transitions the engine performs on
// its own, as opposed to a named human approver.
const ActorSystem = "system"

// AuditEntry records one state transition of a healing record. Entries are
// append-only and immutable; every transition produces exactly one entry
// carrying the full score breakdown for explainability.
type AuditEntry struct {
	// ID is the unique identifier for this entry.
	ID types.EntryID `json:"id"`
	// RecordID is the healing record that transitioned.
	RecordID types.RecordID `json:"record_id"`
	// TenantID scopes the entry to one tenant.
	TenantID types.TenantID `json:"tenant_id"`
	// TestID identifies the test the record repairs.
	TestID types.TestID `json:"test_id"`
	// FromState is the state before the transition (empty on creation).
	FromState WorkflowState `json:"from_state,omitempty"`
	// ToState is the state after the transition.
	ToState WorkflowState `json:"to_state"`
	// Actor is the system or named approver that caused the transition.
	Actor string `json:"actor"`
	// Reason carries human-readable context (rejection cause, validation
	// failure reason, cancellation note).
	Reason string `json:"reason,omitempty"`
	// OldLocator and NewLocator capture the repair at this point in time.
	OldLocator string `json:"old_locator,omitempty"`
	NewLocator string `json:"new_locator,omitempty"`
	// Score is the confidence score with full breakdown, when one existed
	// at transition time.
	Score *ConfidenceScore `json:"score,omitempty"`
	// At is when the transition occurred.
	At time.Time `json:"at"`
}

// NewAuditEntry builds an entry for one transition of the given record.
func NewAuditEntry(r *HealingRecord, from WorkflowState, actor, reason string) AuditEntry {
	return AuditEntry{
		ID:         types.NewEntryID(),
		RecordID:   r.ID,
		TenantID:   r.TenantID,
		TestID:     r.TestID,
		FromState:  from,
		ToState:    r.State,
		Actor:      actor,
		Reason:     reason,
		OldLocator: r.OldLocator,
		NewLocator: r.NewLocator(),
		Score:      r.Score,
		At:         time.Now().UTC(),
	}
}
