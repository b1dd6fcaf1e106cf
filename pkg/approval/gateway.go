package approval

import (
	"context"

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
)

// Decider applies decisions to pending records. The workflow engine
// implements it; the gateway never mutates records itself.
type Decider interface {
	Decide(ctx context.Context, id types.RecordID, decision healing.Decision, actor string) (*healing.HealingRecord, error)
}

// PendingFilter narrows the approval queue.
type PendingFilter struct {
	Tenant types.TenantID
	Tier   healing.RiskTier
	Limit  int
}

// PendingItem is one queue entry presented to an approver. Records that
// already failed a validation run are flagged so reviewers see them
// distinctly from first-time approvals.
type PendingItem struct {
	Record            *healing.HealingRecord `json:"record"`
	ReturnedForReview bool                   `json:"returned_for_review"`
}

// Gateway is the human approval surface: it lists pending repairs and
// forwards decisions to the engine.
type Gateway struct {
	records healing.RecordRepository
	decider Decider
}

// NewGateway creates an approval gateway.
func NewGateway(records healing.RecordRepository, decider Decider) *Gateway {
	return &Gateway{records: records, decider: decider}
}

// Pending lists records awaiting a decision for a tenant, newest first.
func (g *Gateway) Pending(ctx context.Context, filter PendingFilter) ([]PendingItem, error) {
	recs, err := g.records.List(ctx, healing.RecordFilter{
		Tenant: filter.Tenant,
		States: []healing.WorkflowState{healing.StatePendingApproval},
		Tier:   filter.Tier,
		Limit:  filter.Limit,
	})
	if err != nil {
		return nil, err
	}

	items := make([]PendingItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, PendingItem{
			Record:            rec,
			ReturnedForReview: rec.ReturnedForReview(),
		})
	}
	return items, nil
}

// Decide forwards a human decision to the engine.
func (g *Gateway) Decide(ctx context.Context, id types.RecordID, decision healing.Decision, actor string) (*healing.HealingRecord, error) {
	return g.decider.Decide(ctx, id, decision, actor)
}
