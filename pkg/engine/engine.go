// Package engine drives healing records through their lifecycle: failure
// intake, structural diffing, candidate generation, confidence scoring,
// approval routing, validation, commit, and rollback.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jskelly/gomend/pkg/approval"
	"github.com/jskelly/gomend/pkg/candidate"
	"github.com/jskelly/gomend/pkg/config"
	"github.com/jskelly/gomend/pkg/diff"
	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
	operr "github.com/jskelly/gomend/pkg/errors"
	"github.com/jskelly/gomend/pkg/scoring"
	"github.com/jskelly/gomend/pkg/snapshot"
)

// AuditLedger is the ledger surface the engine needs: the append-only
// audit repository plus the transactional commit/rollback operations.
type AuditLedger interface {
	healing.AuditRepository
	CommitRepair(ctx context.Context, rec *healing.HealingRecord, entry healing.AuditEntry) error
	RollbackRepair(ctx context.Context, rec *healing.HealingRecord, entry healing.AuditEntry) error
}

// FailureReport is the inbound failure intake payload delivered by the
// test-execution subsystem.
type FailureReport struct {
	TenantID         types.TenantID  `json:"tenant_id"`
	TestID           types.TestID    `json:"test_id"`
	StepIndex        int             `json:"step_index"`
	RiskTier         healing.RiskTier `json:"risk_tier"`
	FailureSnapshot  string          `json:"failure_snapshot_ref"`
	LastGoodSnapshot string          `json:"last_good_snapshot_ref"`
	OldLocator       string          `json:"old_locator"`
	// OldNodePath is the old locator's last successfully resolved node
	// path in the last-good snapshot.
	OldNodePath []int `json:"old_node_path"`
}

// Validate checks the report is complete enough to open a record.
func (r FailureReport) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if r.TestID == "" {
		return fmt.Errorf("test_id is required")
	}
	if r.StepIndex < 0 {
		return fmt.Errorf("step_index cannot be negative")
	}
	if !r.RiskTier.IsValid() {
		return fmt.Errorf("unknown risk_tier %q", r.RiskTier)
	}
	if r.OldLocator == "" {
		return fmt.Errorf("old_locator is required")
	}
	if r.FailureSnapshot == "" || r.LastGoodSnapshot == "" {
		return fmt.Errorf("both snapshot refs are required")
	}
	return nil
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Records   healing.RecordRepository
	Ledger    AuditLedger
	Snapshots snapshot.Store
	Scorer    *scoring.Scorer
	Generator *candidate.Generator
	Validator Validator
	History   healing.HistoryStore
	Policy    *approval.Policy
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Engine is the healing workflow engine. One engine instance exclusively
// owns every record it processes; the ledger only ever holds a read/append
// reference.
type Engine struct {
	cfg       config.Config
	records   healing.RecordRepository
	ledger    AuditLedger
	snapshots snapshot.Store
	scorer    *scoring.Scorer
	generator *candidate.Generator
	validator Validator
	history   healing.HistoryStore
	policy    *approval.Policy
	metrics   *Metrics
	logger    *slog.Logger

	locks   *recordLocks
	limiter *tenantLimiter
	queue   chan types.RecordID
	waiters *waiterSet
}

// New creates a workflow engine. All collaborators except Metrics and
// Logger are required.
func New(cfg config.Config, deps Deps) (*Engine, error) {
	if deps.Records == nil || deps.Ledger == nil || deps.Snapshots == nil {
		return nil, fmt.Errorf("records, ledger, and snapshots are required")
	}
	if deps.Scorer == nil || deps.Generator == nil || deps.Validator == nil {
		return nil, fmt.Errorf("scorer, generator, and validator are required")
	}
	if deps.History == nil || deps.Policy == nil {
		return nil, fmt.Errorf("history store and approval policy are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}

	e := &Engine{
		cfg:       cfg,
		records:   deps.Records,
		ledger:    deps.Ledger,
		snapshots: deps.Snapshots,
		scorer:    deps.Scorer,
		generator: deps.Generator,
		validator: deps.Validator,
		history:   deps.History,
		policy:    deps.Policy,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		locks:     newRecordLocks(),
		queue:     make(chan types.RecordID, 1024),
		waiters:   newWaiterSet(),
	}
	e.limiter = newTenantLimiter(func(t types.TenantID) int {
		return cfg.ForTenant(t).MaxConcurrentRecordsPerTenant
	})
	return e, nil
}

// Submit ingests a failure report and enqueues it for healing. The record
// id returns immediately; the pipeline runs on the worker pool.
func (e *Engine) Submit(ctx context.Context, report FailureReport) (types.RecordID, error) {
	if err := report.Validate(); err != nil {
		return "", operr.NewOperationalError("failure intake", report.TenantID.String(), "", err)
	}

	rec, err := healing.NewHealingRecord(report.TenantID, report.TestID, report.StepIndex, report.OldLocator, report.RiskTier)
	if err != nil {
		return "", operr.NewOperationalError("failure intake", report.TenantID.String(), "", err)
	}
	rec.LastGoodSnapshot = report.LastGoodSnapshot
	rec.FailureSnapshot = report.FailureSnapshot
	rec.OldNodePath = append([]int{}, report.OldNodePath...)

	if err := e.records.Save(ctx, rec); err != nil {
		return "", operr.NewOperationalError("failure intake", rec.TenantID.String(), rec.ID.String(), err)
	}
	if err := e.ledger.Append(ctx, healing.NewAuditEntry(rec, "", healing.ActorSystem, "failure ingested")); err != nil {
		return "", operr.NewOperationalError("failure intake", rec.TenantID.String(), rec.ID.String(), err)
	}

	e.metrics.RecordsIngested.WithLabelValues(string(rec.RiskTier)).Inc()

	select {
	case e.queue <- rec.ID:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	e.logger.Info("failure ingested",
		"record", rec.ID.String(),
		"tenant", rec.TenantID.String(),
		"test", rec.TestID.String(),
		"step", rec.StepIndex)
	return rec.ID, nil
}

// SubmitAndWait ingests a failure report and blocks until its record
// settles (pending approval, rejected, or committed) or the context ends.
// Callers that cannot block use Submit instead; both modes share one code
// path.
func (e *Engine) SubmitAndWait(ctx context.Context, report FailureReport) (*healing.HealingRecord, error) {
	id, err := e.Submit(ctx, report)
	if err != nil {
		return nil, err
	}

	select {
	case <-e.waiters.wait(id):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.records.Get(ctx, id)
}

// Get returns one record by id.
func (e *Engine) Get(ctx context.Context, id types.RecordID) (*healing.HealingRecord, error) {
	return e.records.Get(ctx, id)
}

// List returns records matching the filter, newest first.
func (e *Engine) List(ctx context.Context, f healing.RecordFilter) ([]*healing.HealingRecord, error) {
	return e.records.List(ctx, f)
}

// Audit returns ledger entries matching the filter in chronological order.
func (e *Engine) Audit(ctx context.Context, f healing.RecordFilter) ([]healing.AuditEntry, error) {
	return e.ledger.Query(ctx, f)
}

// AuditForRecord returns one record's full transition history.
func (e *Engine) AuditForRecord(ctx context.Context, id types.RecordID) ([]healing.AuditEntry, error) {
	return e.ledger.ForRecord(ctx, id)
}

// Decide applies a human decision to a pending record. Approval triggers
// the validation run synchronously; the caller learns the settled state.
// A second decision on an already-decided record returns a conflict.
func (e *Engine) Decide(ctx context.Context, id types.RecordID, decision healing.Decision, actor string) (*healing.HealingRecord, error) {
	if !decision.IsValid() {
		return nil, fmt.Errorf("unknown decision %q", decision)
	}
	if actor == "" || actor == healing.ActorSystem {
		return nil, fmt.Errorf("decision requires a named actor")
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	rec, err := e.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Decided() {
		return nil, &healing.DuplicateDecisionError{RecordID: rec.ID, State: rec.State}
	}

	if decision == healing.DecisionReject {
		from := rec.State
		if err := rec.Reject(); err != nil {
			return nil, err
		}
		if err := e.persist(ctx, rec, from, actor, "repair rejected by approver"); err != nil {
			return nil, err
		}
		e.metrics.PendingGauge.Dec()
		return rec, nil
	}

	if err := rec.Approve(actor); err != nil {
		return nil, err
	}
	if err := e.records.Save(ctx, rec); err != nil {
		return nil, operr.NewOperationalError("record decision", rec.TenantID.String(), rec.ID.String(), err)
	}
	e.metrics.PendingGauge.Dec()
	if err := e.validateAndSettle(ctx, rec, actor); err != nil {
		return nil, err
	}
	return rec, nil
}

// Rollback reverts a committed repair inside the rollback window. The old
// locator is restored and the RolledBack ledger entry appended in one
// transaction. After the window the state is unchanged and the caller
// gets ErrRollbackWindowExpired.
func (e *Engine) Rollback(ctx context.Context, id types.RecordID, actor string) (*healing.HealingRecord, error) {
	if actor == "" {
		actor = healing.ActorSystem
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	rec, err := e.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := rec.State
	if err := rec.Rollback(time.Now().UTC()); err != nil {
		if errors.Is(err, healing.ErrRollbackWindowExpired) {
			e.metrics.RollbacksRequested.WithLabelValues("expired").Inc()
		} else {
			e.metrics.RollbacksRequested.WithLabelValues("refused").Inc()
		}
		return nil, err
	}

	entry := healing.NewAuditEntry(rec, from, actor, "repair rolled back, old locator restored")
	if err := e.ledger.RollbackRepair(ctx, rec, entry); err != nil {
		return nil, operr.NewOperationalError("rollback", rec.TenantID.String(), rec.ID.String(), err)
	}
	e.metrics.RollbacksRequested.WithLabelValues("rolled_back").Inc()
	e.metrics.Transitions.WithLabelValues(string(rec.State)).Inc()

	e.recordOutcome(ctx, rec, false)
	return rec, nil
}

// Cancel rejects a record whose parent test run was aborted. Legal at any
// state prior to Committed; committed repairs go through Rollback.
func (e *Engine) Cancel(ctx context.Context, id types.RecordID, reason string) (*healing.HealingRecord, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	rec, err := e.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := rec.State
	if err := rec.Cancel(); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "record cancelled"
	}
	if err := e.persist(ctx, rec, from, healing.ActorSystem, reason); err != nil {
		return nil, err
	}
	if from == healing.StatePendingApproval {
		e.metrics.PendingGauge.Dec()
	}
	e.waiters.settle(rec.ID)
	return rec, nil
}

// persist saves a record and appends the audit entry for its latest
// transition. Every failure path either transitions and audits, or
// surfaces an explicit typed error; nothing is swallowed.
func (e *Engine) persist(ctx context.Context, rec *healing.HealingRecord, from healing.WorkflowState, actor, reason string) error {
	if err := e.records.Save(ctx, rec); err != nil {
		return operr.NewOperationalError("record save", rec.TenantID.String(), rec.ID.String(), err)
	}
	if err := e.ledger.Append(ctx, healing.NewAuditEntry(rec, from, actor, reason)); err != nil {
		return operr.NewOperationalError("audit append", rec.TenantID.String(), rec.ID.String(), err)
	}
	e.metrics.Transitions.WithLabelValues(string(rec.State)).Inc()
	return nil
}

// reject terminally rejects a record with a reason and settles waiters.
func (e *Engine) reject(ctx context.Context, rec *healing.HealingRecord, reason string) error {
	from := rec.State
	if err := rec.Reject(); err != nil {
		return err
	}
	if err := e.persist(ctx, rec, from, healing.ActorSystem, reason); err != nil {
		return err
	}
	e.logger.Info("record rejected",
		"record", rec.ID.String(),
		"tenant", rec.TenantID.String(),
		"reason", reason)
	e.waiters.settle(rec.ID)
	return nil
}

// heal runs the diff/generate/score pipeline for a detected record and
// routes the result.
func (e *Engine) heal(ctx context.Context, rec *healing.HealingRecord) error {
	started := time.Now()
	defer func() {
		e.metrics.PipelineDuration.Observe(time.Since(started).Seconds())
	}()

	before, err := e.snapshots.Get(ctx, rec.LastGoodSnapshot)
	if err != nil {
		if errors.Is(err, healing.ErrSnapshotUnavailable) {
			return e.reject(ctx, rec, fmt.Sprintf("last-good snapshot unavailable: %s", rec.LastGoodSnapshot))
		}
		return operr.NewOperationalError("snapshot load", rec.TenantID.String(), rec.ID.String(), err)
	}
	after, err := e.snapshots.Get(ctx, rec.FailureSnapshot)
	if err != nil {
		if errors.Is(err, healing.ErrSnapshotUnavailable) {
			return e.reject(ctx, rec, fmt.Sprintf("failure snapshot unavailable: %s", rec.FailureSnapshot))
		}
		return operr.NewOperationalError("snapshot load", rec.TenantID.String(), rec.ID.String(), err)
	}

	oldNode := before.NodeAt(rec.OldNodePath)
	if oldNode == nil {
		return e.reject(ctx, rec, "old locator path not present in last-good snapshot")
	}

	differ := diff.New()
	regions, err := differ.Diff(before, after, rec.OldNodePath)
	if err != nil {
		return e.reject(ctx, rec, fmt.Sprintf("diff failed: %v", err))
	}
	if len(regions) == 0 {
		return e.reject(ctx, rec, "no structural change detected between snapshots")
	}
	region, _ := diff.Select(regions, rec.OldNodePath)

	cands := e.generator.Generate(candidate.Request{
		TestID:     rec.TestID,
		StepIndex:  rec.StepIndex,
		OldLocator: rec.OldLocator,
		OldNode:    oldNode,
		OldOrdinal: sameTagOrdinal(before, rec.OldNodePath),
		Region:     region,
		After:      after,
	})
	e.metrics.CandidatesPerDiff.Observe(float64(len(cands)))
	if len(cands) == 0 {
		return e.reject(ctx, rec, "no strategy produced a uniquely resolvable candidate")
	}

	best, bestScore, err := e.selectBest(ctx, rec, cands, oldNode, after)
	if err != nil {
		return err
	}

	from := rec.State
	if err := rec.MarkScored(best, bestScore); err != nil {
		return err
	}
	if err := e.persist(ctx, rec, from, healing.ActorSystem, fmt.Sprintf("selected %s candidate at confidence %.3f", best.Strategy.Kind(), bestScore.Value)); err != nil {
		return err
	}

	return e.route(ctx, rec)
}

// selectBest scores every candidate and picks the winner. Ties break by
// higher-weighted strategy kind, then lexicographically smallest locator
// string, so repeated runs select identically.
func (e *Engine) selectBest(ctx context.Context, rec *healing.HealingRecord, cands []healing.HealingCandidate, oldNode *snapshot.UiNode, after *snapshot.UiSnapshot) (*healing.HealingCandidate, *healing.ConfidenceScore, error) {
	type scored struct {
		cand  healing.HealingCandidate
		score *healing.ConfidenceScore
	}

	results := make([]scored, 0, len(cands))
	for _, c := range cands {
		afterText := ""
		if match, err := candidate.ResolveUnique(c.Strategy, after); err == nil {
			afterText = match.Node.NormalizedText()
		}
		score, err := e.scorer.Score(ctx, rec.TenantID, &c, oldNode.NormalizedText(), afterText)
		if err != nil {
			return nil, nil, operr.NewOperationalError("scoring", rec.TenantID.String(), rec.ID.String(), err)
		}
		if !score.Breakdown.Semantic.Present {
			e.metrics.SemanticDegraded.Inc()
		}
		results = append(results, scored{cand: c, score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score.Value != results[j].score.Value {
			return results[i].score.Value > results[j].score.Value
		}
		pi := results[i].cand.Strategy.Kind().PriorWeight()
		pj := results[j].cand.Strategy.Kind().PriorWeight()
		if pi != pj {
			return pi > pj
		}
		return results[i].cand.Strategy.Locator() < results[j].cand.Strategy.Locator()
	})

	winner := results[0]
	return &winner.cand, winner.score, nil
}

// route dispatches a scored record: auto-apply, queue for approval, or
// reject, per the tenant-effective thresholds and the approval policy.
func (e *Engine) route(ctx context.Context, rec *healing.HealingRecord) error {
	eff := e.cfg.ForTenant(rec.TenantID)
	conf := rec.Score.Value

	if conf < eff.RejectThreshold {
		return e.reject(ctx, rec, fmt.Sprintf("confidence %.3f below reject threshold %.3f", conf, eff.RejectThreshold))
	}

	requiresHuman, err := e.policy.RequiresHumanApproval(rec.TenantID, rec.RiskTier, conf, eff.AutoApplyThreshold)
	if err != nil {
		// A broken policy fails safe: queue for a human.
		e.logger.Error("approval policy error, queueing for review", "record", rec.ID.String(), "error", err)
		requiresHuman = true
	}

	if conf >= eff.AutoApplyThreshold && !requiresHuman {
		from := rec.State
		if err := rec.AutoApply(); err != nil {
			return err
		}
		if err := e.persist(ctx, rec, from, healing.ActorSystem, "confidence above auto-apply threshold"); err != nil {
			return err
		}
		return e.validateAndSettle(ctx, rec, healing.ActorSystem)
	}

	from := rec.State
	if err := rec.RequireApproval(); err != nil {
		return err
	}
	reason := "queued for human approval"
	if rec.RiskTier.IsProduction() {
		reason = "production risk tier requires human approval"
	}
	if err := e.persist(ctx, rec, from, healing.ActorSystem, reason); err != nil {
		return err
	}
	e.metrics.PendingGauge.Inc()
	e.waiters.settle(rec.ID)
	return nil
}

// validateAndSettle runs validation for an applied or approved record and
// drives it to Committed, or to ValidationFailed and back into the review
// queue. A failed validation is never silently retried.
func (e *Engine) validateAndSettle(ctx context.Context, rec *healing.HealingRecord, actor string) error {
	vctx := ctx
	if e.cfg.Validation.Timeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, e.cfg.Validation.Timeout)
		defer cancel()
	}

	result, err := e.validator.Validate(vctx, rec)
	if err != nil {
		result = Validation{Passed: false, Reason: fmt.Sprintf("validation run error: %v", err)}
	}

	if result.Passed {
		return e.commit(ctx, rec, actor, result)
	}

	from := rec.State
	if err := rec.FailValidation(result.Reason); err != nil {
		return err
	}
	if err := e.persist(ctx, rec, from, healing.ActorSystem, result.Reason); err != nil {
		return err
	}

	from = rec.State
	if err := rec.DemoteForReview(); err != nil {
		return err
	}
	if err := e.persist(ctx, rec, from, healing.ActorSystem, "returned for manual review after failed validation"); err != nil {
		return err
	}
	e.metrics.PendingGauge.Inc()
	e.waiters.settle(rec.ID)
	return nil
}

// commit finalizes a validated repair transactionally and supersedes any
// older committed repair of the same step.
func (e *Engine) commit(ctx context.Context, rec *healing.HealingRecord, actor string, result Validation) error {
	eff := e.cfg.ForTenant(rec.TenantID)

	from := rec.State
	if err := rec.Commit(eff.RollbackWindow); err != nil {
		return err
	}

	reason := "validation passed, repair committed"
	if !result.ReproAvailable {
		reason = "repair committed; no reproduction recorded, validation degraded to unique-resolution check"
	}
	entry := healing.NewAuditEntry(rec, from, actor, reason)
	if err := e.ledger.CommitRepair(ctx, rec, entry); err != nil {
		return operr.NewOperationalError("commit", rec.TenantID.String(), rec.ID.String(), err)
	}
	e.metrics.Transitions.WithLabelValues(string(rec.State)).Inc()

	e.recordOutcome(ctx, rec, true)
	e.supersedeOlder(ctx, rec)

	e.logger.Info("repair committed",
		"record", rec.ID.String(),
		"tenant", rec.TenantID.String(),
		"test", rec.TestID.String(),
		"locator", rec.NewLocator(),
		"rollback_deadline", rec.RollbackDeadline)
	e.waiters.settle(rec.ID)
	return nil
}

// recordOutcome bumps the per-tenant strategy counters. At-least-once:
// a failed bump is logged, never fatal, and duplicates are tolerated.
func (e *Engine) recordOutcome(ctx context.Context, rec *healing.HealingRecord, success bool) {
	if rec.Candidate == nil || rec.Candidate.Strategy == nil {
		return
	}
	kind := rec.Candidate.Strategy.Kind()
	if err := e.history.RecordOutcome(ctx, rec.TenantID, kind, success); err != nil {
		e.logger.Warn("failed to record strategy outcome",
			"record", rec.ID.String(),
			"strategy", kind.String(),
			"error", err)
	}
}

// supersedeOlder flags earlier committed repairs of the same step.
func (e *Engine) supersedeOlder(ctx context.Context, rec *healing.HealingRecord) {
	older, err := e.records.List(ctx, healing.RecordFilter{
		Tenant: rec.TenantID,
		Test:   rec.TestID,
		States: []healing.WorkflowState{healing.StateCommitted},
	})
	if err != nil {
		e.logger.Warn("failed to list records for supersede", "record", rec.ID.String(), "error", err)
		return
	}
	for _, old := range older {
		if old.ID == rec.ID || old.StepIndex != rec.StepIndex || old.Superseded {
			continue
		}
		old.Supersede()
		if err := e.records.Save(ctx, old); err != nil {
			e.logger.Warn("failed to mark record superseded", "record", old.ID.String(), "error", err)
		}
	}
}

// sameTagOrdinal returns the node's ordinal among same-tag siblings in its
// snapshot, or 0 for the root.
func sameTagOrdinal(snap *snapshot.UiSnapshot, path []int) int {
	if len(path) == 0 {
		return 0
	}
	parent := snap.NodeAt(path[:len(path)-1])
	if parent == nil {
		return 0
	}
	idx := path[len(path)-1]
	if idx >= len(parent.Children) {
		return 0
	}
	tag := parent.Children[idx].Tag
	ordinal := 0
	for _, sib := range parent.Children[:idx] {
		if sib.Tag == tag {
			ordinal++
		}
	}
	return ordinal
}
