package engine

import (
	"context"
	"fmt"

	"github.com/jskelly/gomend/pkg/candidate"
	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/snapshot"
)

// Validation is the outcome of a post-apply validation run.
type Validation struct {
	// Passed reports whether the repaired test is considered fixed.
	Passed bool
	// ReproAvailable reports whether a known-bad reproduction existed for
	// the test. When false, validation degraded to the resolve-only check.
	ReproAvailable bool
	// Reason explains a failure, for the review queue.
	Reason string
}

// Validator verifies a repair before it is committed. Implementations run
// the affected test with the new locator plus, when one is recorded, a
// known-bad reproduction to check the fix does not merely mask the
// original defect.
type Validator interface {
	Validate(ctx context.Context, rec *healing.HealingRecord) (Validation, error)
}

// ReproRunner replays a previously recorded failing scenario. It is an
// optional collaborator: not every test has a recorded reproduction.
type ReproRunner interface {
	// HasRepro reports whether a reproduction is recorded for the test.
	HasRepro(ctx context.Context, rec *healing.HealingRecord) bool
	// RunRepro replays the reproduction with the repaired locator and
	// reports whether the original defect stayed fixed.
	RunRepro(ctx context.Context, rec *healing.HealingRecord) (bool, error)
}

// ResolveValidator is the default validator: it checks the chosen strategy
// still resolves to exactly one node in the failure snapshot, and runs the
// reproduction when a runner is configured and has one. Absence of a
// reproduction is a valid, non-fatal state; validation then degrades to
// the uniqueness check alone.
type ResolveValidator struct {
	snapshots snapshot.Store
	repro     ReproRunner
}

// NewResolveValidator creates the default validator. repro may be nil.
func NewResolveValidator(snapshots snapshot.Store, repro ReproRunner) *ResolveValidator {
	return &ResolveValidator{snapshots: snapshots, repro: repro}
}

// Validate implements Validator.
func (v *ResolveValidator) Validate(ctx context.Context, rec *healing.HealingRecord) (Validation, error) {
	if rec.Candidate == nil || rec.Candidate.Strategy == nil {
		return Validation{}, fmt.Errorf("record %s has no candidate to validate", rec.ID)
	}

	snap, err := v.snapshots.Get(ctx, rec.FailureSnapshot)
	if err != nil {
		return Validation{}, err
	}

	if _, err := candidate.ResolveUnique(rec.Candidate.Strategy, snap); err != nil {
		return Validation{
			Passed: false,
			Reason: fmt.Sprintf("new locator no longer resolves uniquely: %v", err),
		}, nil
	}

	if v.repro == nil || !v.repro.HasRepro(ctx, rec) {
		return Validation{Passed: true, ReproAvailable: false}, nil
	}

	fixed, err := v.repro.RunRepro(ctx, rec)
	if err != nil {
		return Validation{
			Passed:         false,
			ReproAvailable: true,
			Reason:         fmt.Sprintf("reproduction run failed: %v", err),
		}, nil
	}
	if !fixed {
		return Validation{
			Passed:         false,
			ReproAvailable: true,
			Reason:         "reproduction still fails with the new locator",
		}, nil
	}
	return Validation{Passed: true, ReproAvailable: true}, nil
}
