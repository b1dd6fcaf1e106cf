package healing

import (
	"errors"
	"fmt"
	"time"

	"github.com/jskelly/gomend/pkg/domain/types"
)

// Sentinel errors for errors.Is matching. The struct types below carry the
// contextual fields; they all match their sentinel.
var (
	// ErrSnapshotUnavailable indicates a required snapshot is missing.
	// Non-retryable: the record routes to Rejected.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
	// ErrAmbiguousCandidate indicates a strategy resolved to more than one
	// node. The strategy is discarded; other strategies may still succeed.
	ErrAmbiguousCandidate = errors.New("ambiguous candidate")
	// ErrScoringSignalTimeout indicates the external semantic-similarity
	// call exceeded its deadline. The signal degrades, scoring continues.
	ErrScoringSignalTimeout = errors.New("scoring signal timeout")
	// ErrValidationFailure indicates the post-apply validation run failed.
	ErrValidationFailure = errors.New("validation failure")
	// ErrDuplicateDecision indicates a decision was already recorded.
	ErrDuplicateDecision = errors.New("duplicate decision")
	// ErrRollbackWindowExpired indicates the rollback deadline has passed.
	ErrRollbackWindowExpired = errors.New("rollback window expired")
	// ErrInvalidTransition indicates an illegal workflow state transition.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrRecordNotFound indicates no healing record exists for the id.
	ErrRecordNotFound = errors.New("healing record not found")
)

// SnapshotUnavailableError reports a missing snapshot reference.
type SnapshotUnavailableError struct {
	Ref string
}

// Error implements the error interface.
func (e *SnapshotUnavailableError) Error() string {
	return fmt.Sprintf("snapshot unavailable: ref %q", e.Ref)
}

// Is matches ErrSnapshotUnavailable.
func (e *SnapshotUnavailableError) Is(target error) bool {
	return target == ErrSnapshotUnavailable
}

// AmbiguousCandidateError reports a strategy that resolved non-uniquely.
type AmbiguousCandidateError struct {
	Kind    StrategyKind
	Matches int
}

// Error implements the error interface.
func (e *AmbiguousCandidateError) Error() string {
	return fmt.Sprintf("ambiguous candidate: %s strategy matched %d nodes", e.Kind, e.Matches)
}

// Is matches ErrAmbiguousCandidate.
func (e *AmbiguousCandidateError) Is(target error) bool {
	return target == ErrAmbiguousCandidate
}

// SignalTimeoutError reports an external scoring signal that did not answer
// within its configured deadline.
type SignalTimeoutError struct {
	Signal  SignalName
	Timeout time.Duration
}

// Error implements the error interface.
func (e *SignalTimeoutError) Error() string {
	return fmt.Sprintf("scoring signal timeout: %s did not answer within %s", e.Signal, e.Timeout)
}

// Is matches ErrScoringSignalTimeout.
func (e *SignalTimeoutError) Is(target error) bool {
	return target == ErrScoringSignalTimeout
}

// TransitionError reports an illegal state transition attempt. It carries
// the record id and current state so callers never have to guess which
// record refused the operation.
type TransitionError struct {
	RecordID types.RecordID
	From     WorkflowState
	To       WorkflowState
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: record %s cannot move %s -> %s", e.RecordID, e.From, e.To)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// DuplicateDecisionError reports a second decision on an already-decided
// record. The record state is left unchanged.
type DuplicateDecisionError struct {
	RecordID types.RecordID
	State    WorkflowState
}

// Error implements the error interface.
func (e *DuplicateDecisionError) Error() string {
	return fmt.Sprintf("duplicate decision: record %s already decided (state %s)", e.RecordID, e.State)
}

// Is matches ErrDuplicateDecision.
func (e *DuplicateDecisionError) Is(target error) bool {
	return target == ErrDuplicateDecision
}

// RollbackExpiredError reports a rollback attempt after the deadline.
type RollbackExpiredError struct {
	RecordID types.RecordID
	Deadline time.Time
}

// Error implements the error interface.
func (e *RollbackExpiredError) Error() string {
	return fmt.Sprintf("rollback window expired: record %s deadline was %s", e.RecordID, e.Deadline.Format(time.RFC3339))
}

// Is matches ErrRollbackWindowExpired.
func (e *RollbackExpiredError) Is(target error) bool {
	return target == ErrRollbackWindowExpired
}

// ValidationError reports a failed validation run for a record.
type ValidationError struct {
	RecordID types.RecordID
	Reason   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failure: record %s: %s", e.RecordID, e.Reason)
}

// Is matches ErrValidationFailure.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailure
}
