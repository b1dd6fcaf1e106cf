// Package scoring combines structural, historical, semantic, and
// uniqueness signals into one normalized confidence value per candidate.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
)

// minHistorySamples is the sample count below which the historical signal
// falls back to the neutral rate.
const minHistorySamples = 10

// neutralRate is the historical success rate assumed when too few samples
// exist for a (tenant, strategy kind) pair.
const neutralRate = 0.5

// Weights holds the relative weight of each scoring signal. Weights must
// sum to 1.0.
type Weights struct {
	Structural float64 `yaml:"structural"`
	Historical float64 `yaml:"historical"`
	Semantic   float64 `yaml:"semantic"`
	Uniqueness float64 `yaml:"uniqueness"`
}

// DefaultWeights returns the default signal weights.
func DefaultWeights() Weights {
	return Weights{
		Structural: 0.4,
		Historical: 0.3,
		Semantic:   0.2,
		Uniqueness: 0.1,
	}
}

// Validate checks the weights are non-negative and sum to 1.0.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"structural": w.Structural,
		"historical": w.Historical,
		"semantic":   w.Semantic,
		"uniqueness": w.Uniqueness,
	} {
		if v < 0 {
			return fmt.Errorf("scoring weight %s cannot be negative", name)
		}
	}
	sum := w.Structural + w.Historical + w.Semantic + w.Uniqueness
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("scoring weights sum to %g, want 1.0", sum)
	}
	return nil
}

// Scorer computes confidence scores for healing candidates.
type Scorer struct {
	weights  Weights
	history  healing.HistoryStore
	semantic SemanticProvider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewScorer creates a scorer. The semantic provider may be nil, in which
// case the semantic signal is always absent and its weight redistributed.
func NewScorer(weights Weights, history healing.HistoryStore, semantic SemanticProvider, timeout time.Duration, logger *slog.Logger) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if history == nil {
		return nil, fmt.Errorf("history store cannot be nil")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		weights:  weights,
		history:  history,
		semantic: semantic,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Score computes the confidence for one candidate. beforeText and
// afterText feed the external semantic-similarity signal; on timeout or
// provider error that signal is marked absent and its weight is
// redistributed proportionally across the present signals. Confidence is
// never zeroed for a missing semantic signal alone, but the breakdown
// records the absence explicitly.
func (s *Scorer) Score(ctx context.Context, tenant types.TenantID, cand *healing.HealingCandidate, beforeText, afterText string) (*healing.ConfidenceScore, error) {
	if cand == nil {
		return nil, fmt.Errorf("cannot score nil candidate")
	}

	breakdown := healing.Breakdown{
		Structural: healing.Signal{Value: clamp01(cand.StructuralSimilarity), Present: true},
		Uniqueness: healing.Signal{Value: clamp01(cand.Uniqueness), Present: true},
		Historical: healing.Signal{Value: s.historicalRate(ctx, tenant, cand.Strategy.Kind()), Present: true},
	}

	if value, ok := s.semanticScore(ctx, tenant, beforeText, afterText); ok {
		breakdown.Semantic = healing.Signal{Value: clamp01(value), Present: true}
	}

	return combine(s.weights, breakdown), nil
}

// historicalRate queries the per-(tenant, strategy kind) success rate over
// the rolling window. Sparse history and store failures both degrade to
// the neutral rate rather than blocking scoring.
func (s *Scorer) historicalRate(ctx context.Context, tenant types.TenantID, kind healing.StrategyKind) float64 {
	rate, samples, err := s.history.SuccessRate(ctx, tenant, kind)
	if err != nil {
		s.logger.Warn("history store unavailable, using neutral rate",
			"tenant", tenant.String(),
			"strategy", kind.String(),
			"error", err)
		return neutralRate
	}
	if samples < minHistorySamples {
		return neutralRate
	}
	return clamp01(rate)
}

// semanticScore calls the external provider under the configured timeout.
// The second return is false when the signal is absent.
func (s *Scorer) semanticScore(ctx context.Context, tenant types.TenantID, beforeText, afterText string) (float64, bool) {
	if s.semantic == nil {
		return 0, false
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := s.semantic.Score(callCtx, beforeText, afterText)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &healing.SignalTimeoutError{Signal: healing.SignalSemantic, Timeout: s.timeout}
		}
		s.logger.Warn("semantic signal degraded",
			"tenant", tenant.String(),
			"error", err)
		return 0, false
	}
	return value, true
}

// combine folds the breakdown into a final value, redistributing the
// weight of absent signals proportionally across present ones.
func combine(w Weights, b healing.Breakdown) *healing.ConfidenceScore {
	base := map[healing.SignalName]float64{
		healing.SignalStructural: w.Structural,
		healing.SignalHistorical: w.Historical,
		healing.SignalSemantic:   w.Semantic,
		healing.SignalUniqueness: w.Uniqueness,
	}
	signals := map[healing.SignalName]*healing.Signal{
		healing.SignalStructural: &b.Structural,
		healing.SignalHistorical: &b.Historical,
		healing.SignalSemantic:   &b.Semantic,
		healing.SignalUniqueness: &b.Uniqueness,
	}

	presentWeight := 0.0
	for name, sig := range signals {
		if sig.Present {
			presentWeight += base[name]
		}
	}
	if presentWeight <= 0 {
		return &healing.ConfidenceScore{Breakdown: b}
	}

	value := 0.0
	for name, sig := range signals {
		if !sig.Present {
			sig.Weight = 0
			continue
		}
		sig.Weight = base[name] / presentWeight
		value += sig.Value * sig.Weight
	}

	return &healing.ConfidenceScore{Value: clamp01(value), Breakdown: b}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
