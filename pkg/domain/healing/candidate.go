package healing

import (
	"fmt"

	"github.com/jskelly/gomend/pkg/domain/types"
)

// HealingCandidate is a proposed replacement locator for one failing step.
// Candidates are created by the generator and consumed, never mutated, by
// the scorer.
type HealingCandidate struct {
	// TestID identifies the originating test.
	TestID types.TestID
	// StepIndex is the failing step within the test.
	StepIndex int
	// OldLocator is the broken locator string being replaced.
	OldLocator string
	// Strategy is the proposed replacement locator.
	Strategy LocatorStrategy
	// StructuralSimilarity is the change-region similarity from the differ.
	StructuralSimilarity float64
	// Uniqueness captures how distinctive the selector is within the
	// after-snapshot, in [0,1]. A candidate that resolves ambiguously is
	// discarded before it gets here.
	Uniqueness float64
}

// SignalName identifies one component of a confidence score.
type SignalName string

const (
	// SignalStructural is the structural-similarity signal from the differ.
	SignalStructural SignalName = "structural_similarity"
	// SignalHistorical is the per-tenant strategy success-rate signal.
	SignalHistorical SignalName = "historical_success"
	// SignalSemantic is the externally supplied semantic-similarity signal.
	SignalSemantic SignalName = "semantic_similarity"
	// SignalUniqueness is the selector-uniqueness signal.
	SignalUniqueness SignalName = "selector_uniqueness"
)

// Signal is one weighted component of a confidence score. Weight holds the
// effective weight used in the final sum (after any redistribution), and
// Present records whether the signal was available at scoring time.
type Signal struct {
	Value   float64 `json:"value"`
	Weight  float64 `json:"weight"`
	Present bool    `json:"present"`
}

// Breakdown is the full per-signal decomposition of a confidence score.
// It is retained through the audit ledger for explainability and is never
// discarded.
type Breakdown struct {
	Structural Signal `json:"structural_similarity"`
	Historical Signal `json:"historical_success"`
	Semantic   Signal `json:"semantic_similarity"`
	Uniqueness Signal `json:"selector_uniqueness"`
}

// ConfidenceScore is a normalized confidence value plus its breakdown.
type ConfidenceScore struct {
	Value     float64   `json:"value"`
	Breakdown Breakdown `json:"breakdown"`
}

// Validate checks the score is normalized and its effective weights are
// consistent.
func (c ConfidenceScore) Validate() error {
	if c.Value < 0 || c.Value > 1 {
		return fmt.Errorf("confidence value %g outside [0,1]", c.Value)
	}
	sum := 0.0
	for _, s := range []Signal{c.Breakdown.Structural, c.Breakdown.Historical, c.Breakdown.Semantic, c.Breakdown.Uniqueness} {
		if s.Present {
			sum += s.Weight
		}
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("present signal weights sum to %g, want 1.0", sum)
	}
	return nil
}
