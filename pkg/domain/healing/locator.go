package healing

import (
	"encoding/json"
	"fmt"
	"math"
)

// StrategyKind identifies one of the five locator strategies.
type StrategyKind string

const (
	// KindAttributeMatch relocates by stable identifying attributes.
	KindAttributeMatch StrategyKind = "attribute_match"
	// KindAccessibilityRole relocates by accessibility role and name.
	KindAccessibilityRole StrategyKind = "accessibility_role"
	// KindTextAnchor relocates by visible text content.
	KindTextAnchor StrategyKind = "text_anchor"
	// KindHierarchicalPosition relocates by ordinal position among siblings.
	KindHierarchicalPosition StrategyKind = "hierarchical_position"
	// KindVisualBoundingBox relocates by geometric overlap. Last resort.
	KindVisualBoundingBox StrategyKind = "visual_bounding_box"
)

// strategyPriors maps each kind to its prior weight. Higher means the
// strategy is trusted more before any evidence is considered, and wins
// ties during candidate selection.
var strategyPriors = map[StrategyKind]float64{
	KindAttributeMatch:       1.0,
	KindAccessibilityRole:    0.9,
	KindTextAnchor:           0.8,
	KindHierarchicalPosition: 0.5,
	KindVisualBoundingBox:    0.3,
}

// PriorWeight returns the prior weight for the strategy kind.
// Unknown kinds return 0.
func (k StrategyKind) PriorWeight() float64 {
	return strategyPriors[k]
}

// IsValid reports whether the kind is a known strategy.
func (k StrategyKind) IsValid() bool {
	_, ok := strategyPriors[k]
	return ok
}

// String returns the string representation of the kind.
func (k StrategyKind) String() string {
	return string(k)
}

// Rect is an axis-aligned bounding box in viewport coordinates.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// CenterDistance returns the Euclidean distance between box centers.
func (r Rect) CenterDistance(o Rect) float64 {
	dx := (r.X + r.W/2) - (o.X + o.W/2)
	dy := (r.Y + r.H/2) - (o.Y + o.H/2)
	return math.Hypot(dx, dy)
}

// Overlap returns the intersection area divided by the union area,
// in [0,1]. Zero-area boxes overlap nothing.
func (r Rect) Overlap(o Rect) float64 {
	ix := math.Max(0, math.Min(r.X+r.W, o.X+o.W)-math.Max(r.X, o.X))
	iy := math.Max(0, math.Min(r.Y+r.H, o.Y+o.H)-math.Max(r.Y, o.Y))
	inter := ix * iy
	union := r.W*r.H + o.W*o.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// LocatorStrategy is a closed set of locator variants. Each variant carries
// the data needed to re-resolve an element against a snapshot. The resolver
// in pkg/candidate switches exhaustively over the concrete types.
type LocatorStrategy interface {
	// Kind identifies the variant.
	Kind() StrategyKind
	// Locator renders the canonical locator string for this strategy.
	Locator() string

	sealed()
}

// AttributeMatch relocates an element by a stable identifying attribute
// such as id or a test-identifier attribute.
type AttributeMatch struct {
	Tag       string `json:"tag,omitempty"`
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// Kind implements LocatorStrategy.
func (s AttributeMatch) Kind() StrategyKind { return KindAttributeMatch }

// Locator implements LocatorStrategy.
func (s AttributeMatch) Locator() string {
	return fmt.Sprintf("%s[%s=%q]", s.Tag, s.Attribute, s.Value)
}

func (AttributeMatch) sealed() {}

// AccessibilityRole relocates an element by its accessibility role and
// accessible name.
type AccessibilityRole struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

// Kind implements LocatorStrategy.
func (s AccessibilityRole) Kind() StrategyKind { return KindAccessibilityRole }

// Locator implements LocatorStrategy.
func (s AccessibilityRole) Locator() string {
	return fmt.Sprintf("role=%s[name=%q]", s.Role, s.Name)
}

func (AccessibilityRole) sealed() {}

// TextAnchor relocates an element by its visible text content.
type TextAnchor struct {
	Tag  string `json:"tag,omitempty"`
	Text string `json:"text"`
}

// Kind implements LocatorStrategy.
func (s TextAnchor) Kind() StrategyKind { return KindTextAnchor }

// Locator implements LocatorStrategy.
func (s TextAnchor) Locator() string {
	return fmt.Sprintf("%s:text(%q)", s.Tag, s.Text)
}

func (TextAnchor) sealed() {}

// HierarchicalPosition relocates an element by its ordinal position among
// same-tag siblings along a root path. Weak fallback only.
type HierarchicalPosition struct {
	// Path is the sequence of (tag, same-tag ordinal) steps from the root.
	Path []PathStep `json:"path"`
}

// PathStep is one step in a hierarchical position path.
type PathStep struct {
	Tag     string `json:"tag"`
	Ordinal int    `json:"ordinal"`
}

// Kind implements LocatorStrategy.
func (s HierarchicalPosition) Kind() StrategyKind { return KindHierarchicalPosition }

// Locator implements LocatorStrategy.
func (s HierarchicalPosition) Locator() string {
	out := ""
	for _, step := range s.Path {
		out += fmt.Sprintf("/%s[%d]", step.Tag, step.Ordinal)
	}
	return out
}

func (HierarchicalPosition) sealed() {}

// VisualBoundingBox relocates an element by geometric overlap with its last
// known bounding box. Lowest prior weight, last resort.
type VisualBoundingBox struct {
	Box Rect `json:"box"`
}

// Kind implements LocatorStrategy.
func (s VisualBoundingBox) Kind() StrategyKind { return KindVisualBoundingBox }

// Locator implements LocatorStrategy.
func (s VisualBoundingBox) Locator() string {
	return fmt.Sprintf("bbox(%g,%g,%g,%g)", s.Box.X, s.Box.Y, s.Box.W, s.Box.H)
}

func (VisualBoundingBox) sealed() {}

// strategyEnvelope is the persisted wire form of a LocatorStrategy.
type strategyEnvelope struct {
	Kind StrategyKind    `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalStrategy encodes a strategy with its kind tag for persistence.
func MarshalStrategy(s LocatorStrategy) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot marshal nil strategy")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s strategy: %w", s.Kind(), err)
	}
	return json.Marshal(strategyEnvelope{Kind: s.Kind(), Data: data})
}

// UnmarshalStrategy decodes a strategy previously encoded by MarshalStrategy.
func UnmarshalStrategy(data []byte) (LocatorStrategy, error) {
	var env strategyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode strategy envelope: %w", err)
	}

	var (
		s   LocatorStrategy
		err error
	)
	switch env.Kind {
	case KindAttributeMatch:
		var v AttributeMatch
		err = json.Unmarshal(env.Data, &v)
		s = v
	case KindAccessibilityRole:
		var v AccessibilityRole
		err = json.Unmarshal(env.Data, &v)
		s = v
	case KindTextAnchor:
		var v TextAnchor
		err = json.Unmarshal(env.Data, &v)
		s = v
	case KindHierarchicalPosition:
		var v HierarchicalPosition
		err = json.Unmarshal(env.Data, &v)
		s = v
	case KindVisualBoundingBox:
		var v VisualBoundingBox
		err = json.Unmarshal(env.Data, &v)
		s = v
	default:
		return nil, fmt.Errorf("unknown strategy kind: %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s strategy: %w", env.Kind, err)
	}
	return s, nil
}
