// Package candidate proposes replacement locators for a broken one, using
// five independent strategies evaluated against the failure-time snapshot.
package candidate

import (
	"log/slog"

	"github.com/jskelly/gomend/pkg/diff"
	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
	"github.com/jskelly/gomend/pkg/snapshot"
)

// stableAttrs are the attribute names treated as stable element identity,
// in preference order. Test-identifier attributes outrank plain ids only
// in documentation; generation tries them all.
var stableAttrs = []string{"data-testid", "data-test", "data-qa", "id", "name"}

// maxTextDrift is the maximum edit distance for a text anchor to count as
// near-identical across snapshots.
const maxTextDrift = 2

// Request carries everything the generator needs for one failing step.
type Request struct {
	TestID     types.TestID
	StepIndex  int
	OldLocator string
	// OldNode is the failing locator's last successfully resolved node in
	// the before snapshot.
	OldNode *snapshot.UiNode
	// OldOrdinal is OldNode's ordinal among same-tag siblings in the
	// before snapshot.
	OldOrdinal int
	// Region is the change region the old node belongs to.
	Region diff.Region
	// After is the full failure-time snapshot candidates must resolve in.
	After *snapshot.UiSnapshot
}

// Generator builds healing candidates from a change region.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator creates a candidate generator.
func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{logger: logger}
}

// Generate proposes candidates in fixed strategy order: AttributeMatch,
// AccessibilityRole, TextAnchor, HierarchicalPosition, VisualBoundingBox.
// Each candidate is checked for unique resolution against the after
// snapshot; ambiguous or non-resolving strategies are dropped, which is
// not fatal as long as another strategy survives.
func (g *Generator) Generate(req Request) []healing.HealingCandidate {
	if req.OldNode == nil || req.After == nil || req.After.Root == nil {
		return nil
	}

	target := g.findTarget(req)
	if target == nil {
		return nil
	}

	var out []healing.HealingCandidate
	for _, strategy := range g.propose(req, target) {
		match, err := ResolveUnique(strategy, req.After)
		if err != nil {
			g.logger.Debug("strategy discarded",
				"test", req.TestID,
				"strategy", strategy.Kind().String(),
				"error", err)
			continue
		}
		out = append(out, healing.HealingCandidate{
			TestID:               req.TestID,
			StepIndex:            req.StepIndex,
			OldLocator:           req.OldLocator,
			Strategy:             strategy,
			StructuralSimilarity: req.Region.Similarity,
			Uniqueness:           g.uniqueness(strategy, match, req.After),
		})
	}
	return out
}

// findTarget locates the node in the after snapshot that most plausibly is
// the old element after the UI change: the best label match inside the
// change region's after subtree, falling back to the whole snapshot when
// the region carries no after side.
func (g *Generator) findTarget(req Request) *snapshot.UiNode {
	scope := req.After
	if req.Region.After != nil {
		scope = &snapshot.UiSnapshot{Ref: req.After.Ref, Root: req.Region.After}
	}

	d := diff.New()
	var best *snapshot.UiNode
	bestSim := 0.0
	scope.Walk(func(_ []int, n *snapshot.UiNode) bool {
		sim := d.NodeSimilarity(req.OldNode, n)
		if sim > bestSim {
			bestSim = sim
			best = n
		}
		return true
	})
	if bestSim < alignFloor {
		return nil
	}
	return best
}

// alignFloor is the minimum label similarity for an after-snapshot node to
// be accepted as the relocated old element.
const alignFloor = 0.3

// propose builds the ordered strategy list for the (old, target) pair,
// applying each strategy's minimum viability rule.
func (g *Generator) propose(req Request, target *snapshot.UiNode) []healing.LocatorStrategy {
	old := req.OldNode
	var out []healing.LocatorStrategy

	// 1. AttributeMatch: a stable identifying attribute survived the
	// change with an identical value.
	for _, key := range stableAttrs {
		oldVal, okOld := old.Attr(key)
		newVal, okNew := target.Attr(key)
		if okOld && okNew && oldVal == newVal && oldVal != "" {
			out = append(out, healing.AttributeMatch{
				Tag:       target.Tag,
				Attribute: key,
				Value:     newVal,
			})
			break
		}
	}

	// 2. AccessibilityRole: role and accessible name both survived.
	if old.Role != "" && old.Role == target.Role && old.Name != "" && old.Name == target.Name {
		out = append(out, healing.AccessibilityRole{Role: target.Role, Name: target.Name})
	}

	// 3. TextAnchor: visible text unchanged or near-identical.
	oldText, newText := old.NormalizedText(), target.NormalizedText()
	if oldText != "" && newText != "" && diff.EditDistance(oldText, newText) <= maxTextDrift {
		out = append(out, healing.TextAnchor{Tag: target.Tag, Text: newText})
	}

	// 4. HierarchicalPosition: same ordinal among same-tag siblings.
	// Weak fallback only.
	if pos, ordinal, ok := positionOf(target, req.After); ok && ordinal == req.OldOrdinal {
		out = append(out, pos)
	}

	// 5. VisualBoundingBox: the element stayed roughly where it was.
	// Last resort.
	if old.Box.Overlap(target.Box) > 0 {
		out = append(out, healing.VisualBoundingBox{Box: old.Box})
	}

	return out
}

// positionOf computes the (tag, same-tag ordinal) root path of a node in a
// snapshot, plus its ordinal among same-tag siblings.
func positionOf(target *snapshot.UiNode, snap *snapshot.UiSnapshot) (healing.HierarchicalPosition, int, bool) {
	var indexPath []int
	found := false
	snap.Walk(func(path []int, n *snapshot.UiNode) bool {
		if n == target {
			indexPath = append([]int{}, path...)
			found = true
			return false
		}
		return true
	})
	if !found {
		return healing.HierarchicalPosition{}, 0, false
	}

	steps := []healing.PathStep{{Tag: snap.Root.Tag, Ordinal: 0}}
	node := snap.Root
	lastOrdinal := 0
	for _, idx := range indexPath {
		child := node.Children[idx]
		ordinal := 0
		for _, sib := range node.Children[:idx] {
			if sib.Tag == child.Tag {
				ordinal++
			}
		}
		steps = append(steps, healing.PathStep{Tag: child.Tag, Ordinal: ordinal})
		lastOrdinal = ordinal
		node = child
	}
	return healing.HierarchicalPosition{Path: steps}, lastOrdinal, true
}

// uniqueness scores how distinctive the selector is within the snapshot:
// one over the number of nodes matching a relaxed form of the strategy. A
// selector that is unique even under relaxation scores 1.0.
func (g *Generator) uniqueness(strategy healing.LocatorStrategy, match Match, snap *snapshot.UiSnapshot) float64 {
	count := 0
	switch s := strategy.(type) {
	case healing.AttributeMatch:
		snap.Walk(func(_ []int, n *snapshot.UiNode) bool {
			if _, ok := n.Attr(s.Attribute); ok {
				count++
			}
			return true
		})
	case healing.AccessibilityRole:
		snap.Walk(func(_ []int, n *snapshot.UiNode) bool {
			if n.Role == s.Role {
				count++
			}
			return true
		})
	case healing.TextAnchor:
		snap.Walk(func(_ []int, n *snapshot.UiNode) bool {
			if n.Tag == s.Tag && n.NormalizedText() != "" {
				count++
			}
			return true
		})
	case healing.HierarchicalPosition:
		depth := len(s.Path) - 1
		tag := match.Node.Tag
		snap.Walk(func(path []int, n *snapshot.UiNode) bool {
			if len(path) == depth && n.Tag == tag {
				count++
			}
			return true
		})
	case healing.VisualBoundingBox:
		snap.Walk(func(_ []int, n *snapshot.UiNode) bool {
			if len(n.Children) == 0 && n.Box.Overlap(s.Box) > 0 {
				count++
			}
			return true
		})
	}
	if count < 1 {
		count = 1
	}
	return 1.0 / float64(count)
}
