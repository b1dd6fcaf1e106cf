package candidate

import (
	"fmt"

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/snapshot"
)

// minBoxOverlap is the intersection-over-union a node must share with a
// VisualBoundingBox strategy's box to count as a match.
const minBoxOverlap = 0.5

// Match is one node a strategy resolved to.
type Match struct {
	Path []int
	Node *snapshot.UiNode
}

// Resolve evaluates a locator strategy against a snapshot and returns every
// matching node. The switch is exhaustive over the strategy variants; an
// unknown variant is a programming error.
func Resolve(strategy healing.LocatorStrategy, snap *snapshot.UiSnapshot) ([]Match, error) {
	if strategy == nil {
		return nil, fmt.Errorf("cannot resolve nil strategy")
	}
	if snap == nil || snap.Root == nil {
		return nil, &healing.SnapshotUnavailableError{}
	}

	var matches []Match
	switch s := strategy.(type) {
	case healing.AttributeMatch:
		snap.Walk(func(path []int, n *snapshot.UiNode) bool {
			if s.Tag != "" && n.Tag != s.Tag {
				return true
			}
			if v, ok := n.Attr(s.Attribute); ok && v == s.Value {
				matches = append(matches, Match{Path: append([]int{}, path...), Node: n})
			}
			return true
		})

	case healing.AccessibilityRole:
		snap.Walk(func(path []int, n *snapshot.UiNode) bool {
			if n.Role == s.Role && n.Name == s.Name {
				matches = append(matches, Match{Path: append([]int{}, path...), Node: n})
			}
			return true
		})

	case healing.TextAnchor:
		snap.Walk(func(path []int, n *snapshot.UiNode) bool {
			if s.Tag != "" && n.Tag != s.Tag {
				return true
			}
			if n.NormalizedText() != "" && n.NormalizedText() == s.Text {
				matches = append(matches, Match{Path: append([]int{}, path...), Node: n})
			}
			return true
		})

	case healing.HierarchicalPosition:
		if m, ok := resolvePosition(s, snap); ok {
			matches = append(matches, m)
		}

	case healing.VisualBoundingBox:
		snap.Walk(func(path []int, n *snapshot.UiNode) bool {
			if len(n.Children) == 0 && n.Box.Overlap(s.Box) >= minBoxOverlap {
				matches = append(matches, Match{Path: append([]int{}, path...), Node: n})
			}
			return true
		})

	default:
		return nil, fmt.Errorf("unknown strategy variant %T", strategy)
	}

	return matches, nil
}

// resolvePosition walks a (tag, same-tag ordinal) path from the root. Each
// step selects the Nth child with the given tag; the walk fails if any
// step is missing.
func resolvePosition(s healing.HierarchicalPosition, snap *snapshot.UiSnapshot) (Match, bool) {
	if len(s.Path) == 0 {
		return Match{}, false
	}
	if snap.Root.Tag != s.Path[0].Tag || s.Path[0].Ordinal != 0 {
		return Match{}, false
	}

	node := snap.Root
	var path []int
	for _, step := range s.Path[1:] {
		found := false
		seen := 0
		for i, c := range node.Children {
			if c.Tag != step.Tag {
				continue
			}
			if seen == step.Ordinal {
				node = c
				path = append(path, i)
				found = true
				break
			}
			seen++
		}
		if !found {
			return Match{}, false
		}
	}
	return Match{Path: path, Node: node}, true
}

// ResolveUnique resolves a strategy and requires exactly one match.
// Ambiguity renders the strategy unusable, not merely low-confidence.
func ResolveUnique(strategy healing.LocatorStrategy, snap *snapshot.UiSnapshot) (Match, error) {
	matches, err := Resolve(strategy, snap)
	if err != nil {
		return Match{}, err
	}
	if len(matches) == 0 {
		return Match{}, fmt.Errorf("strategy %s resolved no nodes", strategy.Kind())
	}
	if len(matches) > 1 {
		return Match{}, &healing.AmbiguousCandidateError{Kind: strategy.Kind(), Matches: len(matches)}
	}
	return matches[0], nil
}
