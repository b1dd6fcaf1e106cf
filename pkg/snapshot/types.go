// Package snapshot models structural UI snapshots and their storage.
//
// A snapshot is an ordered tree of nodes captured at one point in time for
// one test step. Snapshots are immutable once stored: the engine only ever
// reads them.
package snapshot

import (
	"sort"
	"strings"

	"github.com/jskelly/gomend/pkg/domain/healing"
)

// UiNode is one element in a UI snapshot tree.
type UiNode struct {
	// Tag is the element tag or widget type.
	Tag string `json:"tag"`
	// Role is the accessibility role, if any.
	Role string `json:"role,omitempty"`
	// Name is the accessible name, if any.
	Name string `json:"name,omitempty"`
	// Attrs holds the element's attributes.
	Attrs map[string]string `json:"attrs,omitempty"`
	// Text is the element's own visible text content.
	Text string `json:"text,omitempty"`
	// Box is the element's bounding box in viewport coordinates.
	Box healing.Rect `json:"box"`
	// Children are the ordered child nodes.
	Children []*UiNode `json:"children,omitempty"`
}

// UiSnapshot is an immutable structural snapshot of a UI for one test step.
type UiSnapshot struct {
	// Ref is the storage reference this snapshot was loaded from.
	Ref string `json:"ref"`
	// CapturedAt is the capture timestamp as reported by the recorder.
	CapturedAt string `json:"captured_at,omitempty"`
	// Root is the root of the node tree.
	Root *UiNode `json:"root"`
}

// NodeAt returns the node addressed by a child-index path from the root,
// or nil if the path does not exist. An empty path addresses the root.
func (s *UiSnapshot) NodeAt(path []int) *UiNode {
	if s == nil || s.Root == nil {
		return nil
	}
	node := s.Root
	for _, idx := range path {
		if idx < 0 || idx >= len(node.Children) {
			return nil
		}
		node = node.Children[idx]
	}
	return node
}

// Walk visits every node in depth-first order together with its
// child-index path. The visitor returns false to stop early.
func (s *UiSnapshot) Walk(visit func(path []int, n *UiNode) bool) {
	if s == nil || s.Root == nil {
		return
	}
	walk(nil, s.Root, visit)
}

func walk(path []int, n *UiNode, visit func(path []int, n *UiNode) bool) bool {
	if !visit(path, n) {
		return false
	}
	for i, c := range n.Children {
		child := append(append([]int{}, path...), i)
		if !walk(child, c, visit) {
			return false
		}
	}
	return true
}

// PathTo returns the child-index path of a node within the snapshot, by
// pointer identity. The second result is false when the node is not part
// of this tree.
func (s *UiSnapshot) PathTo(target *UiNode) ([]int, bool) {
	if target == nil {
		return nil, false
	}
	var found []int
	ok := false
	s.Walk(func(path []int, n *UiNode) bool {
		if n == target {
			found = append([]int{}, path...)
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// Size returns the number of nodes in the subtree rooted at n.
func (n *UiNode) Size() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += c.Size()
	}
	return total
}

// Attr returns the attribute value and whether it is set.
func (n *UiNode) Attr(key string) (string, bool) {
	v, ok := n.Attrs[key]
	return v, ok
}

// AttrKeys returns the node's attribute names in sorted order.
func (n *UiNode) AttrKeys() []string {
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizedText returns the node text with surrounding and internal runs
// of whitespace collapsed, for tolerant comparison.
func (n *UiNode) NormalizedText() string {
	return strings.Join(strings.Fields(n.Text), " ")
}
