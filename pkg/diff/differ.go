// Package diff compares two UI snapshots and isolates the regions of
// structural change around a failing locator's target element.
package diff

import (
	"sort"

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/snapshot"
)

// Region is one area of structural change between two snapshots: a subtree
// pair plus a similarity score in [0,1]. Similarity 1.0 means identical; a
// region is only reported when similarity < 1.
type Region struct {
	// Before is the changed subtree in the last-good snapshot.
	Before *snapshot.UiNode
	// After is the corresponding subtree in the failure snapshot. Nil when
	// the subtree was removed outright.
	After *snapshot.UiNode
	// BeforePath addresses Before from the last-good snapshot root.
	BeforePath []int
	// AfterPath addresses After from the failure snapshot root.
	AfterPath []int
	// Similarity is the weighted tree edit similarity of the pair.
	Similarity float64
}

// label similarity weights: tag identity, attribute overlap, text overlap.
const (
	wTag  = 0.40
	wAttr = 0.35
	wText = 0.25
)

// alignThreshold is the minimum pairwise similarity for two child nodes to
// be considered the same element across snapshots.
const alignThreshold = 0.5

// Differ computes change regions between snapshot pairs. Tree similarity
// is memoized per (before, after) node pair, so diffing is safe to reuse
// across the candidate pipeline for one record.
type Differ struct {
	memo map[[2]*snapshot.UiNode]float64
}

// New creates a Differ.
func New() *Differ {
	return &Differ{memo: make(map[[2]*snapshot.UiNode]float64)}
}

// Diff compares two snapshots and returns the change regions, most similar
// first. oldPath is the failing locator's last successfully resolved node
// path in the before snapshot; it drives the geometric tie-break between
// equally similar regions. Identical snapshots yield zero regions.
//
// A nil snapshot yields an error matching healing.ErrSnapshotUnavailable.
func (d *Differ) Diff(before, after *snapshot.UiSnapshot, oldPath []int) ([]Region, error) {
	if before == nil || before.Root == nil {
		return nil, &healing.SnapshotUnavailableError{Ref: refOf(before)}
	}
	if after == nil || after.Root == nil {
		return nil, &healing.SnapshotUnavailableError{Ref: refOf(after)}
	}

	var regions []Region
	d.collect(before.Root, after.Root, nil, nil, &regions)

	anchor := before.NodeAt(oldPath)
	sortRegions(regions, anchor)
	return regions, nil
}

func refOf(s *snapshot.UiSnapshot) string {
	if s == nil {
		return ""
	}
	return s.Ref
}

// collect recursively localizes changes. When a subtree pair is identical
// it is pruned; when the children align cleanly the recursion descends to
// isolate the smallest changed subtrees; otherwise the pair itself is the
// change region.
func (d *Differ) collect(b, a *snapshot.UiNode, bPath, aPath []int, out *[]Region) {
	sim := d.treeSim(b, a)
	if sim >= 1.0 {
		return
	}

	pairs, unmatched := d.alignChildren(b, a)
	if labelSim(b, a) >= 1.0 && !unmatched {
		// The node itself is unchanged: the differences live in one or
		// more aligned child subtrees. Descend to localize them.
		for _, p := range pairs {
			d.collect(
				b.Children[p.bIdx], a.Children[p.aIdx],
				childPath(bPath, p.bIdx), childPath(aPath, p.aIdx),
				out,
			)
		}
		return
	}

	*out = append(*out, Region{
		Before:     b,
		After:      a,
		BeforePath: append([]int{}, bPath...),
		AfterPath:  append([]int{}, aPath...),
		Similarity: sim,
	})
}

func childPath(parent []int, idx int) []int {
	return append(append([]int{}, parent...), idx)
}

// childPair is one aligned (before child, after child) index pair.
type childPair struct {
	bIdx, aIdx int
}

// alignChildren matches the children of b against the children of a by an
// order-preserving longest-common-subsequence alignment over pairwise tree
// similarity. unmatched reports whether any child on either side found no
// counterpart (an insertion or removal).
func (d *Differ) alignChildren(b, a *snapshot.UiNode) (pairs []childPair, unmatched bool) {
	n, m := len(b.Children), len(a.Children)
	if n == 0 && m == 0 {
		return nil, false
	}

	// LCS-style DP where a "match" requires similarity above the alignment
	// threshold and scores by similarity, so the best pairing wins.
	score := make([][]float64, n+1)
	for i := range score {
		score[i] = make([]float64, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			best := score[i+1][j]
			if score[i][j+1] > best {
				best = score[i][j+1]
			}
			if s := d.treeSim(b.Children[i], a.Children[j]); s >= alignThreshold {
				if v := s + score[i+1][j+1]; v > best {
					best = v
				}
			}
			score[i][j] = best
		}
	}

	// Reconstruct the alignment.
	i, j := 0, 0
	for i < n && j < m {
		s := d.treeSim(b.Children[i], a.Children[j])
		if s >= alignThreshold && score[i][j] == s+score[i+1][j+1] {
			pairs = append(pairs, childPair{bIdx: i, aIdx: j})
			i++
			j++
			continue
		}
		if score[i+1][j] >= score[i][j+1] {
			i++
		} else {
			j++
		}
		unmatched = true
	}
	if i < n || j < m {
		unmatched = true
	}
	return pairs, unmatched
}

// treeSim is the weighted tree edit similarity of two subtrees: the node's
// own label similarity blended with the best order-preserving alignment of
// its children.
func (d *Differ) treeSim(b, a *snapshot.UiNode) float64 {
	if b == nil || a == nil {
		return 0
	}
	key := [2]*snapshot.UiNode{b, a}
	if v, ok := d.memo[key]; ok {
		return v
	}
	own := labelSim(b, a)

	n, m := len(b.Children), len(a.Children)
	var sim float64
	if n == 0 && m == 0 {
		sim = own
	} else {
		pairs, _ := d.alignChildren(b, a)
		total := 0.0
		for _, p := range pairs {
			total += d.treeSim(b.Children[p.bIdx], a.Children[p.aIdx])
		}
		denom := float64(max(n, m))
		childSim := total / denom
		sim = 0.5*own + 0.5*childSim
	}
	d.memo[key] = sim
	return sim
}

// NodeSimilarity scores two subtrees the way the differ does internally.
// The candidate generator uses it to locate the old element's counterpart
// in the failure snapshot.
func (d *Differ) NodeSimilarity(b, a *snapshot.UiNode) float64 {
	return d.treeSim(b, a)
}

// labelSim scores two nodes by tag identity, attribute overlap, and text
// similarity, ignoring their children.
func labelSim(b, a *snapshot.UiNode) float64 {
	tag := 0.0
	if b.Tag == a.Tag {
		tag = 1.0
	}
	return wTag*tag + wAttr*attrOverlap(b, a) + wText*textSim(b.NormalizedText(), a.NormalizedText())
}

// attrOverlap is the Jaccard overlap of the nodes' attribute sets, with
// role and accessible name folded in as pseudo-attributes.
func attrOverlap(b, a *snapshot.UiNode) float64 {
	bs := attrSet(b)
	as := attrSet(a)
	if len(bs) == 0 && len(as) == 0 {
		return 1.0
	}
	inter := 0
	for k := range bs {
		if _, ok := as[k]; ok {
			inter++
		}
	}
	union := len(bs) + len(as) - inter
	return float64(inter) / float64(union)
}

func attrSet(n *snapshot.UiNode) map[string]struct{} {
	set := make(map[string]struct{}, len(n.Attrs)+2)
	for k, v := range n.Attrs {
		set[k+"="+v] = struct{}{}
	}
	if n.Role != "" {
		set["role="+n.Role] = struct{}{}
	}
	if n.Name != "" {
		set["name="+n.Name] = struct{}{}
	}
	return set
}

// textSim is 1 minus the normalized Levenshtein distance of two strings.
// Two empty strings are identical.
func textSim(b, a string) float64 {
	if b == a {
		return 1.0
	}
	dist := EditDistance(b, a)
	longest := max(len([]rune(b)), len([]rune(a)))
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(longest)
}

// EditDistance returns the Levenshtein distance between two strings,
// counted in runes.
func EditDistance(s, t string) int {
	rs, rt := []rune(s), []rune(t)
	if len(rs) == 0 {
		return len(rt)
	}
	if len(rt) == 0 {
		return len(rs)
	}

	prev := make([]int, len(rt)+1)
	curr := make([]int, len(rt)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(rs); i++ {
		curr[0] = i
		for j := 1; j <= len(rt); j++ {
			cost := 1
			if rs[i-1] == rt[j-1] {
				cost = 0
			}
			curr[j] = min(min(curr[j-1]+1, prev[j]+1), prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rt)]
}

// sortRegions orders regions by descending similarity. Regions with equal
// similarity are ordered by bounding-box center distance to the anchor
// node's last known position, closest first.
func sortRegions(regions []Region, anchor *snapshot.UiNode) {
	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Similarity != regions[j].Similarity {
			return regions[i].Similarity > regions[j].Similarity
		}
		if anchor == nil {
			return false
		}
		return regionDistance(regions[i], anchor) < regionDistance(regions[j], anchor)
	})
}

func regionDistance(r Region, anchor *snapshot.UiNode) float64 {
	node := r.Before
	if node == nil {
		node = r.After
	}
	if node == nil {
		return 0
	}
	return node.Box.CenterDistance(anchor.Box)
}

// Select picks the region the failing locator's element belongs to: the
// first region (in the sorted order) whose before-path is a prefix of the
// old node path. Falls back to the first region when none contains it.
func Select(regions []Region, oldPath []int) (Region, bool) {
	if len(regions) == 0 {
		return Region{}, false
	}
	for _, r := range regions {
		if isPrefix(r.BeforePath, oldPath) {
			return r, true
		}
	}
	return regions[0], true
}

func isPrefix(prefix, path []int) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, v := range prefix {
		if path[i] != v {
			return false
		}
	}
	return true
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
