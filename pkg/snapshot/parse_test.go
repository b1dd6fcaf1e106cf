package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginDoc = `{
	"captured_at": "2026-08-20T14:03:00Z",
	"root": {
		"tag": "root",
		"children": [
			{
				"tag": "form",
				"attrs": {"id": "login"},
				"children": [
					{
						"tag": "input",
						"role": "textbox",
						"name": "Email",
						"attrs": {"name": "email"},
						"box": {"x": 10, "y": 20, "w": 200, "h": 32}
					},
					{
						"tag": "button",
						"role": "button",
						"name": "Sign in",
						"text": "  Sign   in  ",
						"attrs": {"data-testid": "login-submit"}
					}
				]
			}
		]
	}
}`

func TestParse(t *testing.T) {
	snap, err := Parse("run-7/step-3", []byte(loginDoc))
	require.NoError(t, err)

	assert.Equal(t, "run-7/step-3", snap.Ref)
	assert.Equal(t, "2026-08-20T14:03:00Z", snap.CapturedAt)
	require.NotNil(t, snap.Root)
	assert.Equal(t, "root", snap.Root.Tag)
	assert.Equal(t, 4, snap.Root.Size())

	input := snap.NodeAt([]int{0, 0})
	require.NotNil(t, input)
	assert.Equal(t, "input", input.Tag)
	assert.Equal(t, "textbox", input.Role)
	assert.InDelta(t, 200.0, input.Box.W, 1e-9)

	v, ok := input.Attr("name")
	assert.True(t, ok)
	assert.Equal(t, "email", v)
	_, ok = input.Attr("missing")
	assert.False(t, ok)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"not json", "{{"},
		{"missing root", `{"captured_at": "now"}`},
		{"node without tag", `{"root": {"role": "button"}}`},
		{"empty tag", `{"root": {"tag": ""}}`},
		{"attrs wrong type", `{"root": {"tag": "div", "attrs": {"id": 7}}}`},
		{"negative box size", `{"root": {"tag": "div", "box": {"w": -1, "h": 5}}}`},
		{"child without tag", `{"root": {"tag": "div", "children": [{"text": "x"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad", []byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	snap, err := Parse("orig", []byte(loginDoc))
	require.NoError(t, err)

	data, err := Encode(snap)
	require.NoError(t, err)

	again, err := Parse("copy", data)
	require.NoError(t, err)
	assert.Equal(t, snap.Root, again.Root)
	assert.Equal(t, snap.CapturedAt, again.CapturedAt)
}

func TestNodeAt(t *testing.T) {
	snap, err := Parse("s", []byte(loginDoc))
	require.NoError(t, err)

	assert.Same(t, snap.Root, snap.NodeAt(nil))
	assert.Equal(t, "button", snap.NodeAt([]int{0, 1}).Tag)
	assert.Nil(t, snap.NodeAt([]int{0, 2}))
	assert.Nil(t, snap.NodeAt([]int{-1}))
	assert.Nil(t, snap.NodeAt([]int{0, 0, 0}))

	var empty *UiSnapshot
	assert.Nil(t, empty.NodeAt(nil))
}

func TestWalkVisitsDepthFirst(t *testing.T) {
	snap, err := Parse("s", []byte(loginDoc))
	require.NoError(t, err)

	var tags []string
	var paths [][]int
	snap.Walk(func(path []int, n *UiNode) bool {
		tags = append(tags, n.Tag)
		paths = append(paths, append([]int{}, path...))
		return true
	})

	assert.Equal(t, []string{"root", "form", "input", "button"}, tags)
	assert.Equal(t, [][]int{{}, {0}, {0, 0}, {0, 1}}, paths)

	// Early stop.
	count := 0
	snap.Walk(func([]int, *UiNode) bool {
		count++
		return count < 2
	})
	assert.Equal(t, 2, count)
}

func TestPathTo(t *testing.T) {
	snap, err := Parse("s", []byte(loginDoc))
	require.NoError(t, err)

	button := snap.NodeAt([]int{0, 1})
	path, ok := snap.PathTo(button)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1}, path)

	path, ok = snap.PathTo(snap.Root)
	require.True(t, ok)
	assert.Empty(t, path)

	_, ok = snap.PathTo(&UiNode{Tag: "button"})
	assert.False(t, ok)
	_, ok = snap.PathTo(nil)
	assert.False(t, ok)
}

func TestNormalizedText(t *testing.T) {
	snap, err := Parse("s", []byte(loginDoc))
	require.NoError(t, err)

	button := snap.NodeAt([]int{0, 1})
	require.NotNil(t, button)
	assert.Equal(t, "Sign in", button.NormalizedText())

	assert.Empty(t, (&UiNode{Tag: "div"}).NormalizedText())
}

func TestAttrKeysSorted(t *testing.T) {
	n := &UiNode{Tag: "div", Attrs: map[string]string{"z": "1", "a": "2", "m": "3"}}
	assert.Equal(t, []string{"a", "m", "z"}, n.AttrKeys())
}
