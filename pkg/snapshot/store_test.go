package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jskelly/gomend/pkg/domain/healing"
)

func writeSnapshot(t *testing.T, root, ref, doc string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(ref)+".json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
}

func TestDirStoreGet(t *testing.T) {
	root := t.TempDir()
	writeSnapshot(t, root, "run-7/step-3", loginDoc)

	store, err := NewDirStore(root)
	require.NoError(t, err)

	snap, err := store.Get(context.Background(), "run-7/step-3")
	require.NoError(t, err)
	assert.Equal(t, "run-7/step-3", snap.Ref)
	assert.Equal(t, "button", snap.NodeAt([]int{0, 1}).Tag)
}

func TestDirStoreMissingRef(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "run-7/step-9")
	require.Error(t, err)
	assert.ErrorIs(t, err, healing.ErrSnapshotUnavailable)

	var unavailable *healing.SnapshotUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "run-7/step-9", unavailable.Ref)
}

func TestDirStoreRejectsTraversal(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	for _, ref := range []string{"", "../etc/passwd", "run/../../secret"} {
		_, err := store.Get(context.Background(), ref)
		assert.ErrorIs(t, err, healing.ErrSnapshotUnavailable, "ref %q", ref)
	}
}

func TestDirStoreInvalidDocument(t *testing.T) {
	root := t.TempDir()
	writeSnapshot(t, root, "broken", `{"captured_at": "no root"}`)

	store, err := NewDirStore(root)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, healing.ErrSnapshotUnavailable, "a present but malformed document is not an availability failure")
}

func TestDirStoreCancelledContext(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Get(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewDirStoreValidation(t *testing.T) {
	_, err := NewDirStore(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = NewDirStore(file)
	assert.Error(t, err)
}
