package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jskelly/gomend/pkg/domain/healing"
)

// Store reads stored snapshots by reference. The snapshot store is owned by
// the test-execution subsystem; the engine never writes to it.
type Store interface {
	// Get loads the snapshot for a reference. A missing reference yields
	// an error matching healing.ErrSnapshotUnavailable.
	Get(ctx context.Context, ref string) (*UiSnapshot, error)
}

// DirStore serves snapshots from JSON documents under a root directory.
// A reference is a relative file path without the .json extension.
type DirStore struct {
	root string
}

// NewDirStore creates a directory-backed snapshot store.
func NewDirStore(root string) (*DirStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snapshot root %q is not a directory", root)
	}
	return &DirStore{root: root}, nil
}

// Get implements Store.
func (s *DirStore) Get(ctx context.Context, ref string) (*UiSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref == "" || strings.Contains(ref, "..") {
		return nil, &healing.SnapshotUnavailableError{Ref: ref}
	}

	path := filepath.Join(s.root, filepath.FromSlash(ref)+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &healing.SnapshotUnavailableError{Ref: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %q: %w", ref, err)
	}

	return Parse(ref, data)
}
