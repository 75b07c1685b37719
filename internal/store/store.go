// Package store persists scene snapshots.
package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/hexworld/server/internal/network"
	"github.com/hexworld/server/internal/state"
)

// ErrSnapshotVersion is returned when a stored snapshot was written by an
// incompatible version.
var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// SceneStore loads and saves scene snapshots.
type SceneStore interface {
	Load(ctx context.Context) (state.Snapshot, error)
	Save(ctx context.Context, snap state.Snapshot) error
}

// FileStore keeps one snapshot in a single file as lz4-compressed msgpack.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the snapshot. A missing file is reported as an error wrapping
// os.ErrNotExist.
func (f *FileStore) Load(ctx context.Context) (state.Snapshot, error) {
	var snap state.Snapshot
	if err := ctx.Err(); err != nil {
		return snap, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return snap, errors.Wrap(err, "read snapshot")
	}
	raw, err := network.Decompress(data)
	if err != nil {
		return snap, errors.Wrapf(err, "snapshot %s", f.path)
	}
	if err := network.Unmarshal(raw, &snap); err != nil {
		return snap, errors.Wrapf(err, "decode snapshot %s", f.path)
	}
	if snap.Version != state.SnapshotVersion {
		return state.Snapshot{}, errors.Wrapf(ErrSnapshotVersion, "got %d, want %d", snap.Version, state.SnapshotVersion)
	}
	return snap, nil
}

// Save writes the snapshot atomically: readers see either the old file or
// the new one.
func (f *FileStore) Save(ctx context.Context, snap state.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap.Version = state.SnapshotVersion

	raw, err := network.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	data, err := network.Compress(raw)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create snapshot")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close snapshot")
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.path), "replace snapshot")
}
