// Package external provides the anti-corruption layer between the extraction
// pipeline and the object stores that hold the climate projections. Every
// read of array metadata, chunks and auxiliary files goes through an
// ObjectStore, so the same readers work against the public S3 endpoint and
// against a local mirror on disk.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"chessscape/internal/types"
)

// ErrObjectNotFound is returned when a key does not exist in the store.
// Zarr readers treat it as an unwritten chunk rather than a failure.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore abstracts keyed object retrieval for testability.
type ObjectStore interface {
	// GetObject returns the object body for key. Keys use forward slashes
	// regardless of the backing store.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
}

// ReadAll fetches key and returns its full contents.
func ReadAll(ctx context.Context, store ObjectStore, key string) ([]byte, error) {
	body, err := store.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeSourceUnavailable,
			fmt.Sprintf("failed to read object body %s", key),
			err,
		)
	}
	return data, nil
}

// DirStore serves objects from a directory tree.
type DirStore struct {
	root string
}

// NewDirStore creates a DirStore rooted at root.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

// Root returns the directory the store reads from.
func (d *DirStore) Root() string { return d.root }

// GetObject opens the file named by key below the root.
func (d *DirStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := path.Clean(key)
	if !filepath.IsLocal(filepath.FromSlash(clean)) {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidSource,
			fmt.Sprintf("key %q escapes the store root", key),
			nil,
		)
	}

	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(clean)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return nil, types.NewAppError(
			types.ErrCodeSourceUnavailable,
			fmt.Sprintf("failed to open %s", key),
			err,
		)
	}
	return f, nil
}

// Prefixed scopes a store to the keys below prefix.
func Prefixed(store ObjectStore, prefix string) ObjectStore {
	if prefix == "" {
		return store
	}
	return &prefixedStore{store: store, prefix: prefix}
}

type prefixedStore struct {
	store  ObjectStore
	prefix string
}

func (p *prefixedStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	return p.store.GetObject(ctx, path.Join(p.prefix, key))
}

// MemStore is an in-memory ObjectStore. It backs tests and small fixtures.
type MemStore struct {
	objects map[string][]byte
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

// Put stores data under key. It is not safe for use concurrently with reads.
func (m *MemStore) Put(key string, data []byte) {
	m.objects[key] = data
}

// GetObject returns the stored bytes for key.
func (m *MemStore) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
