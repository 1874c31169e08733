package external

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore keeps the bytes of recently fetched objects in an LRU keyed by
// object key. Opening a store reads the same array metadata more than once
// (group probes, coordinate and time-encoding lookups, lat/lon existence
// checks); those repeats are served from memory. Objects larger than the
// configured limit, typically data chunks, pass through uncached.
type CachedStore struct {
	store    ObjectStore
	lru      *lru.Cache[string, []byte]
	maxBytes int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedStore wraps store with an LRU of up to size objects, each at most
// maxBytes long (0 means no limit). A size of zero returns store unchanged.
func NewCachedStore(store ObjectStore, size, maxBytes int) (ObjectStore, error) {
	if size <= 0 {
		return store, nil
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{store: store, lru: c, maxBytes: maxBytes}, nil
}

// GetObject returns the cached bytes for key or fetches them from the
// underlying store. Errors are never cached.
func (c *CachedStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	if data, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	c.misses.Add(1)

	data, err := ReadAll(ctx, c.store, key)
	if err != nil {
		return nil, err
	}
	if c.maxBytes <= 0 || len(data) <= c.maxBytes {
		c.lru.Add(key, data)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Stats returns the number of cache hits and misses so far.
func (c *CachedStore) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached objects.
func (c *CachedStore) Len() int { return c.lru.Len() }
