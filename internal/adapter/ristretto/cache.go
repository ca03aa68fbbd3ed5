// Package ristretto implements the cache port as an in-process L1 cache
// for embedding vectors.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/ModGuard/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Cache wraps a cost-bounded ristretto cache. Values are copied on the
// way in and out so callers can reuse their buffers.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache holding at most maxSizeMB megabytes of values.
func New(maxSizeMB int) (*Cache, error) {
	if maxSizeMB <= 0 {
		return nil, fmt.Errorf("ristretto: max size must be positive, got %d", maxSizeMB)
	}
	maxCost := int64(maxSizeMB) << 20
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// A 1536-dim float32 embedding is 6 KiB; count ~10x the entries that fit.
		NumCounters: maxCost / 6144 * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return append([]byte(nil), val...), true, nil
}

// Set admits value asynchronously; a following Get may still miss until
// Wait returns.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, append([]byte(nil), value...), int64(len(value)), ttl)
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() { c.c.Wait() }

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
