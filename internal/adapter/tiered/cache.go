// Package tiered layers an in-process cache over a shared one so embedding
// lookups survive restarts without paying a network hop on every hit.
package tiered

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/ModGuard/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

var errMiss = errors.New("tiered: miss")

// Cache reads L1 first and falls back to L2, copying L2 hits into L1.
// Concurrent L1 misses for one key share a single L2 read. L2 errors are
// logged and treated as misses so a shared-cache outage only costs
// recomputation.
type Cache struct {
	l1, l2   cache.Cache
	backfill time.Duration
	reads    singleflight.Group
}

// New returns a tiered cache. backfill is the L1 lifetime of entries copied
// up from L2.
func New(l1, l2 cache.Cache, backfill time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, backfill: backfill}
}

// Get returns the value for key from whichever level has it.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if val, ok, err := c.l1.Get(ctx, key); err != nil || ok {
		return val, ok, err
	}

	v, err, _ := c.reads.Do(key, func() (any, error) {
		val, ok, err := c.l2.Get(ctx, key)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "l2 cache get failed", "key", key, "error", err)
			return nil, errMiss
		case !ok:
			return nil, errMiss
		}
		if err := c.l1.Set(ctx, key, val, c.backfill); err != nil {
			slog.DebugContext(ctx, "l1 backfill failed", "key", key, "error", err)
		}
		return val, nil
	})
	if err != nil {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

// Set stores value in both levels. Only an L1 failure is returned.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		slog.WarnContext(ctx, "l2 cache set failed", "key", key, "error", err)
	}
	return nil
}

// Delete removes key from both levels, L2 first so a concurrent Get cannot
// copy the stale value back into L1.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l2.Delete(ctx, key); err != nil {
		return err
	}
	return c.l1.Delete(ctx, key)
}
