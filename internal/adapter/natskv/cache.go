// Package natskv implements the cache port and the checkpoint store on
// NATS JetStream key-value buckets.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/ModGuard/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Cache wraps a JetStream KeyValue bucket as the shared L2 cache.
type Cache struct {
	kv jetstream.KeyValue
}

// New creates a NATS KV-backed cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natskv get %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

// Set stores a value. The TTL is a property of the bucket, not the entry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := c.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("natskv put %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("natskv delete %s: %w", key, err)
	}
	return nil
}
