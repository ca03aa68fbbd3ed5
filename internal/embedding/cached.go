// Package embedding wraps an embedding encoder with a byte cache keyed by
// model and text.
package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Strob0t/ModGuard/internal/port/cache"
	"github.com/Strob0t/ModGuard/internal/port/llm"
)

const keyNamespace = "emb"

var _ llm.Embedder = (*Cached)(nil)

// Cached serves repeated texts from cache. Cache failures fall through to
// the encoder.
type Cached struct {
	inner llm.Embedder
	cache cache.Cache
	model string
	ttl   time.Duration
}

// NewCached wraps inner. model scopes the keys so switching encoders never
// returns stale vectors.
func NewCached(inner llm.Embedder, c cache.Cache, model string, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: c, model: model, ttl: ttl}
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.Key(keyNamespace, c.model, text)

	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "embedding cache get failed", "error", err)
	}
	if ok {
		if vec, err := decode(data); err == nil {
			return vec, nil
		}
		slog.WarnContext(ctx, "discarding corrupt embedding cache entry", "key", key)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, encode(vec), c.ttl); err != nil {
		slog.WarnContext(ctx, "embedding cache set failed", "error", err)
	}
	return vec, nil
}

// encode writes vec as little-endian float32s.
func encode(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decode(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding cache entry has %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}
