// Package cachetest provides a compliance suite for cache.Cache implementations.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/ModGuard/internal/port/cache"
)

// Run runs the compliance suite. settle is called after every write for
// implementations with asynchronous admission; it may be nil.
func Run(t *testing.T, c cache.Cache, settle func()) {
	t.Helper()
	ctx := context.Background()
	if settle == nil {
		settle = func() {}
	}

	t.Run("SetAndGet", func(t *testing.T) {
		key := cache.Key("test", "set-get")
		if err := c.Set(ctx, key, []byte("embedding"), time.Minute); err != nil {
			t.Fatal(err)
		}
		settle()
		val, found, err := c.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "embedding" {
			t.Fatalf("expected embedding, got %q (found=%v)", val, found)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, cache.Key("test", "missing"))
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for unknown key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		key := cache.Key("test", "delete")
		_ = c.Set(ctx, key, []byte("v"), time.Minute)
		settle()
		if err := c.Delete(ctx, key); err != nil {
			t.Fatal(err)
		}
		settle()
		if _, found, _ := c.Get(ctx, key); found {
			t.Fatal("expected miss after Delete")
		}
		if err := c.Delete(ctx, cache.Key("test", "never-set")); err != nil {
			t.Fatalf("Delete of unknown key: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		key := cache.Key("test", "overwrite")
		_ = c.Set(ctx, key, []byte("v1"), time.Minute)
		settle()
		_ = c.Set(ctx, key, []byte("v2"), time.Minute)
		settle()
		val, found, err := c.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %q", val)
		}
	})
}
