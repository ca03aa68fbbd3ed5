// Package cache defines the port interface for byte-value caching.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache is the port interface for key-value caching. Get reports a miss with
// ok=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key builds a cache key from a namespace and the SHA-256 of parts. The
// result only contains characters valid in NATS KV keys.
func Key(namespace string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return namespace + "." + hex.EncodeToString(h[:])
}
