package natskv_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/ModGuard/internal/adapter/natskv"
	"github.com/Strob0t/ModGuard/internal/port/cache/cachetest"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore/checkpointtest"
)

func bucket(t *testing.T, ttl time.Duration) jetstream.KeyValue {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}

	ctx := context.Background()
	name := "TEST_" + uuid.NewString()[:8]
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: name, TTL: ttl})
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	t.Cleanup(func() { _ = js.DeleteKeyValue(context.Background(), name) })
	return kv
}

func TestCacheCompliance(t *testing.T) {
	cachetest.Run(t, natskv.New(bucket(t, time.Hour)), nil)
}

func TestCheckpointStoreConformance(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) checkpointstore.Store {
		return natskv.NewCheckpointStore(bucket(t, 0))
	})
}
