package tiered_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/ModGuard/internal/adapter/tiered"
	"github.com/Strob0t/ModGuard/internal/port/cache/cachetest"
)

// level is a map-backed cache that can fail, count reads and stall them.
type level struct {
	mu    sync.Mutex
	data  map[string][]byte
	err   error
	gets  atomic.Int32
	stall chan struct{}
}

func newLevel() *level { return &level{data: make(map[string][]byte)} }

func (l *level) Get(_ context.Context, key string) ([]byte, bool, error) {
	l.gets.Add(1)
	if l.stall != nil {
		<-l.stall
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	v, ok := l.data[key]
	return v, ok, nil
}

func (l *level) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.data[key] = value
	return nil
}

func (l *level) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	delete(l.data, key)
	return nil
}

func (l *level) has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.data[key]
	return ok
}

func TestTieredConformance(t *testing.T) {
	cachetest.Run(t, tiered.New(newLevel(), newLevel(), time.Minute), nil)
}

func TestTieredLevels(t *testing.T) {
	ctx := context.Background()
	l1, l2 := newLevel(), newLevel()
	c := tiered.New(l1, l2, 5*time.Minute)

	l2.data["emb.shared"] = []byte("vec")
	if val, ok, err := c.Get(ctx, "emb.shared"); err != nil || !ok || string(val) != "vec" {
		t.Fatalf("L2 hit: %q %v %v", val, ok, err)
	}
	if !l1.has("emb.shared") {
		t.Fatal("L2 hit was not copied into L1")
	}

	if err := c.Set(ctx, "emb.new", []byte("vec2"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if !l1.has("emb.new") || !l2.has("emb.new") {
		t.Fatal("Set did not reach both levels")
	}

	if err := c.Delete(ctx, "emb.new"); err != nil {
		t.Fatal(err)
	}
	if l1.has("emb.new") || l2.has("emb.new") {
		t.Fatal("Delete left a copy behind")
	}
}

func TestTieredSharedCacheOutage(t *testing.T) {
	ctx := context.Background()
	l1, l2 := newLevel(), newLevel()
	l2.err = errors.New("nats down")
	c := tiered.New(l1, l2, 5*time.Minute)

	if _, ok, err := c.Get(ctx, "emb.c"); err != nil || ok {
		t.Fatalf("outage should read as a miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "emb.c", []byte("vec"), time.Minute); err != nil {
		t.Fatalf("L2 set failure leaked: %v", err)
	}
	if val, ok, _ := c.Get(ctx, "emb.c"); !ok || string(val) != "vec" {
		t.Fatalf("L1 should still serve, got %q %v", val, ok)
	}
}

func TestTieredCollapsesConcurrentMisses(t *testing.T) {
	l1, l2 := newLevel(), newLevel()
	l2.data["emb.hot"] = []byte("vec")
	l2.stall = make(chan struct{})
	c := tiered.New(l1, l2, time.Minute)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if val, ok, _ := c.Get(context.Background(), "emb.hot"); !ok || string(val) != "vec" {
				t.Errorf("got %q %v", val, ok)
			}
		}()
	}
	// Let the first reader reach L2 before releasing it.
	for l2.gets.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(l2.stall)
	wg.Wait()

	if n := l2.gets.Load(); n >= 8 {
		t.Fatalf("L2 read %d times for 8 concurrent misses", n)
	}
}
