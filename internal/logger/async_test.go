package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// lockedBuffer lets several drain workers write to one buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// stallHandler blocks every write until release is closed.
type stallHandler struct {
	slog.Handler
	release chan struct{}
}

func (h stallHandler) Handle(ctx context.Context, r slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	<-h.release
	return h.Handler.Handle(ctx, r)
}

func newAsync(out *lockedBuffer, size, workers int) *AsyncHandler {
	return NewAsyncHandler(slog.NewJSONHandler(out, nil), size, workers)
}

func TestAsyncHandlerDeliversEverythingOnClose(t *testing.T) {
	out := &lockedBuffer{}
	h := newAsync(out, 4096, 4)
	log := slog.New(h)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				log.Info("step finished", "worker", w, "step", i)
			}
		}()
	}
	wg.Wait()
	h.Close()
	h.Close()

	if got := len(out.lines()); got != 400 {
		t.Fatalf("got %d lines, want 400", got)
	}
	if h.DroppedCount() != 0 {
		t.Fatalf("dropped %d with an oversized buffer", h.DroppedCount())
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	out := &lockedBuffer{}
	release := make(chan struct{})
	h := NewAsyncHandler(stallHandler{Handler: slog.NewJSONHandler(out, nil), release: release}, 2, 1)
	log := slog.New(h)

	for range 20 {
		log.Warn("classifier slow")
	}
	close(release)
	h.Close()

	dropped := h.DroppedCount()
	if dropped == 0 {
		t.Fatal("expected drops while the worker was stalled")
	}
	if got := int64(len(out.lines())); got+dropped != 20 {
		t.Fatalf("written %d + dropped %d != 20", got, dropped)
	}
}

func TestAsyncHandlerKeepsDerivedAttrs(t *testing.T) {
	out := &lockedBuffer{}
	h := newAsync(out, 16, 2)
	log := slog.New(h).With("pipeline", "appeal").WithGroup("step")

	ctx := WithThreadID(WithRequestID(context.Background(), "req-42"), "appeal_7")
	log.InfoContext(ctx, "suspended", "name", "human_review")
	h.Close()

	lines := out.lines()
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	for _, want := range []string{`"pipeline":"appeal"`, `"name":"human_review"`, `"request_id":"req-42"`, `"thread_id":"appeal_7"`} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %s missing %s", lines[0], want)
		}
	}
}

func TestAsyncHandlerEnabledFollowsInner(t *testing.T) {
	h := NewAsyncHandler(slog.NewTextHandler(&lockedBuffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}), 1, 1)
	defer h.Close()
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled under a warn handler")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error disabled under a warn handler")
	}
}
