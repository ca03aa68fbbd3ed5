package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// Closer flushes and stops a logger's background workers.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler hands records to a worker pool over a bounded channel so
// pipeline steps never block on log output. Records are dropped, and
// counted, when the channel is full.
type AsyncHandler struct {
	inner  slog.Handler
	shared *asyncShared
}

// queued pairs a record with the handler that must write it, so attrs and
// groups added by WithAttrs and WithGroup survive the hand-off.
type queued struct {
	to  slog.Handler
	rec slog.Record
}

type asyncShared struct {
	ch      chan queued
	wg      sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

// NewAsyncHandler starts workers draining a channel of chanSize records into inner.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	s := &asyncShared{ch: make(chan queued, chanSize)}
	for range workers {
		s.wg.Add(1)
		go s.drain()
	}
	return &AsyncHandler{inner: inner, shared: s}
}

func (s *asyncShared) drain() {
	defer s.wg.Done()
	for q := range s.ch {
		_ = q.to.Handle(context.Background(), q.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a copy of rec. Correlation IDs are read from ctx here
// because the worker only sees a background context.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	rec = rec.Clone()
	rec.AddAttrs(contextAttrs(ctx)...)
	select {
	case h.shared.ch <- queued{to: h.inner, rec: rec}:
	default:
		h.shared.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same workers around a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), shared: h.shared}
}

// WithGroup returns a handler sharing the same workers around a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), shared: h.shared}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.shared.dropped.Load()
}

// Close drains queued records and stops the workers. It is safe to call twice.
func (h *AsyncHandler) Close() {
	h.shared.once.Do(func() {
		close(h.shared.ch)
		h.shared.wg.Wait()
		if n := h.shared.dropped.Load(); n > 0 {
			fmt.Fprintf(os.Stderr, "logger: dropped %d records\n", n)
		}
	})
}
