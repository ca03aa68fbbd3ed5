// Package logger provides structured logging setup for ModGuard.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/ModGuard/internal/config"
)

const (
	asyncBuffer  = 4096
	asyncWorkers = 2
)

// level is shared by every logger built with New so SetLevel applies on
// config reload.
var level slog.LevelVar

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
// With Async set, records pass through an AsyncHandler; the returned
// Closer must be closed on shutdown to flush it.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level.Set(parseLevel(cfg.Level))
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		async := NewAsyncHandler(handler, asyncBuffer, asyncWorkers)
		handler, closer = async, async
	} else {
		handler = contextHandler{handler}
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// contextHandler adds the context correlation IDs to synchronous records.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	rec.AddAttrs(contextAttrs(ctx)...)
	return h.Handler.Handle(ctx, rec)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

// SetLevel changes the level of all loggers returned by New.
func SetLevel(s string) {
	level.Set(parseLevel(s))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
