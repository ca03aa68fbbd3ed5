package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	threadIDKey
)

// WithRequestID stores the HTTP or message request ID in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithThreadID stores the pipeline thread being executed in ctx.
func WithThreadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, threadIDKey, id)
}

// ThreadID returns the thread ID stored in ctx, or "".
func ThreadID(ctx context.Context) string {
	id, _ := ctx.Value(threadIDKey).(string)
	return id
}

// contextAttrs returns the correlation attributes carried by ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if id := ThreadID(ctx); id != "" {
		attrs = append(attrs, slog.String("thread_id", id))
	}
	return attrs
}
