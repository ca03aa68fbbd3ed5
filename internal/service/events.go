package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/ModGuard/internal/port/messagequeue"
)

// DecisionRecorder receives final decisions for metrics.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, decision string, riskScore float64)
	RecordAppeal(ctx context.Context, decision string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(context.Context, string, float64) {}
func (nopRecorder) RecordAppeal(context.Context, string)            {}

// publish sends payload on subject. Events are best effort: a nil queue or
// a failed publish is logged and ignored.
func publish(ctx context.Context, q messagequeue.Queue, subject string, payload any) {
	if q == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal event", "subject", subject, "error", err)
		return
	}
	if err := q.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "publish event failed", "subject", subject, "error", err)
	}
}
