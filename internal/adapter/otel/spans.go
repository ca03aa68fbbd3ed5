package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/ModGuard/internal/workflow"
)

const tracerName = "modguard"

var _ workflow.Observer = (*Observer)(nil)

// Observer traces each workflow step as a span and records run metrics.
type Observer struct {
	tracer  trace.Tracer
	metrics *Metrics
}

// NewObserver creates an Observer. metrics may be nil to trace only.
func NewObserver(metrics *Metrics) *Observer {
	return &Observer{tracer: otel.Tracer(tracerName), metrics: metrics}
}

func (o *Observer) StartStep(ctx context.Context, pipeline, step string) (context.Context, func(error)) {
	ctx, span := o.tracer.Start(ctx, pipeline+"."+step,
		trace.WithAttributes(
			attribute.String("workflow.pipeline", pipeline),
			attribute.String("workflow.step", step),
		),
	)
	start := time.Now()
	return ctx, func(err error) {
		attrs := metric.WithAttributes(
			attribute.String("pipeline", pipeline),
			attribute.String("step", step),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if o.metrics != nil {
				o.metrics.StepsFailed.Add(ctx, 1, attrs)
			}
		}
		if o.metrics != nil {
			o.metrics.StepDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		span.End()
	}
}

func (o *Observer) RunFinished(ctx context.Context, pipeline string, outcome workflow.Outcome, err error) {
	if o.metrics == nil {
		return
	}
	if err != nil {
		o.metrics.RunsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", pipeline)))
		return
	}
	o.metrics.RunsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("outcome", string(outcome)),
	))
}

// StartCaseSpan starts a span for a top-level moderation or appeal request.
func StartCaseSpan(ctx context.Context, name, threadID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithAttributes(attribute.String("workflow.thread_id", threadID)),
	)
}
