package otel

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Strob0t/ModGuard/internal/config"
	"github.com/Strob0t/ModGuard/internal/workflow"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.OTEL{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestObserverRecordsStepSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	metrics, err := NewMetrics()
	if err != nil {
		t.Fatal(err)
	}
	o := &Observer{tracer: tp.Tracer(tracerName), metrics: metrics}

	ctx := context.Background()
	_, finish := o.StartStep(ctx, "moderation", "classify")
	finish(nil)
	_, finish = o.StartStep(ctx, "moderation", "notify")
	finish(errors.New("boom"))
	o.RunFinished(ctx, "moderation", workflow.OutcomeSuspended, nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "moderation.classify" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if len(spans[1].Events()) == 0 {
		t.Error("expected error event on failed step")
	}
}
