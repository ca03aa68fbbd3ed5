package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "modguard"

// Metrics holds all ModGuard metric instruments.
type Metrics struct {
	RunsFinished  metric.Int64Counter
	RunsFailed    metric.Int64Counter
	StepDuration  metric.Float64Histogram
	StepsFailed   metric.Int64Counter
	Decisions     metric.Int64Counter
	RiskScore     metric.Float64Histogram
	AppealsClosed metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsFinished, err = meter.Int64Counter("modguard.workflow.runs",
		metric.WithDescription("Start and Resume calls that completed, by outcome"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("modguard.workflow.runs.failed",
		metric.WithDescription("Start and Resume calls that returned an error"))
	if err != nil {
		return nil, err
	}

	m.StepDuration, err = meter.Float64Histogram("modguard.workflow.step.duration_seconds",
		metric.WithDescription("Step duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.StepsFailed, err = meter.Int64Counter("modguard.workflow.steps.failed",
		metric.WithDescription("Steps that returned an error"))
	if err != nil {
		return nil, err
	}

	m.Decisions, err = meter.Int64Counter("modguard.decisions",
		metric.WithDescription("Final case decisions, by decision"))
	if err != nil {
		return nil, err
	}

	m.RiskScore, err = meter.Float64Histogram("modguard.risk_score",
		metric.WithDescription("Risk score of classified content"))
	if err != nil {
		return nil, err
	}

	m.AppealsClosed, err = meter.Int64Counter("modguard.appeals.resolved",
		metric.WithDescription("Resolved appeals, by outcome"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordDecision counts a final case decision and records its risk score.
func (m *Metrics) RecordDecision(ctx context.Context, decision string, riskScore float64) {
	m.Decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
	m.RiskScore.Record(ctx, riskScore)
}

// RecordAppeal counts a resolved appeal.
func (m *Metrics) RecordAppeal(ctx context.Context, decision string) {
	m.AppealsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}
