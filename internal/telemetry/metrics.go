package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Action outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeDryRun  = "dry_run"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics holds handler and remediation counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	invocations metric.Int64Counter
	errors      metric.Int64Counter
	duration    metric.Float64Histogram
	actions     metric.Int64Counter
	transitions metric.Int64Counter
}

// NewMetrics creates metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("tara")

	invocations, err := meter.Int64Counter(
		"tara.handler.invocations",
		metric.WithDescription("Number of handler invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	errs, err := meter.Int64Counter(
		"tara.handler.errors",
		metric.WithDescription("Number of handler invocations that returned an error"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"tara.handler.duration",
		metric.WithDescription("Duration of handler invocations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	actions, err := meter.Int64Counter(
		"tara.remediation.actions",
		metric.WithDescription("Number of remediation actions by outcome"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"tara.lifecycle.transitions",
		metric.WithDescription("Number of idle volume lifecycle state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invocations: invocations,
		errors:      errs,
		duration:    duration,
		actions:     actions,
		transitions: transitions,
	}, nil
}

// RecordInvocation records one handler run.
func (m *Metrics) RecordInvocation(ctx context.Context, handler string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("handler", handler))
	m.invocations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordAction records a remediation API action and its outcome.
func (m *Metrics) RecordAction(ctx context.Context, handler, action, outcome string) {
	if m == nil {
		return
	}
	m.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("handler", handler),
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// RecordTransition records an idle volume entering a lifecycle state.
func (m *Metrics) RecordTransition(ctx context.Context, state, region string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state),
		attribute.String("region", region),
	))
}
