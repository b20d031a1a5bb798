package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "changeguard"

// Submission results recorded on evaluations.submitted.
const (
	SubmitExecuted   = "executed"
	SubmitDuplicate  = "duplicate"
	SubmitProcessing = "processing"
	SubmitRejected   = "rejected"
)

// Metrics holds the evaluation pipeline instruments.
type Metrics struct {
	Submitted     metric.Int64Counter
	Completed     metric.Int64Counter
	StageFailures metric.Int64Counter
	Stale         metric.Int64Counter
	InFlight      metric.Int64UpDownCounter
	Duration      metric.Float64Histogram
	StageDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWith(otel.GetMeterProvider())
}

// NewMetricsWith creates all metric instruments on mp.
func NewMetricsWith(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Submitted, err = meter.Int64Counter("changeguard.evaluations.submitted",
		metric.WithDescription("Number of evaluation submissions by result"))
	if err != nil {
		return nil, err
	}

	m.Completed, err = meter.Int64Counter("changeguard.evaluations.completed",
		metric.WithDescription("Number of evaluation runs finished by status"))
	if err != nil {
		return nil, err
	}

	m.StageFailures, err = meter.Int64Counter("changeguard.evaluations.stage_failures",
		metric.WithDescription("Number of stage failures by stage and reason code"))
	if err != nil {
		return nil, err
	}

	m.Stale, err = meter.Int64Counter("changeguard.evaluations.stale",
		metric.WithDescription("Number of results superseded before publication"))
	if err != nil {
		return nil, err
	}

	m.InFlight, err = meter.Int64UpDownCounter("changeguard.evaluations.in_flight",
		metric.WithDescription("Number of evaluation runs currently executing"))
	if err != nil {
		return nil, err
	}

	m.Duration, err = meter.Float64Histogram("changeguard.evaluation.duration_seconds",
		metric.WithDescription("Evaluation run duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("changeguard.stage.duration_seconds",
		metric.WithDescription("Pipeline stage duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// The Record methods are no-ops on a nil *Metrics.

// RecordSubmit counts a submission by result.
func (m *Metrics) RecordSubmit(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.Submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCompletion records a finished run.
func (m *Metrics) RecordCompletion(ctx context.Context, status string, attempt int, d time.Duration) {
	if m == nil {
		return
	}
	m.Completed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Int("attempt", attempt),
	))
	m.Duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	if status == "STALE" {
		m.Stale.Add(ctx, 1)
	}
}

// RecordStage records one stage execution. reason is empty on success.
func (m *Metrics) RecordStage(ctx context.Context, stage, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
	if reason != "" {
		m.StageFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("reason", reason),
		))
	}
}

// RecordInFlight adjusts the number of executing runs by delta.
func (m *Metrics) RecordInFlight(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.InFlight.Add(ctx, delta)
}

// ObservePolicyCacheHitRatio registers a gauge reporting ratio() on every
// collection.
func ObservePolicyCacheHitRatio(mp metric.MeterProvider, ratio func() float64) error {
	_, err := mp.Meter(meterName).Float64ObservableGauge("changeguard.policy_cache.hit_ratio",
		metric.WithDescription("Share of policy cache lookups served from memory"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(ratio())
			return nil
		}))
	return err
}
