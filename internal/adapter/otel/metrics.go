package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "evalforge"

// Metrics holds all EvalForge metric instruments.
type Metrics struct {
	RunsCreated   metric.Int64Counter
	RunsCompleted metric.Int64Counter
	RunsFailed    metric.Int64Counter
	EventsApplied metric.Int64Counter
	EventsSkipped metric.Int64Counter
	BatchLatency  metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsCreated, err = meter.Int64Counter("evalforge.runs.created",
		metric.WithDescription("Number of runs registered"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("evalforge.runs.completed",
		metric.WithDescription("Number of runs that ended COMPLETED"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("evalforge.runs.failed",
		metric.WithDescription("Number of runs that ended FAILED"))
	if err != nil {
		return nil, err
	}

	m.EventsApplied, err = meter.Int64Counter("evalforge.events.applied",
		metric.WithDescription("Number of run events applied"))
	if err != nil {
		return nil, err
	}

	m.EventsSkipped, err = meter.Int64Counter("evalforge.events.skipped",
		metric.WithDescription("Number of duplicate run events skipped"))
	if err != nil {
		return nil, err
	}

	m.BatchLatency, err = meter.Float64Histogram("evalforge.events.batch_seconds",
		metric.WithDescription("Event batch ingestion latency in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
