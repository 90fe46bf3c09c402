package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "evalforge"

// StartIngestSpan starts a span for one event batch ingestion.
func StartIngestSpan(ctx context.Context, runID string, batchSize int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ingest.batch",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("batch.size", batchSize),
		),
	)
}

// StartProjectionSpan starts a span for projecting one event.
func StartProjectionSpan(ctx context.Context, runID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ingest.project",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("event.type", eventType),
		),
	)
}
