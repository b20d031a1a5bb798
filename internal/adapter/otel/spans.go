package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "changeguard"

// StartEvaluationSpan starts the root span of one evaluation run.
func StartEvaluationSpan(ctx context.Context, key string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "evaluation",
		trace.WithAttributes(
			attribute.String("evaluation.key", key),
			attribute.Int("evaluation.attempt", attempt),
		),
	)
}

// StartStageSpan starts a span for one pipeline stage.
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage."+stage,
		trace.WithAttributes(attribute.String("evaluation.stage", stage)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
