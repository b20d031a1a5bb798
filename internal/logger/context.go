package logger

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	evaluationKeyKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithEvaluationKey returns a new context carrying the evaluation key.
func WithEvaluationKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, evaluationKeyKey, key)
}

// EvaluationKey extracts the evaluation key from the context.
func EvaluationKey(ctx context.Context) string {
	k, _ := ctx.Value(evaluationKeyKey).(string)
	return k
}

// contextHandler adds correlation attributes found in the context to each
// record before handing it on. It sits in front of the async handler since
// the context does not survive the queue.
type contextHandler struct {
	inner slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	if key := EvaluationKey(ctx); key != "" {
		rec.AddAttrs(slog.String("evaluation_key", key))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		rec.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
	}
	return h.inner.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}
