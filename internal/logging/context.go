package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type iterationCtxKey struct{}

// WithRunID stores the loop run identifier in ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext returns the run identifier, or "".
func RunIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(runCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithIteration stores the current iteration number in ctx.
func WithIteration(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, iterationCtxKey{}, n)
}

// IterationFromContext returns the iteration number and whether one was set.
func IterationFromContext(ctx context.Context) (int, bool) {
	n, ok := ctx.Value(iterationCtxKey{}).(int)
	return n, ok
}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if n, ok := IterationFromContext(ctx); ok {
		fields = append(fields, zap.Int("iteration", n))
	}
	return fields
}
