package dev

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tova-dev"

// traceMiddleware wraps dev-server requests in a span. With no tracer
// provider configured the spans are no-ops, so this costs nothing in the
// common case.
func traceMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "dev."+r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// traceRebuild records one rebuild cycle as a span.
func traceRebuild(ctx context.Context, fn func(context.Context) (int, error)) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "dev.rebuild")
	defer span.End()

	start := time.Now()
	failed, err := fn(ctx)
	span.SetAttributes(
		attribute.Int("build.failed_units", failed),
		attribute.Int64("build.duration_ms", time.Since(start).Milliseconds()),
	)
	if err != nil || failed > 0 {
		span.SetStatus(codes.Error, "rebuild failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}
