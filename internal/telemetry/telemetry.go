// Package telemetry carries the observability primitives injected into the
// kernel, runtime, tool engine, and pipeline executor. Nothing in this
// module reads logging or tracing state from an ambient/global location;
// every constructor that needs to emit telemetry takes an Observability
// value explicitly.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Observability is the narrow logger/tracer/meter surface components
// depend on. Callers assemble one at process start (wiring a real OTel
// SDK, or the noop providers for tests) and pass it down explicitly.
type Observability struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// NewNoop returns an Observability backed by discard/noop providers, for
// tests and for callers that have not wired a real collector yet.
func NewNoop() Observability {
	return Observability{
		Logger: slog.New(slog.DiscardHandler),
		Tracer: tracenoop.NewTracerProvider().Tracer("agent-kernel"),
		Meter:  metricnoop.NewMeterProvider().Meter("agent-kernel"),
	}
}

// StartSpan starts a span named name under the component's tracer. Callers
// are responsible for calling End on the returned span.
func (o Observability) StartSpan(ctx context.Context, name string, attrs ...trace.SpanStartOption) (context.Context, trace.Span) {
	if o.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return o.Tracer.Start(ctx, name, attrs...)
}

// Log returns the logger, falling back to a discard logger if unset.
func (o Observability) Log() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}
