// Package otelbridge converts span contexts between otelz and the
// OpenTelemetry trace API so both can share one trace across a process.
package otelbridge

import (
	"context"

	"github.com/zoobzio/otelz"
	"go.opentelemetry.io/otel/trace"
)

// ToOTel converts an otelz span context to its OpenTelemetry equivalent.
// An unparseable trace state is dropped.
func ToOTel(sc otelz.SpanContext) trace.SpanContext {
	cfg := trace.SpanContextConfig{
		TraceID:    trace.TraceID(sc.TraceID()),
		SpanID:     trace.SpanID(sc.SpanID()),
		TraceFlags: trace.TraceFlags(sc.TraceFlags()),
		Remote:     sc.IsRemote(),
	}
	if ts, err := trace.ParseTraceState(sc.TraceState().String()); err == nil {
		cfg.TraceState = ts
	}
	return trace.NewSpanContext(cfg)
}

// FromOTel converts an OpenTelemetry span context to otelz.
// An unparseable trace state is dropped.
func FromOTel(sc trace.SpanContext) otelz.SpanContext {
	cfg := otelz.SpanContextConfig{
		TraceID:    otelz.TraceID(sc.TraceID()),
		SpanID:     otelz.SpanID(sc.SpanID()),
		TraceFlags: otelz.TraceFlags(sc.TraceFlags()),
		Remote:     sc.IsRemote(),
	}
	if ts, err := otelz.ParseTraceState(sc.TraceState().String()); err == nil {
		cfg.TraceState = ts
	}
	return otelz.NewSpanContext(cfg)
}

// ContextFromOTel returns parent carrying the OpenTelemetry span found in
// ctx as a remote parent. If ctx has no valid span, parent is returned.
func ContextFromOTel(ctx context.Context, parent otelz.Context) otelz.Context {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return parent
	}
	return otelz.ContextWithSpanContext(parent, FromOTel(sc).WithRemote(true))
}

// ContextToOTel returns ctx carrying the span active in c as a remote
// OpenTelemetry span context, for handing to OpenTelemetry instrumentation.
func ContextToOTel(ctx context.Context, c otelz.Context) context.Context {
	sc := otelz.SpanContextFromContext(c)
	if !sc.IsValid() {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, ToOTel(sc))
}
