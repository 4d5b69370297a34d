package otelbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/otelz"
	"go.opentelemetry.io/otel/trace"
)

func testSpanContext(t *testing.T) otelz.SpanContext {
	t.Helper()
	tid, err := otelz.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := otelz.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ts, err := otelz.ParseTraceState("rojo=00f067aa0ba902b7,congo=t61rcWkgMzE")
	require.NoError(t, err)
	return otelz.NewSpanContext(otelz.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: otelz.FlagsSampled,
		TraceState: ts,
	})
}

func TestToOTel(t *testing.T) {
	sc := testSpanContext(t)
	out := ToOTel(sc)

	assert.True(t, out.IsValid())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", out.TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", out.SpanID().String())
	assert.True(t, out.IsSampled())
	assert.False(t, out.IsRemote())
	assert.Equal(t, "rojo=00f067aa0ba902b7,congo=t61rcWkgMzE", out.TraceState().String())
}

func TestRoundTrip(t *testing.T) {
	sc := testSpanContext(t).WithRemote(true)
	back := FromOTel(ToOTel(sc))
	assert.True(t, sc.Equal(back), "expected %v, got %v", sc, back)
}

func TestContextFromOTel(t *testing.T) {
	sc := testSpanContext(t)
	ctx := trace.ContextWithSpanContext(context.Background(), ToOTel(sc))

	c := ContextFromOTel(ctx, otelz.Background())
	got := otelz.SpanContextFromContext(c)
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, sc.SpanID(), got.SpanID())
	assert.True(t, got.IsRemote())
}

func TestContextFromOTelWithoutSpan(t *testing.T) {
	parent := otelz.Background()
	c := ContextFromOTel(context.Background(), parent)
	assert.True(t, c.Equal(parent))
}

func TestContextToOTelParentsOTelSpans(t *testing.T) {
	provider := otelz.NewTracerProvider()
	defer provider.Shutdown(context.Background())

	span := provider.Tracer("bridge").Start("local")
	defer span.End()

	ctx := ContextToOTel(context.Background(), otelz.ContextWithSpan(otelz.Background(), span))
	got := trace.SpanContextFromContext(ctx)
	require.True(t, got.IsValid())
	assert.Equal(t, span.SpanContext().TraceID().String(), got.TraceID().String())
	assert.True(t, got.IsRemote())
}
