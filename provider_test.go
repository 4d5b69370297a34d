package otelz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

type panickingProcessor struct {
	recordingProcessor
}

func (*panickingProcessor) OnEnd(SpanData) { panic("processor bug") }

func TestProviderRecoversProcessorPanics(t *testing.T) {
	var mu sync.Mutex
	var hooked []any
	bad := &panickingProcessor{}
	good := &recordingProcessor{}
	logger, buf := newTestLogger()

	p, _ := newTestProvider(t,
		WithLogger(logger),
		WithSpanProcessor(bad),
		WithSpanProcessor(good),
		WithPanicHook(func(sp SpanProcessor, r any) {
			mu.Lock()
			defer mu.Unlock()
			assert.Same(t, bad, sp)
			hooked = append(hooked, r)
		}),
	)

	p.Tracer("test").Start("op").End()

	assert.Len(t, good.endedSpans(), 1)
	assert.Equal(t, []any{"processor bug"}, hooked)
	assert.Contains(t, buf.String(), "span processor panicked")
}

func TestProviderRegisterUnregister(t *testing.T) {
	p, _ := newTestProvider(t)
	rec := &recordingProcessor{}

	p.RegisterSpanProcessor(rec)
	p.Tracer("test").Start("one").End()

	require.NoError(t, p.UnregisterSpanProcessor(context.Background(), rec))
	assert.Equal(t, 1, rec.shutdown)

	p.Tracer("test").Start("two").End()
	assert.Len(t, rec.endedSpans(), 1)

	// Unknown processors are ignored.
	require.NoError(t, p.UnregisterSpanProcessor(context.Background(), &recordingProcessor{}))
}

func TestProviderForceFlush(t *testing.T) {
	a := &recordingProcessor{}
	errFlush := errors.New("flush failed")
	b := &recordingProcessor{err: errFlush}
	p, _ := newTestProvider(t, WithSpanProcessor(a), WithSpanProcessor(b))

	err := p.ForceFlush(context.Background())
	assert.ErrorIs(t, err, errFlush)
	assert.Equal(t, 1, a.flushes)
	assert.Equal(t, 1, b.flushes)
}

func TestProviderShutdown(t *testing.T) {
	rec := &recordingProcessor{}
	p, _ := newTestProvider(t, WithSpanProcessor(rec))
	tracer := p.Tracer("test")

	live := tracer.Start("live")

	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 1, rec.shutdown)

	after := tracer.Start("after")
	assert.False(t, after.IsRecording())
	assert.True(t, after.SpanContext().IsValid())

	// Spans started before shutdown still end normally.
	live.End()
	assert.Len(t, rec.endedSpans(), 1)
	assert.Len(t, rec.started, 1)

	assert.NoError(t, p.ForceFlush(context.Background()))
	p.RegisterSpanProcessor(&recordingProcessor{})
	assert.Len(t, p.spanProcessors(), 1)
}

func TestProviderShutdownReturnsFirstError(t *testing.T) {
	errStop := errors.New("stop failed")
	p, _ := newTestProvider(t, WithSpanProcessor(&recordingProcessor{err: errStop}))

	assert.ErrorIs(t, p.Shutdown(context.Background()), errStop)
	assert.ErrorIs(t, p.Shutdown(context.Background()), errStop)
}

func TestProviderDefaults(t *testing.T) {
	p := NewTracerProvider()
	defer p.Shutdown(context.Background())

	assert.IsType(t, &StackManager{}, p.ContextManager())
	assert.Equal(t, ParentBased(AlwaysOn()).Description(), p.sampler.Description())
	assert.Equal(t, NewSpanLimits(), p.limits)
	assert.NotNil(t, p.idPool)
}

func TestProviderWithBatcher(t *testing.T) {
	exporter := NewInMemoryExporter()
	p, clock := newTestProvider(t, WithBatcher(exporter, WithMaxExportBatchSize(2)))

	procs := p.spanProcessors()
	require.Len(t, procs, 1)
	bsp, ok := procs[0].(*BatchSpanProcessor)
	require.True(t, ok)
	assert.Same(t, clock, bsp.clock)
	assert.Equal(t, 2, bsp.Config().MaxExportBatchSize)

	p.Tracer("test").Start("op").End()
	require.NoError(t, p.ForceFlush(context.Background()))
	assert.Equal(t, 1, exporter.Count())
}

// lifecycleBomb panics when flushed or shut down.
type lifecycleBomb struct {
	recordingProcessor
}

func (*lifecycleBomb) ForceFlush(context.Context) error { panic("flush bug") }

func (*lifecycleBomb) Shutdown(context.Context) error { panic("shutdown bug") }

func TestProviderShutdownRecoversProcessorPanic(t *testing.T) {
	var mu sync.Mutex
	var hooked []any
	bad := &lifecycleBomb{}
	good := &recordingProcessor{}
	logger, buf := newTestLogger()

	p, _ := newTestProvider(t,
		WithLogger(logger),
		WithSpanProcessor(bad),
		WithSpanProcessor(good),
		WithPanicHook(func(_ SpanProcessor, r any) {
			mu.Lock()
			defer mu.Unlock()
			hooked = append(hooked, r)
		}),
	)

	err := p.Shutdown(context.Background())
	var pe PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "shutdown bug", pe.Value)
	assert.Equal(t, 1, good.shutdown)
	assert.Equal(t, []any{"shutdown bug"}, hooked)
	assert.Contains(t, buf.String(), "span processor panicked")
}

func TestProviderForceFlushRecoversProcessorPanic(t *testing.T) {
	good := &recordingProcessor{}
	logger, _ := newTestLogger()
	p, _ := newTestProvider(t,
		WithLogger(logger),
		WithSpanProcessor(&lifecycleBomb{}),
		WithSpanProcessor(good),
	)

	var pe PanicError
	require.ErrorAs(t, p.ForceFlush(context.Background()), &pe)
	assert.Equal(t, "flush bug", pe.Value)
	assert.Equal(t, 1, good.flushes)
}

func TestProviderDefaultManagerNestsRun(t *testing.T) {
	rec := &recordingProcessor{}
	p, _ := newTestProvider(t, WithSpanProcessor(rec))
	tracer := p.Tracer("test")

	var parent, child *Span
	err := tracer.Run("parent", func(s *Span) error {
		parent = s
		child = tracer.Start("child")
		child.End()
		return nil
	})
	require.NoError(t, err)

	d := child.Snapshot()
	assert.Equal(t, parent.SpanContext().SpanID(), d.ParentSpanID())
	assert.Equal(t, parent.SpanContext().TraceID(), d.SpanContext.TraceID())

	k := NewKey("k")
	ctxA := Background().WithValue(k, 1)
	got := Within(p.ContextManager(), ctxA, func() any {
		p.ContextManager().With(Background().WithValue(k, 2), func() {})
		return p.ContextManager().Active().Value(k)
	})
	assert.Equal(t, 1, got)
	assert.True(t, p.ContextManager().Active().IsRoot())
}

func TestProviderWithBatcherIgnoresOptionOrder(t *testing.T) {
	clock := clockz.NewFakeClockAt(testEpoch)
	logger, _ := newTestLogger()
	p := NewTracerProvider(
		WithSpanProcessor(&recordingProcessor{}),
		WithBatcher(NewInMemoryExporter()),
		WithClock(clock),
		WithLogger(logger),
	)
	defer p.Shutdown(context.Background())

	procs := p.spanProcessors()
	require.Len(t, procs, 2)
	assert.IsType(t, &recordingProcessor{}, procs[0])
	bsp, ok := procs[1].(*BatchSpanProcessor)
	require.True(t, ok)
	assert.Same(t, clock, bsp.clock)
	assert.Same(t, logger, bsp.logger)
}

func TestWithSpanLimitsFillsZeroFields(t *testing.T) {
	p, _ := newTestProvider(t, WithSpanLimits(SpanLimits{EventCountLimit: 3, LinkCountLimit: -1}))

	want := NewSpanLimits()
	want.EventCountLimit = 3
	want.LinkCountLimit = -1
	assert.Equal(t, want, p.limits)

	span := p.Tracer("test").Start("op")
	span.SetAttributes(String("kept", "value"))
	v, ok := span.Snapshot().Attribute("kept")
	require.True(t, ok)
	assert.Equal(t, "value", v.AsString())
}
