package otelz

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testSpanContext(t *testing.T, sampled bool) SpanContext {
	t.Helper()
	tid, err := TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	return NewSpanContext(SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: TraceFlags(0).WithSampled(sampled),
	})
}

// sequentialIDs hands out predictable identifiers.
type sequentialIDs struct {
	mu   sync.Mutex
	next uint64
}

func (g *sequentialIDs) bump() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.next
}

func (g *sequentialIDs) NewTraceID() TraceID {
	n := g.bump()
	var t TraceID
	for i := 0; i < 8; i++ {
		t[15-i] = byte(n >> (8 * i))
	}
	return t
}

func (g *sequentialIDs) NewSpanID() SpanID {
	n := g.bump()
	var s SpanID
	for i := 0; i < 8; i++ {
		s[7-i] = byte(n >> (8 * i))
	}
	return s
}

// recordingProcessor remembers every callback it receives.
type recordingProcessor struct {
	mu       sync.Mutex
	name     string
	calls    *[]string
	started  []*Span
	parents  []Context
	ended    []SpanData
	flushes  int
	shutdown int
	err      error
}

func (p *recordingProcessor) log(event string) {
	if p.calls != nil {
		*p.calls = append(*p.calls, p.name+"."+event)
	}
}

func (p *recordingProcessor) OnStart(parent Context, s *Span) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log("OnStart")
	p.started = append(p.started, s)
	p.parents = append(p.parents, parent)
}

func (p *recordingProcessor) OnEnd(s SpanData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log("OnEnd")
	p.ended = append(p.ended, s)
}

func (p *recordingProcessor) ForceFlush(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return p.err
}

func (p *recordingProcessor) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdown++
	return p.err
}

func (p *recordingProcessor) endedSpans() []SpanData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SpanData(nil), p.ended...)
}

// failingExporter rejects every batch.
type failingExporter struct {
	mu       sync.Mutex
	attempts int
	sizes    []int
}

var errExportRejected = errors.New("backend rejected batch")

func (e *failingExporter) Export(_ context.Context, spans []SpanData) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts++
	e.sizes = append(e.sizes, len(spans))
	return errExportRejected
}

func (*failingExporter) Shutdown(context.Context) error { return nil }

// blockingExporter blocks every export until release is closed.
type blockingExporter struct {
	release   chan struct{}
	entered   chan struct{}
	shutdowns atomic.Int32
}

func newBlockingExporter() *blockingExporter {
	return &blockingExporter{
		release: make(chan struct{}),
		entered: make(chan struct{}, 16),
	}
}

func (e *blockingExporter) Export(context.Context, []SpanData) error {
	e.entered <- struct{}{}
	<-e.release
	return nil
}

func (e *blockingExporter) Shutdown(context.Context) error {
	e.shutdowns.Add(1)
	return nil
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&syncWriter{w: &buf}, nil)), &buf
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// newTestProvider builds a provider with a fake clock and predictable IDs.
func newTestProvider(t *testing.T, opts ...ProviderOption) (*TracerProvider, *clockz.FakeClock) {
	t.Helper()
	clock := clockz.NewFakeClockAt(testEpoch)
	base := []ProviderOption{
		WithClock(clock),
		WithIDGenerator(&sequentialIDs{}),
	}
	p := NewTracerProvider(append(base, opts...)...)
	t.Cleanup(func() {
		_ = p.Shutdown(context.Background())
	})
	return p, clock
}
