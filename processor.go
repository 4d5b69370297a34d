package otelz

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrProcessorShutdown is returned by operations on a processor that has
// already been shut down.
var ErrProcessorShutdown = errors.New("otelz: span processor is shut down")

// SpanProcessor is a stage of the span pipeline. OnStart and OnEnd are
// called synchronously, in registration order, and must not block.
type SpanProcessor interface {
	// OnStart is called when a recording span starts.
	OnStart(parent Context, s *Span)
	// OnEnd is called with a read-only snapshot when a recording span ends.
	OnEnd(s SpanData)
	// ForceFlush exports everything buffered so far.
	ForceFlush(ctx context.Context) error
	// Shutdown flushes and releases resources. Later calls to OnEnd are ignored.
	Shutdown(ctx context.Context) error
}

// SimpleSpanProcessor exports each sampled span synchronously as it ends.
// It blocks the caller of Span.End for the duration of the export, so it
// is meant for tests and debugging.
type SimpleSpanProcessor struct {
	exporter Exporter
	logger   *slog.Logger
	mu       sync.Mutex
	stopped  atomic.Bool
}

// NewSimpleSpanProcessor creates a processor exporting to exporter.
func NewSimpleSpanProcessor(exporter Exporter, logger *slog.Logger) *SimpleSpanProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimpleSpanProcessor{exporter: exporter, logger: logger}
}

func (*SimpleSpanProcessor) OnStart(Context, *Span) {}

func (p *SimpleSpanProcessor) OnEnd(s SpanData) {
	if p.stopped.Load() || !s.SpanContext.IsSampled() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := safeExport(context.Background(), p.exporter, []SpanData{s}); err != nil {
		p.logger.Warn("span export failed", "span.name", s.Name, "error", err)
	}
}

func (p *SimpleSpanProcessor) ForceFlush(context.Context) error {
	if p.stopped.Load() {
		return ErrProcessorShutdown
	}
	return nil
}

func (p *SimpleSpanProcessor) Shutdown(ctx context.Context) error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return safeShutdown(ctx, p.exporter)
}
