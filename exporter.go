package otelz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// Exporter receives batches of finished spans. The batch slice is owned by
// the exporter for the duration of the call only.
type Exporter interface {
	Export(ctx context.Context, spans []SpanData) error
	Shutdown(ctx context.Context) error
}

// ErrExporterShutdown is returned by Export after Shutdown.
var ErrExporterShutdown = errors.New("otelz: exporter is shut down")

// PanicError wraps a value recovered from a panicking exporter or processor.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("recovered from panic: %v", e.Value)
}

// safeExport calls exporter.Export, converting a panic into an error.
func safeExport(ctx context.Context, exporter Exporter, spans []SpanData) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r}
		}
	}()
	return exporter.Export(ctx, spans)
}

// safeShutdown calls exporter.Shutdown, converting a panic into an error.
func safeShutdown(ctx context.Context, exporter Exporter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r}
		}
	}()
	return exporter.Shutdown(ctx)
}

// InMemoryExporter buffers exported spans for inspection.
// Safe for concurrent use by multiple goroutines.
type InMemoryExporter struct {
	spans   []SpanData
	batches atomic.Int64
	mu      sync.Mutex
	stopped atomic.Bool
}

// NewInMemoryExporter creates an empty in-memory exporter.
func NewInMemoryExporter() *InMemoryExporter {
	return &InMemoryExporter{
		spans: make([]SpanData, 0, 8), // Start with small capacity.
	}
}

// Export appends spans to the buffer.
func (e *InMemoryExporter) Export(_ context.Context, spans []SpanData) error {
	if e.stopped.Load() {
		return ErrExporterShutdown
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.batches.Add(1)
	e.spans = append(e.spans, spans...)
	return nil
}

// Shutdown stops accepting spans. Buffered spans stay readable.
func (e *InMemoryExporter) Shutdown(context.Context) error {
	e.stopped.Store(true)
	return nil
}

// GetFinishedSpans returns a copy of the buffered spans.
func (e *InMemoryExporter) GetFinishedSpans() []SpanData {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.spans) == 0 {
		return nil
	}
	result := make([]SpanData, len(e.spans))
	copy(result, e.spans)
	return result
}

// Count returns the number of buffered spans.
func (e *InMemoryExporter) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.spans)
}

// Batches returns the number of Export calls received.
func (e *InMemoryExporter) Batches() int64 {
	return e.batches.Load()
}

// Reset clears the buffer.
func (e *InMemoryExporter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Only shrink if buffer is very oversized to avoid allocation churn.
	if cap(e.spans) > 256 && len(e.spans) < cap(e.spans)/8 {
		e.spans = make([]SpanData, 0, 32)
	} else {
		e.spans = e.spans[:0]
	}
	e.batches.Store(0)
}

// ConsoleExporter writes each span as one JSON line.
type ConsoleExporter struct {
	w      io.Writer
	mu     sync.Mutex
	pretty bool
}

// NewConsoleExporter creates an exporter writing to w, or stdout if w is nil.
func NewConsoleExporter(w io.Writer, pretty bool) *ConsoleExporter {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleExporter{w: w, pretty: pretty}
}

// Export encodes spans to the writer.
func (e *ConsoleExporter) Export(ctx context.Context, spans []SpanData) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	enc := json.NewEncoder(e.w)
	if e.pretty {
		enc.SetIndent("", "  ")
	}
	for i := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(newJSONSpan(spans[i])); err != nil {
			return fmt.Errorf("encode span %q: %w", spans[i].Name, err)
		}
	}
	return nil
}

// Shutdown is a no-op.
func (*ConsoleExporter) Shutdown(context.Context) error {
	return nil
}

type jsonLink struct {
	TraceID    string      `json:"trace_id"`
	SpanID     string      `json:"span_id"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

//nolint:govet // Field alignment optimized for JSON serialization order
type jsonSpan struct {
	Name       string         `json:"name"`
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	TraceState string         `json:"trace_state,omitempty"`
	Kind       string         `json:"kind"`
	Scope      string         `json:"scope,omitempty"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	Duration   time.Duration  `json:"duration"`
	Attributes []Attribute    `json:"attributes,omitempty"`
	Events     []Event        `json:"events,omitempty"`
	Links      []jsonLink     `json:"links,omitempty"`
	Status     Status         `json:"status"`
	Dropped    map[string]int `json:"dropped,omitempty"`
}

func newJSONSpan(d SpanData) jsonSpan {
	js := jsonSpan{
		Name:       d.Name,
		TraceID:    d.SpanContext.TraceID().String(),
		SpanID:     d.SpanContext.SpanID().String(),
		TraceState: d.SpanContext.TraceState().String(),
		Kind:       d.Kind.String(),
		Scope:      d.InstrumentationName,
		StartTime:  d.StartTime,
		EndTime:    d.EndTime,
		Duration:   d.Duration,
		Attributes: d.Attributes,
		Events:     d.Events,
		Status:     d.Status,
	}
	if d.Parent.SpanID().IsValid() {
		js.ParentID = d.Parent.SpanID().String()
	}
	for _, l := range d.Links {
		js.Links = append(js.Links, jsonLink{
			TraceID:    l.SpanContext.TraceID().String(),
			SpanID:     l.SpanContext.SpanID().String(),
			Attributes: l.Attributes,
		})
	}
	if d.DroppedAttributeCount+d.DroppedEventCount+d.DroppedLinkCount > 0 {
		js.Dropped = map[string]int{
			"attributes": d.DroppedAttributeCount,
			"events":     d.DroppedEventCount,
			"links":      d.DroppedLinkCount,
		}
	}
	return js
}

// BreakerExporter guards an exporter with a circuit breaker. While the
// breaker is open, batches fail immediately without reaching the backend.
type BreakerExporter struct {
	next Exporter
	cb   *gobreaker.CircuitBreaker
}

// BreakerSettings configures a BreakerExporter.
type BreakerSettings struct {
	// Name identifies the breaker in state change callbacks.
	Name string
	// ConsecutiveFailures opens the breaker. Defaults to 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open. Defaults to 30s.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial exports while half open. Defaults to 1.
	HalfOpenRequests uint32
	// OnStateChange is called when the breaker changes state.
	OnStateChange func(name string, from, to gobreaker.State)
}

// NewBreakerExporter wraps next with a circuit breaker.
func NewBreakerExporter(next Exporter, settings BreakerSettings) *BreakerExporter {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = 1
	}
	failures := settings.ConsecutiveFailures
	return &BreakerExporter{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: settings.HalfOpenRequests,
			Timeout:     settings.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: settings.OnStateChange,
		}),
	}
}

// Export forwards spans unless the breaker is open.
func (e *BreakerExporter) Export(ctx context.Context, spans []SpanData) error {
	_, err := e.cb.Execute(func() (interface{}, error) {
		return nil, e.next.Export(ctx, spans)
	})
	return err
}

// Shutdown shuts the wrapped exporter down.
func (e *BreakerExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}

// State returns the current breaker state.
func (e *BreakerExporter) State() gobreaker.State {
	return e.cb.State()
}
