package otelz

import (
	"fmt"
	"sync"
	"time"
)

// SpanKind describes the relationship of a span to its callers and callees.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer
)

func (k SpanKind) String() string {
	switch k {
	case SpanKindInternal:
		return "internal"
	case SpanKindServer:
		return "server"
	case SpanKindClient:
		return "client"
	case SpanKindProducer:
		return "producer"
	case SpanKindConsumer:
		return "consumer"
	}
	return "unknown"
}

// StatusCode is the outcome of a span. Ok is final, Error overrides Unset.
type StatusCode int

const (
	Unset StatusCode = iota
	Error
	Ok
)

func (c StatusCode) String() string {
	switch c {
	case Error:
		return "Error"
	case Ok:
		return "Ok"
	}
	return "Unset"
}

// Status is the status recorded on a span.
type Status struct {
	Code        StatusCode `json:"code"`
	Description string     `json:"description,omitempty"`
}

// Event is a timestamped annotation on a span.
type Event struct {
	Time                  time.Time   `json:"time"`
	Name                  string      `json:"name"`
	Attributes            []Attribute `json:"attributes,omitempty"`
	DroppedAttributeCount int         `json:"dropped_attribute_count,omitempty"`
}

// Link associates a span with another span context.
type Link struct {
	SpanContext           SpanContext `json:"-"`
	Attributes            []Attribute `json:"attributes,omitempty"`
	DroppedAttributeCount int         `json:"dropped_attribute_count,omitempty"`
}

// Span records one unit of work. Mutators are safe for concurrent use and
// become no-ops once the span has ended or if the span is not recording.
//
//nolint:govet // Field order optimized for readability over memory
type Span struct {
	startTime     time.Time
	endTime       time.Time
	tracer        *Tracer
	name          string
	events        []Event
	links         []Link
	attrs         attributeSet
	status        Status
	sc            SpanContext
	parent        SpanContext
	kind          SpanKind
	droppedEvents int
	droppedLinks  int
	mu            sync.Mutex
	recording     bool
	ended         bool
	warned        bool
}

// nonRecordingSpan wraps sc in a span that records nothing.
func nonRecordingSpan(sc SpanContext) *Span {
	return &Span{sc: sc}
}

// SpanContext returns the immutable identity of the span.
func (s *Span) SpanContext() SpanContext {
	if s == nil {
		return SpanContext{}
	}
	return s.sc
}

// IsRecording reports whether the span records data. It is false for
// dropped spans and for spans that have ended.
func (s *Span) IsRecording() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording && !s.ended
}

// Ended reports whether End has been called.
func (s *Span) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// mutable must be called with s.mu held. It reports whether a mutator may
// proceed and warns once per span about writes after end.
func (s *Span) mutable(op string) bool {
	if s.ended {
		s.warnEnded(op)
		return false
	}
	return s.recording
}

func (s *Span) warnEnded(op string) {
	if s.warned || s.tracer == nil {
		return
	}
	s.warned = true
	s.tracer.provider.logger.Warn("operation on ended span ignored",
		"operation", op,
		"span.name", s.name,
		"trace.id", s.sc.traceID.String(),
		"span.id", s.sc.spanID.String(),
	)
}

// SetAttributes records attributes. Past the attribute count limit, new
// keys are dropped while existing keys are still overwritten.
func (s *Span) SetAttributes(attrs ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mutable("SetAttributes") {
		return
	}
	s.attrs.add(attrs...)
}

// AddEvent records an event. Past the event count limit, the oldest event
// is evicted.
func (s *Span) AddEvent(name string, opts ...EventOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mutable("AddEvent") {
		return
	}
	s.addEventLocked(name, opts...)
}

func (s *Span) addEventLocked(name string, opts ...EventOption) {
	cfg := eventConfig{}
	for _, opt := range opts {
		opt.applyEvent(&cfg)
	}
	if cfg.timestamp.IsZero() {
		cfg.timestamp = s.tracer.provider.clock.Now()
	}
	limits := s.tracer.provider.limits
	attrs, dropped := limitAttributes(cfg.attributes, limits.AttributePerEventCountLimit, limits.AttributeValueLengthLimit)
	ev := Event{
		Name:                  name,
		Time:                  cfg.timestamp,
		Attributes:            attrs,
		DroppedAttributeCount: dropped,
	}

	limit := limits.EventCountLimit
	switch {
	case limit == 0:
		s.droppedEvents++
	case limit > 0 && len(s.events) >= limit:
		copy(s.events, s.events[1:])
		s.events[len(s.events)-1] = ev
		s.droppedEvents++
	default:
		s.events = append(s.events, ev)
	}
}

// RecordError records err as an exception event. It does not change the
// span status.
func (s *Span) RecordError(err error, opts ...EventOption) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mutable("RecordError") {
		return
	}
	opts = append(opts[:len(opts):len(opts)], WithAttributes(
		String("exception.type", fmt.Sprintf("%T", err)),
		String("exception.message", err.Error()),
	))
	s.addEventLocked("exception", opts...)
}

// SetStatus sets the span status. Unset is ignored and Ok is final. The
// description is only kept for Error.
func (s *Span) SetStatus(code StatusCode, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mutable("SetStatus") {
		return
	}
	if code == Unset || s.status.Code == Ok {
		return
	}
	st := Status{Code: code}
	if code == Error {
		st.Description = description
	}
	s.status = st
}

// UpdateName renames the span.
func (s *Span) UpdateName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mutable("UpdateName") {
		return
	}
	s.name = name
}

// End completes the span and hands a snapshot to the span processors.
// Calls after the first are no-ops.
func (s *Span) End(opts ...SpanEndOption) {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.ended {
		s.warnEnded("End")
		s.mu.Unlock()
		return
	}
	s.ended = true
	if !s.recording {
		s.mu.Unlock()
		return
	}

	cfg := spanEndConfig{}
	for _, opt := range opts {
		opt.applySpanEnd(&cfg)
	}
	end := cfg.timestamp
	if end.IsZero() {
		end = s.tracer.provider.clock.Now()
	}
	if end.Before(s.startTime) {
		end = s.startTime
	}
	s.endTime = end
	data := s.snapshotLocked()
	s.mu.Unlock()

	s.tracer.provider.onEnd(data)
}

// Snapshot returns a read-only copy of the span's current state.
func (s *Span) Snapshot() SpanData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Span) snapshotLocked() SpanData {
	d := SpanData{
		Name:                  s.name,
		SpanContext:           s.sc,
		Parent:                s.parent,
		Kind:                  s.kind,
		StartTime:             s.startTime,
		EndTime:               s.endTime,
		Attributes:            s.attrs.copyAttrs(),
		Status:                s.status,
		DroppedAttributeCount: s.attrs.dropped,
		DroppedEventCount:     s.droppedEvents,
		DroppedLinkCount:      s.droppedLinks,
	}
	if !s.endTime.IsZero() {
		d.Duration = s.endTime.Sub(s.startTime)
	}
	if s.tracer != nil {
		d.InstrumentationName = s.tracer.name
		d.InstrumentationVersion = s.tracer.version
	}
	if len(s.events) > 0 {
		d.Events = append([]Event(nil), s.events...)
	}
	if len(s.links) > 0 {
		d.Links = append([]Link(nil), s.links...)
	}
	return d
}

// SpanData is the read-only view of a span handed to processors and exporters.
//
//nolint:govet // Field order optimized for readability over memory
type SpanData struct {
	StartTime              time.Time
	EndTime                time.Time
	Name                   string
	InstrumentationName    string
	InstrumentationVersion string
	Attributes             []Attribute
	Events                 []Event
	Links                  []Link
	Status                 Status
	SpanContext            SpanContext
	Parent                 SpanContext
	Duration               time.Duration
	Kind                   SpanKind
	DroppedAttributeCount  int
	DroppedEventCount      int
	DroppedLinkCount       int
}

// ParentSpanID returns the parent's span ID, or the zero SpanID for roots.
func (d SpanData) ParentSpanID() SpanID {
	return d.Parent.SpanID()
}

// Attribute returns the value recorded for key.
func (d SpanData) Attribute(key string) (Value, bool) {
	for _, a := range d.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return Value{}, false
}
