package otelz

import "time"

type spanStartConfig struct {
	timestamp  time.Time
	parent     *Context
	attributes []Attribute
	links      []Link
	kind       SpanKind
	newRoot    bool
}

type spanEndConfig struct {
	timestamp time.Time
}

type eventConfig struct {
	timestamp  time.Time
	attributes []Attribute
}

// SpanStartOption configures Tracer.Start.
type SpanStartOption interface {
	applySpanStart(*spanStartConfig)
}

// SpanEndOption configures Span.End.
type SpanEndOption interface {
	applySpanEnd(*spanEndConfig)
}

// EventOption configures Span.AddEvent and Span.RecordError.
type EventOption interface {
	applyEvent(*eventConfig)
}

// SpanEventOption is accepted both at span start and by events.
type SpanEventOption interface {
	SpanStartOption
	EventOption
}

// SpanStartEndEventOption is accepted at span start, at span end and by events.
type SpanStartEndEventOption interface {
	SpanStartOption
	SpanEndOption
	EventOption
}

type startOptionFunc func(*spanStartConfig)

func (f startOptionFunc) applySpanStart(c *spanStartConfig) { f(c) }

type timestampOption time.Time

func (o timestampOption) applySpanStart(c *spanStartConfig) { c.timestamp = time.Time(o) }
func (o timestampOption) applySpanEnd(c *spanEndConfig)     { c.timestamp = time.Time(o) }
func (o timestampOption) applyEvent(c *eventConfig)         { c.timestamp = time.Time(o) }

// WithTimestamp sets an explicit start, end or event time.
func WithTimestamp(t time.Time) SpanStartEndEventOption {
	return timestampOption(t)
}

type attributeOption []Attribute

func (o attributeOption) applySpanStart(c *spanStartConfig) {
	c.attributes = append(c.attributes, o...)
}

func (o attributeOption) applyEvent(c *eventConfig) {
	c.attributes = append(c.attributes, o...)
}

// WithAttributes adds attributes to a span at start or to an event.
func WithAttributes(attrs ...Attribute) SpanEventOption {
	return attributeOption(attrs)
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanStartOption {
	return startOptionFunc(func(c *spanStartConfig) {
		c.kind = kind
	})
}

// WithLinks adds links to the span. Links can only be set at start.
func WithLinks(links ...Link) SpanStartOption {
	return startOptionFunc(func(c *spanStartConfig) {
		c.links = append(c.links, links...)
	})
}

// WithParent resolves the parent from parent instead of the active context.
func WithParent(parent Context) SpanStartOption {
	return startOptionFunc(func(c *spanStartConfig) {
		c.parent = &parent
	})
}

// WithNewRoot makes the span a root span regardless of any parent.
func WithNewRoot() SpanStartOption {
	return startOptionFunc(func(c *spanStartConfig) {
		c.newRoot = true
	})
}
