package otelz

import (
	"context"
)

// Tracer creates spans for one instrumentation scope.
// Safe for concurrent use by multiple goroutines.
type Tracer struct {
	provider *TracerProvider
	name     string
	version  string
}

// Name returns the instrumentation scope name.
func (t *Tracer) Name() string {
	return t.name
}

// Start creates a span. The parent is taken from WithParent if given,
// otherwise from the provider's ContextManager.
func (t *Tracer) Start(name string, opts ...SpanStartOption) *Span {
	cfg := newSpanStartConfig(opts)
	parent := t.provider.manager.Active()
	if cfg.parent != nil {
		parent = *cfg.parent
	}
	return t.start(parent, name, &cfg)
}

// StartSpan creates a span whose parent is carried by ctx and returns a
// context carrying the new span. If ctx carries no Context, the provider's
// ContextManager is consulted.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanStartOption) (context.Context, *Span) {
	// Handle nil context by creating a new one.
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := newSpanStartConfig(opts)
	parent, ok := FromContext(ctx)
	if !ok {
		parent = t.provider.manager.Active()
	}
	if cfg.parent != nil {
		parent = *cfg.parent
	}

	span := t.start(parent, name, &cfg)
	return NewContext(ctx, ContextWithSpan(parent, span)), span
}

// Run starts a span, runs fn with the span's context active on the
// provider's ContextManager, and ends the span. A non-nil error from fn is
// recorded on the span and returned unchanged.
func (t *Tracer) Run(name string, fn func(*Span) error, opts ...SpanStartOption) error {
	cfg := newSpanStartConfig(opts)
	m := t.provider.manager
	parent := m.Active()
	if cfg.parent != nil {
		parent = *cfg.parent
	}

	span := t.start(parent, name, &cfg)
	defer span.End()

	var err error
	m.With(ContextWithSpan(parent, span), func() {
		err = fn(span)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(Error, err.Error())
	}
	return err
}

func newSpanStartConfig(opts []SpanStartOption) spanStartConfig {
	cfg := spanStartConfig{}
	for _, opt := range opts {
		opt.applySpanStart(&cfg)
	}
	return cfg
}

// start builds the span, applies the sampler, and notifies processors.
func (t *Tracer) start(parent Context, name string, cfg *spanStartConfig) *Span {
	p := t.provider
	if cfg.newRoot {
		parent = parent.WithoutValue(spanKey)
	}
	psc := SpanContextFromContext(parent)

	// Reuse a valid parent trace ID; always generate a fresh span ID.
	tid := psc.TraceID()
	if !tid.IsValid() {
		tid = p.idGenerator.NewTraceID()
	}
	sid := p.idGenerator.NewSpanID()

	if p.isShutdown.Load() {
		return &Span{
			tracer: t,
			name:   name,
			sc: NewSpanContext(SpanContextConfig{
				TraceID:    tid,
				SpanID:     sid,
				TraceFlags: psc.TraceFlags().WithSampled(false),
				TraceState: psc.TraceState(),
			}),
		}
	}

	res := p.sample(SamplingParameters{
		ParentContext: parent,
		TraceID:       tid,
		Name:          name,
		Kind:          cfg.kind,
		Attributes:    cfg.attributes,
		Links:         cfg.links,
	})

	span := &Span{
		tracer: t,
		name:   name,
		kind:   cfg.kind,
		parent: psc,
		sc: NewSpanContext(SpanContextConfig{
			TraceID:    tid,
			SpanID:     sid,
			TraceFlags: psc.TraceFlags().WithSampled(res.Decision == RecordAndSample),
			TraceState: res.TraceState,
		}),
		recording: res.Decision != Drop,
	}
	if !span.recording {
		return span
	}

	span.startTime = cfg.timestamp
	if span.startTime.IsZero() {
		span.startTime = p.clock.Now()
	}

	limits := p.limits
	span.attrs = newAttributeSet(limits.AttributeCountLimit, limits.AttributeValueLengthLimit)
	span.attrs.add(res.Attributes...)
	span.attrs.add(cfg.attributes...)

	for _, l := range cfg.links {
		if !l.SpanContext.IsValid() {
			continue
		}
		if limits.LinkCountLimit >= 0 && len(span.links) >= limits.LinkCountLimit {
			span.droppedLinks++
			continue
		}
		attrs, dropped := limitAttributes(l.Attributes, limits.AttributePerLinkCountLimit, limits.AttributeValueLengthLimit)
		span.links = append(span.links, Link{
			SpanContext:           l.SpanContext,
			Attributes:            attrs,
			DroppedAttributeCount: dropped + l.DroppedAttributeCount,
		})
	}

	p.onStart(parent, span)
	return span
}
