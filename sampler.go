package otelz

import (
	"encoding/binary"
	"fmt"
)

// SamplingDecision is the outcome of a sampling decision.
type SamplingDecision int

const (
	// Drop creates a non-recording span that is never exported.
	Drop SamplingDecision = iota
	// RecordOnly records the span but does not set the sampled flag.
	RecordOnly
	// RecordAndSample records the span and sets the sampled flag.
	RecordAndSample
)

func (d SamplingDecision) String() string {
	switch d {
	case RecordOnly:
		return "RecordOnly"
	case RecordAndSample:
		return "RecordAndSample"
	}
	return "Drop"
}

// SamplingParameters are the inputs to a sampling decision.
type SamplingParameters struct {
	ParentContext Context
	Name          string
	Attributes    []Attribute
	Links         []Link
	TraceID       TraceID
	Kind          SpanKind
}

// SamplingResult is the output of a sampling decision.
type SamplingResult struct {
	Attributes []Attribute
	TraceState TraceState
	Decision   SamplingDecision
}

// Sampler decides whether a span is recorded and exported.
// ShouldSample must be pure and must not block.
type Sampler interface {
	ShouldSample(p SamplingParameters) SamplingResult
	Description() string
}

type alwaysOnSampler struct{}

func (alwaysOnSampler) ShouldSample(p SamplingParameters) SamplingResult {
	return SamplingResult{
		Decision:   RecordAndSample,
		TraceState: SpanContextFromContext(p.ParentContext).TraceState(),
	}
}

func (alwaysOnSampler) Description() string { return "AlwaysOnSampler" }

// AlwaysOn samples every span.
func AlwaysOn() Sampler {
	return alwaysOnSampler{}
}

type alwaysOffSampler struct{}

func (alwaysOffSampler) ShouldSample(p SamplingParameters) SamplingResult {
	return SamplingResult{
		Decision:   Drop,
		TraceState: SpanContextFromContext(p.ParentContext).TraceState(),
	}
}

func (alwaysOffSampler) Description() string { return "AlwaysOffSampler" }

// AlwaysOff drops every span.
func AlwaysOff() Sampler {
	return alwaysOffSampler{}
}

type traceIDRatioSampler struct {
	description string
	upperBound  uint64
}

func (s traceIDRatioSampler) ShouldSample(p SamplingParameters) SamplingResult {
	ts := SpanContextFromContext(p.ParentContext).TraceState()
	x := binary.BigEndian.Uint64(p.TraceID[8:16]) >> 1
	if x < s.upperBound {
		return SamplingResult{Decision: RecordAndSample, TraceState: ts}
	}
	return SamplingResult{Decision: Drop, TraceState: ts}
}

func (s traceIDRatioSampler) Description() string { return s.description }

// TraceIDRatioBased samples a fraction of traces. The decision depends only
// on the trace ID, so every span of a trace gets the same answer.
// A ratio >= 1 samples everything and a ratio <= 0 samples nothing.
func TraceIDRatioBased(ratio float64) Sampler {
	if ratio >= 1 {
		return AlwaysOn()
	}
	if ratio <= 0 {
		ratio = 0
	}
	return traceIDRatioSampler{
		upperBound:  uint64(ratio * (1 << 63)),
		description: fmt.Sprintf("TraceIDRatioBased{%g}", ratio),
	}
}

type parentBasedConfig struct {
	remoteParentSampled    Sampler
	remoteParentNotSampled Sampler
	localParentSampled     Sampler
	localParentNotSampled  Sampler
}

// ParentBasedOption overrides one branch of a ParentBased sampler.
type ParentBasedOption func(*parentBasedConfig)

// WithRemoteParentSampled sets the sampler for sampled remote parents.
func WithRemoteParentSampled(s Sampler) ParentBasedOption {
	return func(c *parentBasedConfig) { c.remoteParentSampled = s }
}

// WithRemoteParentNotSampled sets the sampler for unsampled remote parents.
func WithRemoteParentNotSampled(s Sampler) ParentBasedOption {
	return func(c *parentBasedConfig) { c.remoteParentNotSampled = s }
}

// WithLocalParentSampled sets the sampler for sampled local parents.
func WithLocalParentSampled(s Sampler) ParentBasedOption {
	return func(c *parentBasedConfig) { c.localParentSampled = s }
}

// WithLocalParentNotSampled sets the sampler for unsampled local parents.
func WithLocalParentNotSampled(s Sampler) ParentBasedOption {
	return func(c *parentBasedConfig) { c.localParentNotSampled = s }
}

type parentBasedSampler struct {
	root   Sampler
	config parentBasedConfig
}

// ParentBased follows the parent's sampled flag when a valid parent exists
// and otherwise delegates to root.
func ParentBased(root Sampler, opts ...ParentBasedOption) Sampler {
	cfg := parentBasedConfig{
		remoteParentSampled:    AlwaysOn(),
		remoteParentNotSampled: AlwaysOff(),
		localParentSampled:     AlwaysOn(),
		localParentNotSampled:  AlwaysOff(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return parentBasedSampler{root: root, config: cfg}
}

func (s parentBasedSampler) ShouldSample(p SamplingParameters) SamplingResult {
	psc := SpanContextFromContext(p.ParentContext)
	if !psc.IsValid() {
		return s.root.ShouldSample(p)
	}
	switch {
	case psc.IsRemote() && psc.IsSampled():
		return s.config.remoteParentSampled.ShouldSample(p)
	case psc.IsRemote():
		return s.config.remoteParentNotSampled.ShouldSample(p)
	case psc.IsSampled():
		return s.config.localParentSampled.ShouldSample(p)
	default:
		return s.config.localParentNotSampled.ShouldSample(p)
	}
}

func (s parentBasedSampler) Description() string {
	return fmt.Sprintf("ParentBased{root:%s,remoteParentSampled:%s,remoteParentNotSampled:%s,localParentSampled:%s,localParentNotSampled:%s}",
		s.root.Description(),
		s.config.remoteParentSampled.Description(),
		s.config.remoteParentNotSampled.Description(),
		s.config.localParentSampled.Description(),
		s.config.localParentNotSampled.Description(),
	)
}
