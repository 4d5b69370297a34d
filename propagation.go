package otelz

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	traceparentHeader = "traceparent"
	tracestateHeader  = "tracestate"

	supportedVersion = 0
	maxVersion       = 254
)

// ErrInvalidTraceParent is returned for malformed traceparent values.
var ErrInvalidTraceParent = errors.New("otelz: invalid traceparent")

// TextMapCarrier is the storage medium used by a propagator.
type TextMapCarrier interface {
	Get(key string) string
	Set(key, value string)
	Keys() []string
}

// MapCarrier is a TextMapCarrier backed by a map.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string { return c[key] }

func (c MapCarrier) Set(key, value string) { c[key] = value }

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// HeaderCarrier adapts http.Header to TextMapCarrier.
type HeaderCarrier http.Header

func (c HeaderCarrier) Get(key string) string { return http.Header(c).Get(key) }

func (c HeaderCarrier) Set(key, value string) { http.Header(c).Set(key, value) }

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// TextMapPropagator moves span contexts across process boundaries.
type TextMapPropagator interface {
	Inject(c Context, carrier TextMapCarrier)
	Extract(c Context, carrier TextMapCarrier) Context
	Fields() []string
}

// TraceContext implements the W3C Trace Context traceparent and
// tracestate headers.
type TraceContext struct{}

var _ TextMapPropagator = TraceContext{}

// Inject writes the span context carried by c into carrier. Nothing is
// written for an invalid span context.
func (TraceContext) Inject(c Context, carrier TextMapCarrier) {
	sc := SpanContextFromContext(c)
	if !sc.IsValid() {
		return
	}
	if ts := sc.TraceState().String(); ts != "" {
		carrier.Set(tracestateHeader, ts)
	}
	carrier.Set(traceparentHeader, FormatTraceParent(sc))
}

// Extract returns c carrying the remote span context found in carrier. If
// the carrier holds no valid traceparent, c is returned unchanged.
func (TraceContext) Extract(c Context, carrier TextMapCarrier) Context {
	sc, err := ParseTraceParent(carrier.Get(traceparentHeader))
	if err != nil {
		return c
	}
	// An invalid tracestate is dropped without discarding the parent.
	if ts, err := ParseTraceState(carrier.Get(tracestateHeader)); err == nil {
		sc = sc.WithTraceState(ts)
	}
	return ContextWithSpanContext(c, sc)
}

// Fields returns the header names this propagator writes.
func (TraceContext) Fields() []string {
	return []string{traceparentHeader, tracestateHeader}
}

// FormatTraceParent encodes sc as a version 00 traceparent value.
func FormatTraceParent(sc SpanContext) string {
	flags := sc.TraceFlags() & FlagsSampled
	return fmt.Sprintf("%02x-%s-%s-%s", supportedVersion, sc.TraceID(), sc.SpanID(), flags)
}

// ParseTraceParent decodes a traceparent value into a remote SpanContext.
//
// Format: version-traceid-spanid-flags. Versions above 00 may carry extra
// fields after the flags, which are ignored.
func ParseTraceParent(header string) (SpanContext, error) {
	header = strings.TrimSpace(header)
	parts := strings.Split(header, "-")
	if len(parts) < 4 {
		return SpanContext{}, fmt.Errorf("%w: %q", ErrInvalidTraceParent, header)
	}

	ver, err := hex.DecodeString(parts[0])
	if err != nil || len(ver) != 1 || ver[0] > maxVersion {
		return SpanContext{}, fmt.Errorf("%w: version %q", ErrInvalidTraceParent, parts[0])
	}
	if ver[0] == supportedVersion && len(parts) != 4 {
		return SpanContext{}, fmt.Errorf("%w: %q", ErrInvalidTraceParent, header)
	}

	traceID, err := TraceIDFromHex(parts[1])
	if err != nil {
		return SpanContext{}, fmt.Errorf("%w: trace id %q", ErrInvalidTraceParent, parts[1])
	}
	spanID, err := SpanIDFromHex(parts[2])
	if err != nil {
		return SpanContext{}, fmt.Errorf("%w: span id %q", ErrInvalidTraceParent, parts[2])
	}

	if len(parts[3]) != 2 {
		return SpanContext{}, fmt.Errorf("%w: flags %q", ErrInvalidTraceParent, parts[3])
	}
	opts, err := hex.DecodeString(parts[3])
	if err != nil {
		return SpanContext{}, fmt.Errorf("%w: flags %q", ErrInvalidTraceParent, parts[3])
	}

	return NewSpanContext(SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: TraceFlags(opts[0]) & FlagsSampled,
		Remote:     true,
	}), nil
}
