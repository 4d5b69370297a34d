package otelz

import (
	"encoding/hex"
)

// TraceFlags carries the W3C trace flags. Bit 0 is the sampled flag.
type TraceFlags uint8

// FlagsSampled marks a span as sampled.
const FlagsSampled TraceFlags = 0x01

// IsSampled reports whether the sampled bit is set.
func (f TraceFlags) IsSampled() bool {
	return f&FlagsSampled == FlagsSampled
}

// WithSampled returns f with the sampled bit set or cleared.
func (f TraceFlags) WithSampled(sampled bool) TraceFlags {
	if sampled {
		return f | FlagsSampled
	}
	return f &^ FlagsSampled
}

// String returns the two character hex encoding.
func (f TraceFlags) String() string {
	return hex.EncodeToString([]byte{byte(f)})
}

// SpanContext is the immutable, propagatable identity of a span.
type SpanContext struct {
	traceID    TraceID
	spanID     SpanID
	traceFlags TraceFlags
	traceState TraceState
	remote     bool
}

// SpanContextConfig holds the fields used to build a SpanContext.
type SpanContextConfig struct {
	TraceID    TraceID
	SpanID     SpanID
	TraceFlags TraceFlags
	TraceState TraceState
	Remote     bool
}

// NewSpanContext builds a SpanContext from config.
func NewSpanContext(config SpanContextConfig) SpanContext {
	return SpanContext{
		traceID:    config.TraceID,
		spanID:     config.SpanID,
		traceFlags: config.TraceFlags,
		traceState: config.TraceState,
		remote:     config.Remote,
	}
}

func (sc SpanContext) TraceID() TraceID       { return sc.traceID }
func (sc SpanContext) SpanID() SpanID         { return sc.spanID }
func (sc SpanContext) TraceFlags() TraceFlags { return sc.traceFlags }
func (sc SpanContext) TraceState() TraceState { return sc.traceState }
func (sc SpanContext) IsRemote() bool         { return sc.remote }
func (sc SpanContext) IsSampled() bool        { return sc.traceFlags.IsSampled() }

// IsValid reports whether both identifiers are non-zero.
func (sc SpanContext) IsValid() bool {
	return sc.traceID.IsValid() && sc.spanID.IsValid()
}

// Equal reports whether sc and other carry the same values.
func (sc SpanContext) Equal(other SpanContext) bool {
	return sc.traceID == other.traceID &&
		sc.spanID == other.spanID &&
		sc.traceFlags == other.traceFlags &&
		sc.traceState.String() == other.traceState.String() &&
		sc.remote == other.remote
}

// WithTraceState returns a copy of sc with ts.
func (sc SpanContext) WithTraceState(ts TraceState) SpanContext {
	sc.traceState = ts
	return sc
}

// WithRemote returns a copy of sc with the remote flag set to remote.
func (sc SpanContext) WithRemote(remote bool) SpanContext {
	sc.remote = remote
	return sc
}
