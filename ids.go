package otelz

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	mrand "math/rand/v2"
)

// ErrInvalidID is returned when a hex identifier cannot be parsed or is all zeros.
var ErrInvalidID = errors.New("otelz: invalid identifier")

// TraceID is a 16-byte trace identifier.
type TraceID [16]byte

// SpanID is an 8-byte span identifier.
type SpanID [8]byte

var (
	nilTraceID TraceID
	nilSpanID  SpanID
)

// IsValid reports whether the trace ID is non-zero.
func (t TraceID) IsValid() bool {
	return !bytes.Equal(t[:], nilTraceID[:])
}

// String returns the 32 character lowercase hex encoding.
func (t TraceID) String() string {
	return hex.EncodeToString(t[:])
}

// IsValid reports whether the span ID is non-zero.
func (s SpanID) IsValid() bool {
	return !bytes.Equal(s[:], nilSpanID[:])
}

// String returns the 16 character lowercase hex encoding.
func (s SpanID) String() string {
	return hex.EncodeToString(s[:])
}

// TraceIDFromHex parses a 32 character hex trace ID.
func TraceIDFromHex(h string) (TraceID, error) {
	var t TraceID
	if err := decodeHex(h, t[:]); err != nil {
		return TraceID{}, err
	}
	if !t.IsValid() {
		return TraceID{}, ErrInvalidID
	}
	return t, nil
}

// SpanIDFromHex parses a 16 character hex span ID.
func SpanIDFromHex(h string) (SpanID, error) {
	var s SpanID
	if err := decodeHex(h, s[:]); err != nil {
		return SpanID{}, err
	}
	if !s.IsValid() {
		return SpanID{}, ErrInvalidID
	}
	return s, nil
}

func decodeHex(h string, dst []byte) error {
	if len(h) != hex.EncodedLen(len(dst)) {
		return ErrInvalidID
	}
	// Only lowercase hex is accepted on the wire.
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ErrInvalidID
		}
	}
	if _, err := hex.Decode(dst, []byte(h)); err != nil {
		return ErrInvalidID
	}
	return nil
}

// IDGenerator produces trace and span identifiers.
// Implementations must never return the all-zero value.
type IDGenerator interface {
	NewTraceID() TraceID
	NewSpanID() SpanID
}

// randomIDGenerator draws identifiers from crypto/rand.
type randomIDGenerator struct {
	read func([]byte) error
}

// NewRandomIDGenerator returns the default generator.
func NewRandomIDGenerator() IDGenerator {
	return &randomIDGenerator{read: readRandom}
}

func readRandom(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// fill writes random bytes into b, retrying until the result is non-zero.
func (g *randomIDGenerator) fill(b []byte) {
	for {
		if err := g.read(b); err != nil {
			// Fallback to math/rand if the system source fails.
			for i := range b {
				b[i] = byte(mrand.Uint32())
			}
		}
		for _, v := range b {
			if v != 0 {
				return
			}
		}
	}
}

func (g *randomIDGenerator) NewTraceID() TraceID {
	var t TraceID
	g.fill(t[:])
	return t
}

func (g *randomIDGenerator) NewSpanID() SpanID {
	var s SpanID
	g.fill(s[:])
	return s
}

// pooledIDGenerator fronts a generator with pre-generated ID pools.
type pooledIDGenerator struct {
	traceIDs *IDPool[TraceID]
	spanIDs  *IDPool[SpanID]
}

func newPooledIDGenerator(gen IDGenerator, size int) *pooledIDGenerator {
	return &pooledIDGenerator{
		traceIDs: NewIDPool(size, gen.NewTraceID),
		spanIDs:  NewIDPool(size, gen.NewSpanID),
	}
}

func (p *pooledIDGenerator) NewTraceID() TraceID { return p.traceIDs.Get() }

func (p *pooledIDGenerator) NewSpanID() SpanID { return p.spanIDs.Get() }

func (p *pooledIDGenerator) Close() {
	p.traceIDs.Close()
	p.spanIDs.Close()
}
