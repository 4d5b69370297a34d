package otelz

import (
	"context"
)

// Key is an opaque context key. Keys are compared by identity, so two keys
// created with the same name never collide.
type Key struct {
	name string
}

// NewKey creates a new context key. The name is only used for debugging.
func NewKey(name string) *Key {
	return &Key{name: name}
}

// String returns the debug name of the key.
func (k *Key) String() string {
	return k.name
}

// Context is an immutable set of values keyed by *Key.
// Derived contexts share every unchanged entry with their parent.
//
// The zero value is the empty root context.
type Context struct {
	node *contextNode
}

type contextNode struct {
	parent  *contextNode
	key     *Key
	value   any
	deleted bool
}

// Background returns the empty root context.
func Background() Context {
	return Context{}
}

// Value returns the value stored for key, or nil.
func (c Context) Value(key *Key) any {
	for n := c.node; n != nil; n = n.parent {
		if n.key == key {
			if n.deleted {
				return nil
			}
			return n.value
		}
	}
	return nil
}

// WithValue returns a new Context with key set to value.
func (c Context) WithValue(key *Key, value any) Context {
	return Context{node: &contextNode{parent: c.node, key: key, value: value}}
}

// WithoutValue returns a new Context with key removed.
func (c Context) WithoutValue(key *Key) Context {
	if c.Value(key) == nil {
		return c
	}
	return Context{node: &contextNode{parent: c.node, key: key, deleted: true}}
}

// IsRoot reports whether c is the empty root context.
func (c Context) IsRoot() bool {
	return c.node == nil
}

// Equal reports whether c and other are the same context value.
func (c Context) Equal(other Context) bool {
	return c.node == other.node
}

var (
	spanKey = NewKey("otelz.span")
)

// ContextWithSpan returns a copy of parent carrying span as the active span.
func ContextWithSpan(parent Context, span *Span) Context {
	return parent.WithValue(spanKey, span)
}

// ContextWithSpanContext returns a copy of parent carrying a non-recording
// span built from sc. It is used to parent local spans on remote ones.
func ContextWithSpanContext(parent Context, sc SpanContext) Context {
	return ContextWithSpan(parent, nonRecordingSpan(sc))
}

// SpanFromContext returns the span carried by c, or nil.
func SpanFromContext(c Context) *Span {
	s, _ := c.Value(spanKey).(*Span)
	return s
}

// SpanContextFromContext returns the SpanContext of the span carried by c.
// It returns the zero SpanContext if there is none.
func SpanContextFromContext(c Context) SpanContext {
	if s := SpanFromContext(c); s != nil {
		return s.SpanContext()
	}
	return SpanContext{}
}

// stdKeyType is a private type for context.Context keys to avoid collisions.
type stdKeyType string

const stdKey stdKeyType = "otelz"

// NewContext returns a context.Context carrying c.
func NewContext(ctx context.Context, c Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, stdKey, c)
}

// FromContext extracts the Context carried by ctx.
// The boolean is false if ctx carries none.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	c, ok := ctx.Value(stdKey).(Context)
	return c, ok
}
