package otelz

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// ContextManager tracks the active Context for one logical thread of control.
type ContextManager interface {
	// Active returns the active context, or the root context if none is set.
	Active() Context
	// With runs fn with c active and restores the previous context when fn
	// returns or panics.
	With(c Context, fn func())
	// Bind returns a function that runs fn with c active whenever it is called.
	Bind(c Context, fn func()) func()
	// Disable drops all active contexts. Active returns the root afterwards.
	Disable()
}

// Within runs fn with c active on m and returns fn's result.
func Within[T any](m ContextManager, c Context, fn func() T) T {
	var result T
	m.With(c, func() {
		result = fn()
	})
	return result
}

// StackManager keeps one LIFO stack of active contexts per goroutine, so
// each goroutine is its own logical thread of control. Safe for concurrent
// use; activations on one goroutine are never visible on another. Hand the
// active context to a new goroutine with Go or Bind.
type StackManager struct {
	stacks   sync.Map // goroutine id -> *contextStack
	root     Context
	disabled atomic.Bool
}

// contextStack is only touched by the goroutine that owns it.
type contextStack struct {
	items []Context
}

// NewStackManager creates a manager whose Active context starts as the root.
func NewStackManager() *StackManager {
	return &StackManager{}
}

// newStackManagerAt creates a manager whose base context is root.
func newStackManagerAt(root Context) *StackManager {
	return &StackManager{root: root}
}

// Active returns the innermost context activated on the calling goroutine.
func (m *StackManager) Active() Context {
	if m.disabled.Load() {
		return Context{}
	}
	if v, ok := m.stacks.Load(goroutineID()); ok {
		if s := v.(*contextStack); len(s.items) > 0 {
			return s.items[len(s.items)-1]
		}
	}
	return m.root
}

// With runs fn with c active on the calling goroutine.
func (m *StackManager) With(c Context, fn func()) {
	if m.disabled.Load() {
		fn()
		return
	}

	id := goroutineID()
	v, _ := m.stacks.LoadOrStore(id, &contextStack{})
	s := v.(*contextStack)

	depth := len(s.items)
	s.items = append(s.items, c)
	defer func() {
		// Truncate to the entry depth so an unbalanced inner activation
		// cannot leak past this scope.
		if len(s.items) > depth {
			clear(s.items[depth:])
			s.items = s.items[:depth]
		}
		if depth == 0 {
			m.stacks.Delete(id)
		}
	}()
	fn()
}

// Bind returns fn wrapped to run with c active on whichever goroutine
// calls it.
func (m *StackManager) Bind(c Context, fn func()) func() {
	return func() {
		m.With(c, fn)
	}
}

// Disable clears all state. The manager stays usable; With calls after
// Disable run their function without activating anything.
func (m *StackManager) Disable() {
	m.disabled.Store(true)
	m.stacks.Clear()
}

// Go captures the active context and runs fn on a new goroutine with the
// captured context active there.
func (m *StackManager) Go(fn func(ContextManager)) {
	captured := m.Active()
	go m.With(captured, func() {
		fn(m)
	})
}

// Fork returns a new manager rooted at the active context.
func (m *StackManager) Fork() *StackManager {
	return newStackManagerAt(m.Active())
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the id from the first line of the calling goroutine's
// stack trace, which always reads "goroutine <id> [<state>]:".
func goroutineID() uint64 {
	var buf [64]byte
	b := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// NoopManager never activates anything.
type NoopManager struct{}

func (NoopManager) Active() Context { return Context{} }

func (NoopManager) With(_ Context, fn func()) { fn() }

func (NoopManager) Bind(_ Context, fn func()) func() { return fn }

func (NoopManager) Disable() {}
