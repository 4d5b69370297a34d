package otelz

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxTraceStateMembers = 32

var (
	// ErrInvalidTraceState is returned for malformed tracestate values.
	ErrInvalidTraceState = errors.New("otelz: invalid tracestate")

	traceStateKeyRe   = regexp.MustCompile(`^(?:[a-z][_0-9a-z\-\*\/]{0,255}|[a-z0-9][_0-9a-z\-\*\/]{0,240}@[a-z][_0-9a-z\-\*\/]{0,13})$`)
	traceStateValueRe = regexp.MustCompile(`^[\x20-\x2b\x2d-\x3c\x3e-\x7e]{0,255}[\x21-\x2b\x2d-\x3c\x3e-\x7e]$`)
)

type traceStateMember struct {
	key   string
	value string
}

// TraceState is an immutable ordered list of vendor key/value pairs.
// The most recently inserted member comes first.
type TraceState struct {
	members []traceStateMember
}

// ParseTraceState parses a W3C tracestate header value.
func ParseTraceState(header string) (TraceState, error) {
	var ts TraceState
	if strings.TrimSpace(header) == "" {
		return ts, nil
	}
	seen := make(map[string]struct{})
	for _, raw := range strings.Split(header, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return TraceState{}, fmt.Errorf("%w: member %q", ErrInvalidTraceState, raw)
		}
		if !traceStateKeyRe.MatchString(key) || !traceStateValueRe.MatchString(value) {
			return TraceState{}, fmt.Errorf("%w: member %q", ErrInvalidTraceState, raw)
		}
		if _, dup := seen[key]; dup {
			return TraceState{}, fmt.Errorf("%w: duplicate key %q", ErrInvalidTraceState, key)
		}
		seen[key] = struct{}{}
		ts.members = append(ts.members, traceStateMember{key: key, value: value})
	}
	if len(ts.members) > maxTraceStateMembers {
		return TraceState{}, fmt.Errorf("%w: %d members exceeds %d", ErrInvalidTraceState, len(ts.members), maxTraceStateMembers)
	}
	return ts, nil
}

// Get returns the value for key, or the empty string.
func (ts TraceState) Get(key string) string {
	for _, m := range ts.members {
		if m.key == key {
			return m.value
		}
	}
	return ""
}

// Len returns the number of members.
func (ts TraceState) Len() int {
	return len(ts.members)
}

// Insert returns a new TraceState with key set to value at the front.
// The oldest member is dropped when the list is full.
func (ts TraceState) Insert(key, value string) (TraceState, error) {
	if !traceStateKeyRe.MatchString(key) || !traceStateValueRe.MatchString(value) {
		return ts, fmt.Errorf("%w: member %q=%q", ErrInvalidTraceState, key, value)
	}
	members := make([]traceStateMember, 0, len(ts.members)+1)
	members = append(members, traceStateMember{key: key, value: value})
	for _, m := range ts.members {
		if m.key != key {
			members = append(members, m)
		}
	}
	if len(members) > maxTraceStateMembers {
		members = members[:maxTraceStateMembers]
	}
	return TraceState{members: members}, nil
}

// Delete returns a new TraceState without key.
func (ts TraceState) Delete(key string) TraceState {
	members := make([]traceStateMember, 0, len(ts.members))
	for _, m := range ts.members {
		if m.key != key {
			members = append(members, m)
		}
	}
	return TraceState{members: members}
}

// String encodes ts as a tracestate header value.
func (ts TraceState) String() string {
	if len(ts.members) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, m := range ts.members {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(m.key)
		sb.WriteByte('=')
		sb.WriteString(m.value)
	}
	return sb.String()
}
