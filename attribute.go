package otelz

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// ValueType identifies the variant held by a Value.
type ValueType int

const (
	INVALID ValueType = iota
	BOOL
	INT64
	FLOAT64
	STRING
	BOOLSLICE
	INT64SLICE
	FLOAT64SLICE
	STRINGSLICE
)

var valueTypeNames = [...]string{"INVALID", "BOOL", "INT64", "FLOAT64", "STRING", "BOOLSLICE", "INT64SLICE", "FLOAT64SLICE", "STRINGSLICE"}

func (t ValueType) String() string {
	if t < 0 || int(t) >= len(valueTypeNames) {
		return "INVALID"
	}
	return valueTypeNames[t]
}

// Value is a primitive or homogeneous slice attribute value.
type Value struct {
	vtype ValueType
	b     bool
	i     int64
	f     float64
	s     string
	slice any
}

// Type returns the variant of v.
func (v Value) Type() ValueType { return v.vtype }

func (v Value) AsBool() bool       { return v.b }
func (v Value) AsInt64() int64     { return v.i }
func (v Value) AsFloat64() float64 { return v.f }
func (v Value) AsString() string   { return v.s }

func (v Value) AsBoolSlice() []bool {
	s, _ := v.slice.([]bool)
	return append([]bool(nil), s...)
}

func (v Value) AsInt64Slice() []int64 {
	s, _ := v.slice.([]int64)
	return append([]int64(nil), s...)
}

func (v Value) AsFloat64Slice() []float64 {
	s, _ := v.slice.([]float64)
	return append([]float64(nil), s...)
}

func (v Value) AsStringSlice() []string {
	s, _ := v.slice.([]string)
	return append([]string(nil), s...)
}

// AsInterface returns v as a plain Go value.
func (v Value) AsInterface() any {
	switch v.vtype {
	case BOOL:
		return v.b
	case INT64:
		return v.i
	case FLOAT64:
		return v.f
	case STRING:
		return v.s
	case BOOLSLICE:
		return v.AsBoolSlice()
	case INT64SLICE:
		return v.AsInt64Slice()
	case FLOAT64SLICE:
		return v.AsFloat64Slice()
	case STRINGSLICE:
		return v.AsStringSlice()
	}
	return nil
}

// Emit returns a string rendering of v.
func (v Value) Emit() string {
	switch v.vtype {
	case BOOL:
		return strconv.FormatBool(v.b)
	case INT64:
		return strconv.FormatInt(v.i, 10)
	case FLOAT64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case STRING:
		return v.s
	case BOOLSLICE, INT64SLICE, FLOAT64SLICE, STRINGSLICE:
		b, err := json.Marshal(v.slice)
		if err != nil {
			return fmt.Sprint(v.slice)
		}
		return string(b)
	}
	return "unknown"
}

// MarshalJSON renders v as its plain JSON value.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.AsInterface())
}

// truncate limits string content to limit runes. A negative limit disables it.
func (v Value) truncate(limit int) Value {
	if limit < 0 {
		return v
	}
	switch v.vtype {
	case STRING:
		v.s = truncateString(v.s, limit)
	case STRINGSLICE:
		in, _ := v.slice.([]string)
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = truncateString(s, limit)
		}
		v.slice = out
	}
	return v
}

func truncateString(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// Attribute is a key/value pair recorded on spans, events and links.
type Attribute struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Valid reports whether the attribute has a key and a typed value.
func (a Attribute) Valid() bool {
	return a.Key != "" && a.Value.vtype != INVALID
}

func Bool(k string, v bool) Attribute {
	return Attribute{Key: k, Value: Value{vtype: BOOL, b: v}}
}

func Int(k string, v int) Attribute {
	return Int64(k, int64(v))
}

func Int64(k string, v int64) Attribute {
	return Attribute{Key: k, Value: Value{vtype: INT64, i: v}}
}

func Float64(k string, v float64) Attribute {
	return Attribute{Key: k, Value: Value{vtype: FLOAT64, f: v}}
}

func String(k, v string) Attribute {
	return Attribute{Key: k, Value: Value{vtype: STRING, s: v}}
}

func BoolSlice(k string, v []bool) Attribute {
	return Attribute{Key: k, Value: Value{vtype: BOOLSLICE, slice: append([]bool(nil), v...)}}
}

func Int64Slice(k string, v []int64) Attribute {
	return Attribute{Key: k, Value: Value{vtype: INT64SLICE, slice: append([]int64(nil), v...)}}
}

func Float64Slice(k string, v []float64) Attribute {
	return Attribute{Key: k, Value: Value{vtype: FLOAT64SLICE, slice: append([]float64(nil), v...)}}
}

func StringSlice(k string, v []string) Attribute {
	return Attribute{Key: k, Value: Value{vtype: STRINGSLICE, slice: append([]string(nil), v...)}}
}
