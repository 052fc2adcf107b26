// Package record defines the flat, source-agnostic row shape produced by
// extractors: a map of column name to a tagged Value.
package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a scalar or list cell. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
	list []Value
}

func Null() Value               { return Value{} }
func String(s string) Value     { return Value{kind: KindString, s: s} }
func Int(i int64) Value         { return Value{kind: KindInt, i: i} }
func Float(f float64) Value     { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value         { return Value{kind: KindBool, b: b} }
func Time(t time.Time) Value    { return Value{kind: KindTime, t: t.UTC()} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// OptString is String(s), or Null when s is empty.
func OptString(s string) Value {
	if s == "" {
		return Null()
	}
	return String(s)
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Items() []Value { return v.list }

// Str returns the value rendered as text. Null renders as "".
func (v Value) Str() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindList:
		b, _ := json.Marshal(v)
		return string(b)
	default:
		return ""
	}
}

// AsInt returns the value as an integer when it holds one, or a string or
// float that represents one exactly.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f == math.Trunc(v.f) && math.Abs(v.f) < 1<<53 {
			return int64(v.f), true
		}
	case KindString:
		if n, err := strconv.ParseInt(v.s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// AsFloat returns the value as a float when it holds a number or a numeric
// string.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	case KindString:
		if f, err := strconv.ParseFloat(v.s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// AsTime returns the value as a time when it holds one, or a string in one
// of the layouts accepted by ParseTime.
func (v Value) AsTime() (time.Time, bool) {
	switch v.kind {
	case KindTime:
		return v.t, true
	case KindString:
		if t, err := ParseTime(v.s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AsBool returns the boolean held by v, accepting 0/1 integers.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindInt:
		return v.i != 0, true
	case KindString:
		if b, err := strconv.ParseBool(v.s); err == nil {
			return b, true
		}
	}
	return false, false
}

// SQLArg converts v to a database/sql argument. Lists are encoded as JSON
// arrays.
func (v Value) SQLArg() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindList:
		return v.Str()
	default:
		return nil
	}
}

// Equal reports whether two values hold the same variant and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindTime:
		return v.t.Equal(o.t)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return v.s == o.s && v.i == o.i && v.f == o.f && v.b == o.b
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindTime:
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	case KindList:
		items := v.list
		if items == nil {
			items = []Value{}
		}
		return json.Marshal(items)
	default:
		return []byte("null"), nil
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "NULL"
	}
	return v.Str()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses the timestamp formats emitted by the source APIs and the
// supported stores.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
