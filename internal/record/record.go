package record

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Record is one flat row: column name -> value. Missing columns are null.
type Record map[string]Value

// Get returns the value of column, or Null when absent.
func (r Record) Get(column string) Value {
	return r[column]
}

// Columns returns the record's column names in sorted order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// FromAny converts a decoded JSON value (or a value scanned from the store)
// into a Value. Nested objects are kept as their JSON text.
func FromAny(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case string:
		return String(v)
	case []byte:
		return String(string(v))
	case bool:
		return Bool(v)
	case int:
		return Int(int64(v))
	case int32:
		return Int(int64(v))
	case int64:
		return Int(v)
	case float32:
		return Float(float64(v))
	case float64:
		return Float(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return Int(n)
		}
		if f, err := v.Float64(); err == nil {
			return Float(f)
		}
		return String(v.String())
	case time.Time:
		return Time(v)
	case []any:
		items := make([]Value, 0, len(v))
		for _, item := range v {
			items = append(items, FromAny(item))
		}
		return List(items...)
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return Null()
		}
		return String(string(b))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Null()
		}
		return String(string(b))
	}
}

// Flatten turns a nested JSON object into a Record. Nested object keys are
// joined with "_" (author.id -> author_id); lists become List values whose
// object elements are kept as JSON text.
func Flatten(m map[string]any) Record {
	out := make(Record, len(m))
	flattenInto(out, "", m)
	return out
}

func flattenInto(out Record, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		key = strings.ToLower(key)
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = FromAny(v)
	}
}
