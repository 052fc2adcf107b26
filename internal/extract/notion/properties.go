package notion

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
)

// Modifiers select part of a property value.
const (
	modEnd   = "end"
	modFirst = "first"
)

// PropertyRef names a page property and an optional modifier, written
// "Property", "Property#end" or "Property#first".
type PropertyRef struct {
	Name     string
	Modifier string
}

// ParsePropertyRef parses the column -> property syntax used in config.
func ParsePropertyRef(s string) (PropertyRef, error) {
	name, mod, _ := strings.Cut(s, "#")
	name = strings.TrimSpace(name)
	if name == "" {
		return PropertyRef{}, fmt.Errorf("empty property name in %q", s)
	}
	switch mod {
	case "", modEnd, modFirst:
	default:
		return PropertyRef{}, fmt.Errorf("unknown property modifier %q in %q", mod, s)
	}
	return PropertyRef{Name: name, Modifier: mod}, nil
}

// Value reads the referenced property from a page's property map. A
// missing property is null.
func (r PropertyRef) Value(props map[string]any) record.Value {
	prop := extract.Obj(props, r.Name)
	if prop == nil {
		return record.Null()
	}
	if r.Modifier == modEnd {
		if extract.Str(prop, "type") != "date" {
			return record.Null()
		}
		return dateValue(extract.Obj(prop, "date"), "end")
	}
	v := propertyValue(prop)
	if r.Modifier == modFirst {
		if v.Kind() != record.KindList {
			return v
		}
		if items := v.Items(); len(items) > 0 {
			return items[0]
		}
		return record.Null()
	}
	return v
}

// propertyValue normalises one typed property object.
func propertyValue(prop map[string]any) record.Value {
	typ := extract.Str(prop, "type")
	raw := prop[typ]
	if raw == nil {
		return record.Null()
	}
	switch typ {
	case "title", "rich_text":
		return record.OptString(plainText(extract.Arr(prop, typ)))
	case "number":
		return numberValue(raw)
	case "select", "status":
		return record.OptString(extract.Str(extract.Obj(prop, typ), "name"))
	case "multi_select":
		return listOf(extract.Arr(prop, typ), "name")
	case "people", "relation":
		return listOf(extract.Arr(prop, typ), "id")
	case "date":
		return dateValue(extract.Obj(prop, typ), "start")
	case "checkbox":
		b, _ := raw.(bool)
		return record.Bool(b)
	case "url", "email", "phone_number":
		s, _ := raw.(string)
		return record.OptString(s)
	case "created_time", "last_edited_time":
		s, _ := raw.(string)
		return timeValue(s)
	case "created_by", "last_edited_by":
		return record.OptString(extract.Str(extract.Obj(prop, typ), "id"))
	case "unique_id":
		uid := extract.Obj(prop, typ)
		n, ok := uid["number"].(float64)
		if !ok {
			return record.Null()
		}
		num := strconv.FormatInt(int64(n), 10)
		if prefix := extract.Str(uid, "prefix"); prefix != "" {
			return record.String(prefix + "-" + num)
		}
		return record.String(num)
	case "formula":
		// Formula results carry their own type tag.
		return propertyValue(extract.Obj(prop, typ))
	case "string":
		s, _ := raw.(string)
		return record.OptString(s)
	case "boolean":
		b, _ := raw.(bool)
		return record.Bool(b)
	case "rollup":
		rollup := extract.Obj(prop, typ)
		if extract.Str(rollup, "type") != "array" {
			return propertyValue(rollup)
		}
		var items []record.Value
		for _, it := range extract.Arr(rollup, "array") {
			if m, ok := it.(map[string]any); ok {
				if v := propertyValue(m); !v.IsNull() {
					items = append(items, v)
				}
			}
		}
		return record.List(items...)
	default:
		return record.FromAny(raw)
	}
}

func plainText(parts []any) string {
	var b strings.Builder
	for _, p := range parts {
		if m, ok := p.(map[string]any); ok {
			b.WriteString(extract.Str(m, "plain_text"))
		}
	}
	return strings.TrimSpace(b.String())
}

func numberValue(raw any) record.Value {
	f, ok := raw.(float64)
	if !ok {
		return record.Null()
	}
	return record.Float(f)
}

func listOf(items []any, key string) record.Value {
	out := make([]record.Value, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			if s := extract.Str(m, key); s != "" {
				out = append(out, record.String(s))
			}
		}
	}
	return record.List(out...)
}

func dateValue(date map[string]any, key string) record.Value {
	return timeValue(extract.Str(date, key))
}

func timeValue(s string) record.Value {
	if s == "" {
		return record.Null()
	}
	t, err := record.ParseTime(s)
	if err != nil {
		return record.String(s)
	}
	return record.Time(t)
}
