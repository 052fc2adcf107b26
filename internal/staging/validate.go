package staging

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/schema"
)

// ValidationError lists, per record index, the columns that cannot be
// written.
type ValidationError struct {
	Table  string
	Fields map[int]map[string]string
}

func (e *ValidationError) Error() string {
	rows := make([]int, 0, len(e.Fields))
	for i := range e.Fields {
		rows = append(rows, i)
	}
	sort.Ints(rows)

	var parts []string
	for _, i := range rows {
		cols := make([]string, 0, len(e.Fields[i]))
		for c := range e.Fields[i] {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		for _, c := range cols {
			parts = append(parts, fmt.Sprintf("record %d %s:%s", i, c, e.Fields[i][c]))
		}
	}
	return fmt.Sprintf("%d invalid record(s) for %s: %s", len(rows), e.Table, strings.Join(parts, "; "))
}

// ValidateRecords checks every record against the table definition: required
// columns must be present and non-null, and values must fit the column's
// type family.
func ValidateRecords(def *schema.TableDef, records []record.Record) error {
	errs := make(map[int]map[string]string)
	add := func(i int, col, msg string) {
		if errs[i] == nil {
			errs[i] = make(map[string]string)
		}
		errs[i][col] = msg
	}

	for i, r := range records {
		if r == nil {
			add(i, "*", "record is nil")
			continue
		}
		for _, col := range def.Columns {
			v := r.Get(col.Name)
			if v.IsNull() {
				if col.Required() {
					add(i, col.Name, "required column is null")
				}
				continue
			}
			if msg := checkType(col, v); msg != "" {
				add(i, col.Name, msg)
			}
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Table: def.QualifiedName(), Fields: errs}
	}
	return nil
}

func checkType(col schema.Column, v record.Value) string {
	switch schema.TypeFamily(col.Type) {
	case "integer", "serial":
		if _, ok := v.AsInt(); !ok {
			return fmt.Sprintf("%s value %q is not an integer", v.Kind(), v.Str())
		}
	case "timestamp", "date":
		if _, ok := v.AsTime(); !ok {
			return fmt.Sprintf("%s value %q is not a timestamp", v.Kind(), v.Str())
		}
	case "boolean":
		if _, ok := v.AsBool(); !ok {
			return fmt.Sprintf("%s value %q is not a boolean", v.Kind(), v.Str())
		}
	case "numeric":
		switch v.Kind() {
		case record.KindInt, record.KindFloat:
		default:
			return fmt.Sprintf("%s value %q is not numeric", v.Kind(), v.Str())
		}
	}
	return ""
}

// columnArg converts v to the argument bound for col.
func columnArg(col schema.Column, v record.Value) any {
	if v.IsNull() {
		return nil
	}
	switch schema.TypeFamily(col.Type) {
	case "integer", "serial":
		n, _ := v.AsInt()
		return n
	case "timestamp", "date":
		t, _ := v.AsTime()
		return t
	case "boolean":
		b, _ := v.AsBool()
		return b
	case "text", "json", "uuid":
		return v.Str()
	default:
		return v.SQLArg()
	}
}
