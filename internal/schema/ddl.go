package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
)

// Column is a column declared by a CREATE TABLE statement.
type Column struct {
	Name       string
	Type       string
	NotNull    bool
	HasDefault bool
}

// Required reports whether inserts must supply a non-null value.
func (c Column) Required() bool {
	return c.NotNull && !c.HasDefault
}

// TableDef is the parsed shape of a staging table.
type TableDef struct {
	Schema  string
	Name    string
	Columns []Column
}

// QualifiedName returns schema.name unquoted, for logs and errors.
func (t *TableDef) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// Column looks up a column by name.
func (t *TableDef) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the declared column names in order.
func (t *TableDef) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

var createTablePattern = regexp.MustCompile(`(?is)^\s*CREATE\s+TABLE\s+(IF\s+NOT\s+EXISTS\s+)?("?[A-Za-z_][A-Za-z0-9_]*"?)\s*\.\s*("?[A-Za-z_][A-Za-z0-9_]*"?)\s*\(`)

var tableConstraintWords = map[string]bool{
	"PRIMARY":    true,
	"UNIQUE":     true,
	"CONSTRAINT": true,
	"FOREIGN":    true,
	"CHECK":      true,
	"EXCLUDE":    true,
}

// ParseDDL parses a single schema-qualified CREATE TABLE IF NOT EXISTS
// statement. Only the column list is interpreted; table constraints are
// accepted and ignored.
func ParseDDL(ddl string) (*TableDef, error) {
	body := strings.TrimSpace(stripComments(ddl))
	body = strings.TrimSuffix(body, ";")

	m := createTablePattern.FindStringSubmatchIndex(body)
	if m == nil {
		return nil, fmt.Errorf("expected CREATE TABLE schema.table (...)")
	}
	if m[2] < 0 {
		return nil, fmt.Errorf("CREATE TABLE must use IF NOT EXISTS")
	}
	def := &TableDef{
		Schema: unquote(body[m[4]:m[5]]),
		Name:   unquote(body[m[6]:m[7]]),
	}

	open := m[1] - 1
	end := matchingParen(body, open)
	if end < 0 {
		return nil, fmt.Errorf("unbalanced parentheses in column list")
	}
	if rest := strings.TrimSpace(body[end+1:]); rest != "" {
		return nil, fmt.Errorf("unexpected text after column list: %q", rest)
	}

	seen := make(map[string]bool)
	for _, part := range splitTopLevel(body[open+1 : end]) {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty column definition")
		}
		fields := strings.Fields(part)
		if tableConstraintWords[strings.ToUpper(fields[0])] {
			continue
		}
		col, err := parseColumn(fields)
		if err != nil {
			return nil, err
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("duplicate column %s", col.Name)
		}
		seen[col.Name] = true
		def.Columns = append(def.Columns, col)
	}
	if len(def.Columns) == 0 {
		return nil, fmt.Errorf("table declares no columns")
	}
	return def, nil
}

var typeStopWords = map[string]bool{
	"NOT":        true,
	"NULL":       true,
	"DEFAULT":    true,
	"PRIMARY":    true,
	"UNIQUE":     true,
	"REFERENCES": true,
	"CHECK":      true,
	"CONSTRAINT": true,
	"GENERATED":  true,
	"COLLATE":    true,
}

func parseColumn(fields []string) (Column, error) {
	name := unquote(fields[0])
	if !db.ValidIdent(name) {
		return Column{}, fmt.Errorf("invalid column name %q", fields[0])
	}
	if len(fields) < 2 {
		return Column{}, fmt.Errorf("column %s has no type", name)
	}

	i := 1
	var typ []string
	for ; i < len(fields) && !typeStopWords[strings.ToUpper(fields[i])]; i++ {
		typ = append(typ, fields[i])
	}
	if len(typ) == 0 {
		return Column{}, fmt.Errorf("column %s has no type", name)
	}
	col := Column{Name: name, Type: strings.Join(typ, " ")}

	for ; i < len(fields); i++ {
		switch strings.ToUpper(fields[i]) {
		case "NOT":
			if i+1 < len(fields) && strings.EqualFold(fields[i+1], "NULL") {
				col.NotNull = true
				i++
			}
		case "PRIMARY":
			col.NotNull = true
		case "DEFAULT", "GENERATED":
			col.HasDefault = true
		}
	}
	if f := TypeFamily(col.Type); f == "serial" {
		col.HasDefault = true
	}
	return col, nil
}

func stripComments(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

func matchingParen(s string, open int) int {
	depth := 0
	inQuote := false
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
				if depth == 0 {
					return i
				}
			}
		}
	}
	return -1
}

func splitTopLevel(s string) []string {
	var (
		parts   []string
		depth   int
		inQuote bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// TypeFamily normalises a declared or catalog-reported column type to a
// coarse family so the same table compares equal across stores.
func TypeFamily(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if strings.HasSuffix(t, "[]") || t == "array" {
		return "array"
	}
	if idx := strings.IndexByte(t, '('); idx >= 0 {
		t = strings.TrimSpace(t[:idx])
	}
	t = strings.Join(strings.Fields(t), " ")
	switch t {
	case "serial", "bigserial", "smallserial", "serial4", "serial8":
		return "serial"
	case "int", "integer", "int2", "int4", "int8", "smallint", "bigint":
		return "integer"
	case "text", "varchar", "character varying", "char", "character", "bpchar", "string", "citext", "name":
		return "text"
	case "bool", "boolean":
		return "boolean"
	case "timestamp", "timestamptz", "timestamp with time zone", "timestamp without time zone", "datetime":
		return "timestamp"
	case "date":
		return "date"
	case "numeric", "decimal", "real", "double precision", "float", "float4", "float8", "double":
		return "numeric"
	case "json", "jsonb":
		return "json"
	case "uuid":
		return "uuid"
	default:
		return t
	}
}

// compatible reports whether a declared type matches the type reported by
// the store's catalog.
func compatible(declared, actual string) bool {
	d, a := TypeFamily(declared), TypeFamily(actual)
	if d == "serial" {
		d = "integer"
	}
	if a == "serial" {
		a = "integer"
	}
	return d == a
}
