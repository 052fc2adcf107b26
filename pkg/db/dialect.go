package db

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// ColumnInfo describes a column as reported by the store's catalog.
type ColumnInfo struct {
	Name       string
	Type       string
	NotNull    bool
	HasDefault bool
}

// Dialect isolates the SQL differences between supported stores.
type Dialect interface {
	Name() string
	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder(n int) string
	// MaxParams is the largest number of bind parameters in one statement.
	MaxParams() int
	// EnsureNamespace makes sure schema exists (or is attached).
	EnsureNamespace(ctx context.Context, db DBTX, schema string) error
	// Columns lists the columns of schema.table in ordinal order; an empty
	// slice means the table does not exist.
	Columns(ctx context.Context, db DBTX, schema, table string) ([]ColumnInfo, error)
	// IsConstraintViolation reports whether err was raised by a NOT NULL,
	// UNIQUE, CHECK or foreign key constraint.
	IsConstraintViolation(err error) bool
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether name is a plain SQL identifier.
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}

// CheckIdents returns an error naming the first invalid identifier.
func CheckIdents(names ...string) error {
	for _, n := range names {
		if !ValidIdent(n) {
			return fmt.Errorf("invalid identifier %q", n)
		}
	}
	return nil
}

// QuoteIdent quotes a single identifier.
func QuoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

// Qualified returns the quoted schema.table name.
func Qualified(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

// Placeholders returns count comma-separated placeholders starting at the
// (1-based) argument index start.
func Placeholders(d Dialect, start, count int) string {
	var b strings.Builder
	for i := 0; i < count; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(start + i))
	}
	return b.String()
}
