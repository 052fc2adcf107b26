package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"
)

// Postgres is the lib/pq dialect.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) MaxParams() int { return 65535 }

func (Postgres) EnsureNamespace(ctx context.Context, db DBTX, schema string) error {
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema)); err != nil {
		return fmt.Errorf("creating schema %s: %w", schema, err)
	}
	return nil
}

func (Postgres) Columns(ctx context.Context, db DBTX, schema, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable, column_default IS NOT NULL
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("listing columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			c        ColumnInfo
			nullable string
		)
		if err := rows.Scan(&c.Name, &c.Type, &nullable, &c.HasDefault); err != nil {
			return nil, fmt.Errorf("scanning column row: %w", err)
		}
		c.NotNull = nullable == "NO"
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (Postgres) IsConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	return false
}
