package db

import (
	"context"
	"fmt"
)

// QueryMaps runs query and returns every row as a column -> value map.
// []byte values are returned as strings.
func QueryMaps(ctx context.Context, db DBTX, query string, args ...any) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rows: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountRows returns the number of rows in schema.table.
func CountRows(ctx context.Context, db DBTX, schema, table string) (int64, error) {
	if err := CheckIdents(schema, table); err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+Qualified(schema, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s.%s: %w", schema, table, err)
	}
	return n, nil
}
