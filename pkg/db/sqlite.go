package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"
)

// Namespaces attached to every SQLite connection.
var Namespaces = []string{"bronze", "silver"}

var sqliteDrivers atomic.Int64

// SQLite is the go-sqlite3 dialect. Each namespace is a separate database
// file attached under the namespace's name.
type SQLite struct {
	Attached []string
}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) MaxParams() int { return 32766 }

func (s SQLite) EnsureNamespace(ctx context.Context, db DBTX, schema string) error {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_database_list")
	if err != nil {
		return fmt.Errorf("listing attached databases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scanning database list: %w", err)
		}
		if name == schema {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return fmt.Errorf("namespace %s is not attached", schema)
}

func (SQLite) Columns(ctx context.Context, db DBTX, schema, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value IS NOT NULL, pk FROM pragma_table_info(?, ?) ORDER BY cid`,
		table, schema)
	if err != nil {
		return nil, fmt.Errorf("listing columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			c  ColumnInfo
			pk int
		)
		if err := rows.Scan(&c.Name, &c.Type, &c.NotNull, &c.HasDefault, &pk); err != nil {
			return nil, fmt.Errorf("scanning column row: %w", err)
		}
		// INTEGER PRIMARY KEY aliases the rowid and is filled in on insert.
		if pk > 0 && strings.EqualFold(c.Type, "INTEGER") {
			c.HasDefault = true
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (SQLite) IsConstraintViolation(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// openSQLite opens path as the main database and attaches one sibling file
// per namespace (brain.db -> brain_bronze.db) on every new connection.
func openSQLite(path string) (*sql.DB, Dialect, error) {
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	attached := append([]string(nil), Namespaces...)

	driverName := fmt.Sprintf("sqlite3_brain_%d", sqliteDrivers.Add(1))
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for _, ns := range attached {
				file := filepath.Join(dir, base+"_"+ns+".db")
				stmt := fmt.Sprintf("ATTACH DATABASE '%s' AS %s", strings.ReplaceAll(file, "'", "''"), QuoteIdent(ns))
				if _, err := conn.Exec(stmt, nil); err != nil {
					return fmt.Errorf("attaching %s: %w", ns, err)
				}
				if _, err := conn.Exec(fmt.Sprintf("PRAGMA %s.journal_mode = WAL", QuoteIdent(ns)), nil); err != nil {
					return fmt.Errorf("setting journal mode on %s: %w", ns, err)
				}
			}
			return nil
		},
	})

	sqlDB, err := sql.Open(driverName, path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, SQLite{Attached: attached}, nil
}
