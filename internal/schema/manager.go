// Package schema idempotently creates staging tables from DDL and verifies
// that an existing table matches the declared column set.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
)

type applied struct {
	ddl string
	def *TableDef
}

// Manager applies table DDL at most once per process per table and caches
// the resulting definitions.
type Manager struct {
	dialect db.Dialect
	mu      sync.Mutex
	applied map[string]applied
	logger  *slog.Logger
}

func NewManager(dialect db.Dialect) *Manager {
	return &Manager{
		dialect: dialect,
		applied: make(map[string]applied),
		logger:  slog.Default().With("component", "schema-manager"),
	}
}

// Ensure makes schema.table exist with the columns declared by ddl and
// returns the parsed definition. Calling it again with the same DDL is a
// no-op. The DDL must be a CREATE TABLE IF NOT EXISTS for exactly
// schema.table; a malformed statement or an existing table whose columns
// cannot hold the declared set yields a schema error.
func (m *Manager) Ensure(ctx context.Context, conn db.DBTX, ddl, schema, table string) (*TableDef, error) {
	key := schema + "." + table

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.applied[key]; ok && prev.ddl == ddl {
		return prev.def, nil
	}

	def, err := ParseDDL(ddl)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrSchema, err, "malformed DDL for %s", key)
	}
	if def.Schema != schema || def.Name != table {
		return nil, apperrors.Newf(apperrors.ErrSchema, "DDL declares %s, expected %s", def.QualifiedName(), key)
	}
	if err := db.CheckIdents(schema, table); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSchema, err, key)
	}

	if err := m.dialect.EnsureNamespace(ctx, conn, schema); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrSchema, err, "preparing namespace %s", schema)
	}
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrSchema, err, "executing DDL for %s", key)
	}

	existing, err := m.dialect.Columns(ctx, conn, schema, table)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrSchema, err, "inspecting %s", key)
	}
	if err := checkCompatible(def, existing); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrSchema, err, "existing table %s is incompatible", key)
	}

	m.applied[key] = applied{ddl: ddl, def: def}
	m.logger.Info("table ready", "table", key, "columns", len(def.Columns))
	return def, nil
}

// Applied returns the definition of a table ensured earlier in this process.
func (m *Manager) Applied(schema, table string) (*TableDef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.applied[schema+"."+table]
	return a.def, ok
}

func checkCompatible(def *TableDef, existing []db.ColumnInfo) error {
	if len(existing) == 0 {
		return fmt.Errorf("table not found after DDL")
	}
	actual := make(map[string]db.ColumnInfo, len(existing))
	for _, c := range existing {
		actual[strings.ToLower(c.Name)] = c
	}

	var problems []string
	for _, c := range def.Columns {
		got, ok := actual[strings.ToLower(c.Name)]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing column %s", c.Name))
			continue
		}
		if !compatible(c.Type, got.Type) {
			problems = append(problems, fmt.Sprintf("column %s is %s, declared %s", c.Name, got.Type, c.Type))
		}
		delete(actual, strings.ToLower(c.Name))
	}
	for name, c := range actual {
		if c.NotNull && !c.HasDefault {
			problems = append(problems, fmt.Sprintf("undeclared required column %s", name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
