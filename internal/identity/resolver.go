// Package identity maps external platform identifiers (chat user ids,
// workspace user ids) onto internal member ids using a two-column mapping
// table maintained by the onboarding step.
package identity

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
)

// Mapping is a snapshot of external id -> member id pairs.
type Mapping struct {
	Source  string
	entries map[string]int64
}

// NewMapping builds a mapping from an in-memory table.
func NewMapping(source string, entries map[string]int64) Mapping {
	m := make(map[string]int64, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return Mapping{Source: source, entries: m}
}

// Resolve returns the member id for externalID. An unknown id is not an
// error; the second result reports whether it was found.
func (m Mapping) Resolve(externalID string) (int64, bool) {
	id, ok := m.entries[externalID]
	return id, ok
}

func (m Mapping) Len() int {
	return len(m.entries)
}

// Members returns the distinct member ids in the mapping, ascending.
func (m Mapping) Members() []int64 {
	seen := make(map[int64]bool, len(m.entries))
	out := make([]int64, 0, len(m.entries))
	for _, id := range m.entries {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Resolver reads mapping tables. It keeps no cache: every LoadMapping call
// reflects the table's current contents.
type Resolver struct {
	db     db.DBTX
	logger *slog.Logger
}

func NewResolver(conn db.DBTX) *Resolver {
	return &Resolver{
		db:     conn,
		logger: slog.Default().With("component", "identity-resolver"),
	}
}

// LoadMapping reads keyCol -> valueCol from schema.table. Rows with a null
// key or value are skipped. An empty result, or a key mapped to two
// different members, is a mapping error.
func (r *Resolver) LoadMapping(ctx context.Context, schema, table, keyCol, valueCol string) (Mapping, error) {
	source := fmt.Sprintf("%s.%s(%s->%s)", schema, table, keyCol, valueCol)
	if err := db.CheckIdents(schema, table, keyCol, valueCol); err != nil {
		return Mapping{}, apperrors.Wrap(apperrors.ErrMapping, err, source)
	}

	query := fmt.Sprintf("SELECT %s, %s FROM %s",
		db.QuoteIdent(keyCol), db.QuoteIdent(valueCol), db.Qualified(schema, table))
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return Mapping{}, apperrors.Wrapf(apperrors.ErrMapping, err, "reading %s", source)
	}
	defer rows.Close()

	entries := make(map[string]int64)
	skipped := 0
	for rows.Next() {
		var (
			key   sql.NullString
			value sql.NullInt64
		)
		if err := rows.Scan(&key, &value); err != nil {
			return Mapping{}, apperrors.Wrapf(apperrors.ErrMapping, err, "scanning %s", source)
		}
		if !key.Valid || key.String == "" || !value.Valid {
			skipped++
			continue
		}
		if prev, ok := entries[key.String]; ok && prev != value.Int64 {
			return Mapping{}, apperrors.Newf(apperrors.ErrMapping,
				"%s maps %q to both %d and %d", source, key.String, prev, value.Int64)
		}
		entries[key.String] = value.Int64
	}
	if err := rows.Err(); err != nil {
		return Mapping{}, apperrors.Wrapf(apperrors.ErrMapping, err, "reading %s", source)
	}
	if len(entries) == 0 {
		return Mapping{}, apperrors.Newf(apperrors.ErrMapping, "%s is empty", source)
	}

	r.logger.Debug("mapping loaded", "source", source, "entries", len(entries), "skipped", skipped)
	return Mapping{Source: source, entries: entries}, nil
}
