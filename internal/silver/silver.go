// Package silver promotes bronze rows into the cleaned, cross-referenced
// silver tables. Each promotion is an extractor whose Fetch reads bronze
// tables (and identity mappings) from the store and whose Transform is a
// pure function of what was read, so it runs through the same pipeline as
// the source extractors.
package silver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
)

// base carries what every promotion needs: a default store handle for
// standalone fetches, the identity mappings and optional metrics.
type base struct {
	name     string
	store    db.DBTX
	mappings map[string]config.MappingConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func newBase(name string, store db.DBTX, mappings map[string]config.MappingConfig, m *metrics.Metrics) base {
	return base{
		name:     name,
		store:    store,
		mappings: mappings,
		metrics:  m,
		logger:   slog.Default().With("component", "silver", "job", name),
	}
}

func (b base) Name() string { return b.name }

// defaultStore is the handle used when Fetch is called outside a pipeline
// run.
func (b base) defaultStore() (db.DBTX, error) {
	if b.store == nil {
		return nil, apperrors.Newf(apperrors.ErrExtraction, "%s: no store configured", b.name)
	}
	return b.store, nil
}

// readTable loads the named columns of a bronze table as payload items.
func readTable(ctx context.Context, conn db.DBTX, schema, table string, columns ...string) ([]extract.Item, error) {
	if err := db.CheckIdents(append([]string{schema, table}, columns...)...); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExtraction, err, "reading bronze")
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = db.QuoteIdent(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), db.Qualified(schema, table))
	rows, err := db.QueryMaps(ctx, conn, query)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrExtraction, err, "reading %s.%s", schema, table)
	}
	partition := schema + "." + table
	items := make([]extract.Item, len(rows))
	for i, r := range rows {
		items[i] = extract.Item{Partition: partition, Data: r}
	}
	return items, nil
}

// loadMapping re-reads the named identity mapping on every call.
func (b base) loadMapping(ctx context.Context, conn db.DBTX, name string) (identity.Mapping, error) {
	mc, ok := b.mappings[name]
	if !ok {
		return identity.Mapping{}, apperrors.Newf(apperrors.ErrConfig, "identity mapping %q is not configured", name)
	}
	return identity.NewResolver(conn).LoadMapping(ctx, mc.Schema, mc.Table, mc.KeyColumn, mc.ValueColumn)
}

// countUnresolved reports external ids with no member, once per id.
func (b base) countUnresolved(mappingName string, m identity.Mapping, ids []string) int {
	missing := make(map[string]bool)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := m.Resolve(id); !ok {
			missing[id] = true
		}
	}
	if len(missing) > 0 {
		b.logger.Warn("unresolved identities", "mapping", mappingName, "count", len(missing))
		if b.metrics != nil {
			b.metrics.IdentityUnresolvedTotal.WithLabelValues(mappingName).Add(float64(len(missing)))
		}
	}
	return len(missing)
}

// field reads a store value from a row as a record value.
func field(it extract.Item, col string) record.Value {
	return record.FromAny(it.Data[col])
}

// timeOf normalises store timestamps, which some drivers return as text.
func timeOf(v record.Value) record.Value {
	if t, ok := v.AsTime(); ok {
		return record.Time(t)
	}
	return record.Null()
}

// idLess orders numeric ids of any length, falling back to text order.
func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func sortRecords(rows []record.Record, keys ...string) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			a, b := rows[i].Get(k).Str(), rows[j].Get(k).Str()
			if a != b {
				return idLess(a, b)
			}
		}
		return false
	})
}
