package silver

import (
	"context"
	"slices"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

// Components promotes bronze.discord_channels into
// silver.internal_msg_component, keeping the configured entity types.
type Components struct {
	base
	types map[string]bool
}

func NewComponents(store db.DBTX, types []string) *Components {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return &Components{base: newBase("silver_components", store, nil, nil), types: allowed}
}

func (c *Components) Fetch(ctx context.Context, _ resilience.RetryConfig) (*extract.RawPayload, error) {
	store, err := c.defaultStore()
	if err != nil {
		return nil, err
	}
	return c.FetchStore(ctx, store)
}

func (c *Components) FetchStore(ctx context.Context, conn db.DBTX) (*extract.RawPayload, error) {
	raw := extract.NewPayload(c.name)
	items, err := readTable(ctx, conn, "bronze", "discord_channels",
		"server_id", "channel_id", "channel_name", "channel_created_at", "parent_id", "entity_type")
	if err != nil {
		return nil, err
	}
	raw.Items = items
	return raw, nil
}

// Transform emits one component per channel id. A parent that was not
// promoted itself is kept as is and logged.
func (c *Components) Transform(raw *extract.RawPayload) ([]record.Record, error) {
	seen := make(map[string]bool)
	var out []record.Record
	for _, it := range raw.Items {
		id := field(it, "channel_id").Str()
		kind := field(it, "entity_type").Str()
		if id == "" || seen[id] || (len(c.types) > 0 && !c.types[kind]) {
			continue
		}
		seen[id] = true
		out = append(out, record.Record{
			"component_id":        record.String(id),
			"name":                field(it, "channel_name"),
			"component_type":      record.String(kind),
			"parent_component_id": field(it, "parent_id"),
			"server_id":           field(it, "server_id"),
			"created_at":          timeOf(field(it, "channel_created_at")),
			"updated_at":          record.Time(raw.FetchedAt),
		})
	}
	sortRecords(out, "component_id")
	if orphans := orphanParents(out); len(orphans) > 0 {
		c.logger.Warn("components reference parents that were not promoted",
			"count", len(orphans), "parents", orphans)
	}
	return out, nil
}

// orphanParents lists the distinct parent ids in rows that are not
// themselves component ids in rows.
func orphanParents(rows []record.Record) []string {
	ids := make(map[string]bool, len(rows))
	for _, r := range rows {
		ids[r.Get("component_id").Str()] = true
	}
	var out []string
	for _, r := range rows {
		p := r.Get("parent_component_id")
		if p.IsNull() || p.Str() == "" || ids[p.Str()] || slices.Contains(out, p.Str()) {
			continue
		}
		out = append(out, p.Str())
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i], out[j]) })
	return out
}
