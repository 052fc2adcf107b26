package silver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

const notionMapping = "notion"

// Member roles in silver.project_members.
const (
	RoleOwner     = "owner"
	RoleAllocated = "allocated"
)

// Projects promotes bronze.notion_projects into silver.project. Pages
// without a name are dropped.
type Projects struct {
	base
}

func NewProjects(store db.DBTX) *Projects {
	return &Projects{base: newBase("silver_projects", store, nil, nil)}
}

func (p *Projects) Fetch(ctx context.Context, _ resilience.RetryConfig) (*extract.RawPayload, error) {
	store, err := p.defaultStore()
	if err != nil {
		return nil, err
	}
	return p.FetchStore(ctx, store)
}

func (p *Projects) FetchStore(ctx context.Context, conn db.DBTX) (*extract.RawPayload, error) {
	items, err := readTable(ctx, conn, "bronze", "notion_projects",
		"page_id", "name", "type", "progress", "priority", "due_start", "due_end", "created_time")
	if err != nil {
		return nil, err
	}
	raw := extract.NewPayload(p.name)
	raw.Items = items
	return raw, nil
}

func (p *Projects) Transform(raw *extract.RawPayload) ([]record.Record, error) {
	out := make([]record.Record, 0, len(raw.Items))
	for _, it := range raw.Items {
		name := field(it, "name")
		if name.IsNull() || name.Str() == "" {
			continue
		}
		progress := field(it, "progress")
		if progress.Kind() == record.KindString {
			return nil, fmt.Errorf("project %s: progress %q is not numeric", field(it, "page_id").Str(), progress.Str())
		}
		out = append(out, record.Record{
			"project_id": field(it, "page_id"),
			"name":       name,
			"type":       field(it, "type"),
			"progress":   progress,
			"priority":   field(it, "priority"),
			"start_date": timeOf(field(it, "due_start")),
			"end_date":   timeOf(field(it, "due_end")),
			"created_at": timeOf(field(it, "created_time")),
			"updated_at": record.Time(raw.FetchedAt),
		})
	}
	sortRecords(out, "project_id")
	return out, nil
}

// ProjectMembers links projects to members through the notion mapping,
// one row per (project, member, role). Unresolved people are dropped.
type ProjectMembers struct {
	base
}

func NewProjectMembers(store db.DBTX, mappings map[string]config.MappingConfig, m *metrics.Metrics) *ProjectMembers {
	return &ProjectMembers{base: newBase("silver_project_members", store, mappings, m)}
}

func (p *ProjectMembers) Fetch(ctx context.Context, _ resilience.RetryConfig) (*extract.RawPayload, error) {
	store, err := p.defaultStore()
	if err != nil {
		return nil, err
	}
	return p.FetchStore(ctx, store)
}

func (p *ProjectMembers) FetchStore(ctx context.Context, conn db.DBTX) (*extract.RawPayload, error) {
	mapping, err := p.loadMapping(ctx, conn, notionMapping)
	if err != nil {
		return nil, err
	}
	items, err := readTable(ctx, conn, "bronze", "notion_projects", "page_id", "owner_ids", "allocated_ids")
	if err != nil {
		return nil, err
	}
	raw := extract.NewPayload(p.name)
	raw.Items = items
	raw.Mappings = map[string]identity.Mapping{notionMapping: mapping}

	var people []string
	for _, it := range items {
		for _, col := range []string{"owner_ids", "allocated_ids"} {
			ids, _ := userIDs(field(it, col))
			people = append(people, ids...)
		}
	}
	p.countUnresolved(notionMapping, mapping, people)
	return raw, nil
}

func (p *ProjectMembers) Transform(raw *extract.RawPayload) ([]record.Record, error) {
	mapping := raw.Mappings[notionMapping]
	type key struct {
		project string
		member  int64
		role    string
	}
	seen := make(map[key]bool)
	var keys []key
	for _, it := range raw.Items {
		project := field(it, "page_id").Str()
		for role, col := range map[string]string{RoleOwner: "owner_ids", RoleAllocated: "allocated_ids"} {
			ids, err := userIDs(field(it, col))
			if err != nil {
				return nil, fmt.Errorf("project %s: %s: %w", project, col, err)
			}
			for _, id := range ids {
				member, ok := mapping.Resolve(id)
				if !ok {
					continue
				}
				k := key{project, member, role}
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.project != b.project {
			return a.project < b.project
		}
		if a.member != b.member {
			return a.member < b.member
		}
		return a.role < b.role
	})

	out := make([]record.Record, len(keys))
	for i, k := range keys {
		out[i] = record.Record{
			"project_id": record.String(k.project),
			"member_id":  record.Int(k.member),
			"role":       record.String(k.role),
		}
	}
	return out, nil
}

// userIDs decodes a JSON array of workspace user ids as stored in bronze.
func userIDs(v record.Value) ([]string, error) {
	switch v.Kind() {
	case record.KindNull:
		return nil, nil
	case record.KindList:
		ids := make([]string, 0, len(v.Items()))
		for _, it := range v.Items() {
			ids = append(ids, it.Str())
		}
		return ids, nil
	}
	s := v.Str()
	if s == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("decoding user ids %q: %w", s, err)
	}
	return ids, nil
}
