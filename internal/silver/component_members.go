package silver

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

// RoleMember is the only membership role the chat server exposes.
const RoleMember = "member"

// ComponentMembers fills silver.internal_msg_members with every onboarded
// chat member in every promoted component. Membership history is not
// available from the source, so joined_at and left_at stay null.
type ComponentMembers struct {
	base
}

func NewComponentMembers(store db.DBTX, mappings map[string]config.MappingConfig) *ComponentMembers {
	return &ComponentMembers{base: newBase("silver_component_members", store, mappings, nil)}
}

func (e *ComponentMembers) Fetch(ctx context.Context, _ resilience.RetryConfig) (*extract.RawPayload, error) {
	store, err := e.defaultStore()
	if err != nil {
		return nil, err
	}
	return e.FetchStore(ctx, store)
}

func (e *ComponentMembers) FetchStore(ctx context.Context, conn db.DBTX) (*extract.RawPayload, error) {
	mapping, err := e.loadMapping(ctx, conn, discordMapping)
	if err != nil {
		return nil, err
	}
	items, err := readTable(ctx, conn, "silver", "internal_msg_component", "component_id")
	if err != nil {
		return nil, err
	}
	raw := extract.NewPayload(e.name)
	raw.Items = items
	raw.Mappings = map[string]identity.Mapping{discordMapping: mapping}
	return raw, nil
}

func (e *ComponentMembers) Transform(raw *extract.RawPayload) ([]record.Record, error) {
	members := raw.Mappings[discordMapping].Members()

	seen := make(map[string]bool)
	var out []record.Record
	for _, it := range raw.Items {
		component := field(it, "component_id").Str()
		if component == "" || seen[component] {
			continue
		}
		seen[component] = true
		for _, mid := range members {
			out = append(out, record.Record{
				"member_id":    record.Int(mid),
				"component_id": record.String(component),
				"role":         record.String(RoleMember),
				"joined_at":    record.Null(),
				"left_at":      record.Null(),
				"updated_at":   record.Time(raw.FetchedAt),
			})
		}
	}
	sortRecords(out, "component_id", "member_id")
	return out, nil
}
