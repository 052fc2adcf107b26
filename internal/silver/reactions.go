package silver

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

const (
	reactionsPartition = "bronze.discord_reactions"
	messagesPartition  = "silver.internal_msg_messages"
)

// Reactions promotes bronze.discord_reactions into
// silver.internal_msg_reactions. A reaction is kept only when its message
// has already been promoted, and inherits that message's component.
type Reactions struct {
	base
}

func NewReactions(store db.DBTX, mappings map[string]config.MappingConfig, m *metrics.Metrics) *Reactions {
	return &Reactions{base: newBase("silver_reactions", store, mappings, m)}
}

func (e *Reactions) Fetch(ctx context.Context, _ resilience.RetryConfig) (*extract.RawPayload, error) {
	store, err := e.defaultStore()
	if err != nil {
		return nil, err
	}
	return e.FetchStore(ctx, store)
}

func (e *Reactions) FetchStore(ctx context.Context, conn db.DBTX) (*extract.RawPayload, error) {
	mapping, err := e.loadMapping(ctx, conn, discordMapping)
	if err != nil {
		return nil, err
	}
	reactions, err := readTable(ctx, conn, "bronze", "discord_reactions",
		"reaction_id", "message_id", "reaction", "discord_username", "discord_user_id",
		"channel_id", "ingestion_timestamp")
	if err != nil {
		return nil, err
	}
	messages, err := readTable(ctx, conn, "silver", "internal_msg_messages", "message_id", "component_id")
	if err != nil {
		return nil, err
	}

	raw := extract.NewPayload(e.name)
	raw.Items = append(reactions, messages...)
	raw.Mappings = map[string]identity.Mapping{discordMapping: mapping}

	users := make([]string, 0, len(reactions))
	for _, it := range reactions {
		users = append(users, field(it, "discord_user_id").Str())
	}
	e.countUnresolved(discordMapping, mapping, users)
	return raw, nil
}

// Transform joins each reaction to its promoted message and resolves the
// reacting user. Unresolved users get a null member id.
func (e *Reactions) Transform(raw *extract.RawPayload) ([]record.Record, error) {
	mapping := raw.Mappings[discordMapping]

	components := make(map[string]string)
	for _, it := range raw.Items {
		if it.Partition == messagesPartition {
			components[field(it, "message_id").Str()] = field(it, "component_id").Str()
		}
	}

	seen := make(map[string]bool)
	orphans := 0
	var out []record.Record
	for _, it := range raw.Items {
		if it.Partition != reactionsPartition {
			continue
		}
		id := field(it, "reaction_id").Str()
		if id == "" || seen[id] {
			continue
		}
		messageID := field(it, "message_id").Str()
		component, ok := components[messageID]
		if !ok {
			orphans++
			continue
		}
		seen[id] = true
		member := record.Null()
		if mid, ok := mapping.Resolve(field(it, "discord_user_id").Str()); ok {
			member = record.Int(mid)
		}
		out = append(out, record.Record{
			"reaction_id":      record.String(id),
			"message_id":       record.String(messageID),
			"component_id":     record.String(component),
			"channel_id":       field(it, "channel_id"),
			"reaction":         record.String(field(it, "reaction").Str()),
			"member_id":        member,
			"discord_user_id":  field(it, "discord_user_id"),
			"discord_username": field(it, "discord_username"),
			"ingested_at":      timeOf(field(it, "ingestion_timestamp")),
			"updated_at":       record.Time(raw.FetchedAt),
		})
	}
	if orphans > 0 {
		e.logger.Info("skipped reactions on unpromoted messages", "count", orphans)
	}
	sortRecords(out, "reaction_id")
	return out, nil
}
