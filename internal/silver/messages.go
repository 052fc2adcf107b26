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

const discordMapping = "discord"

// Messages promotes bronze.discord_chats into silver.internal_msg_messages,
// resolving each author to a member id through the discord mapping.
type Messages struct {
	base
}

func NewMessages(store db.DBTX, mappings map[string]config.MappingConfig, m *metrics.Metrics) *Messages {
	return &Messages{base: newBase("silver_messages", store, mappings, m)}
}

func (e *Messages) Fetch(ctx context.Context, _ resilience.RetryConfig) (*extract.RawPayload, error) {
	store, err := e.defaultStore()
	if err != nil {
		return nil, err
	}
	return e.FetchStore(ctx, store)
}

func (e *Messages) FetchStore(ctx context.Context, conn db.DBTX) (*extract.RawPayload, error) {
	mapping, err := e.loadMapping(ctx, conn, discordMapping)
	if err != nil {
		return nil, err
	}
	items, err := readTable(ctx, conn, "bronze", "discord_chats",
		"channel_id", "thread_id", "message_id", "discord_username", "discord_user_id",
		"content", "chat_created_at", "chat_edited_at", "is_thread", "ingestion_timestamp")
	if err != nil {
		return nil, err
	}

	raw := extract.NewPayload(e.name)
	raw.Items = items
	raw.Mappings = map[string]identity.Mapping{discordMapping: mapping}

	authors := make([]string, 0, len(items))
	for _, it := range items {
		authors = append(authors, field(it, "discord_user_id").Str())
	}
	e.countUnresolved(discordMapping, mapping, authors)
	return raw, nil
}

// Transform keeps the most recently ingested copy of each message and
// resolves its author. Unresolved authors get a null member id.
func (e *Messages) Transform(raw *extract.RawPayload) ([]record.Record, error) {
	mapping := raw.Mappings[discordMapping]

	latest := make(map[string]extract.Item)
	for _, it := range raw.Items {
		id := field(it, "message_id").Str()
		if id == "" {
			continue
		}
		prev, ok := latest[id]
		if !ok || newer(it, prev) {
			latest[id] = it
		}
	}

	out := make([]record.Record, 0, len(latest))
	for id, it := range latest {
		channelID := field(it, "channel_id").Str()
		threadID := field(it, "thread_id")
		component := channelID
		if !threadID.IsNull() && threadID.Str() != "" {
			component = threadID.Str()
		}
		member := record.Null()
		if mid, ok := mapping.Resolve(field(it, "discord_user_id").Str()); ok {
			member = record.Int(mid)
		}
		isThread, _ := field(it, "is_thread").AsBool()
		out = append(out, record.Record{
			"message_id":       record.String(id),
			"component_id":     record.String(component),
			"channel_id":       record.String(channelID),
			"thread_id":        threadID,
			"member_id":        member,
			"discord_user_id":  field(it, "discord_user_id"),
			"discord_username": field(it, "discord_username"),
			"content":          record.String(field(it, "content").Str()),
			"is_thread":        record.Bool(isThread),
			"created_at":       timeOf(field(it, "chat_created_at")),
			"edited_at":        timeOf(field(it, "chat_edited_at")),
			"updated_at":       record.Time(raw.FetchedAt),
		})
	}
	sortRecords(out, "message_id")
	return out, nil
}

// newer reports whether a is a later copy of the same message than b.
func newer(a, b extract.Item) bool {
	ta, _ := field(a, "ingestion_timestamp").AsTime()
	tb, _ := field(b, "ingestion_timestamp").AsTime()
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	ea, _ := field(a, "chat_edited_at").AsTime()
	eb, _ := field(b, "chat_edited_at").AsTime()
	return ea.After(eb)
}
