package discord

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

// ChannelsExtractor lists the guild's channels, categories, forums and
// active threads.
type ChannelsExtractor struct {
	src *Source
}

func NewChannelsExtractor(src *Source) *ChannelsExtractor {
	return &ChannelsExtractor{src: src}
}

func (e *ChannelsExtractor) Name() string { return "discord_channels" }

func (e *ChannelsExtractor) Fetch(ctx context.Context, policy resilience.RetryConfig) (*extract.RawPayload, error) {
	raw := extract.NewPayload(e.Name())
	guild, err := e.src.guild(ctx, policy)
	if err != nil {
		return nil, err
	}
	chans, err := e.src.channels(ctx, policy)
	if err != nil {
		return nil, err
	}
	threads, err := e.src.activeThreads(ctx, policy)
	if err != nil {
		return nil, err
	}

	server := map[string]any{
		"server_id":   extract.Str(guild, "id"),
		"server_name": extract.Str(guild, "name"),
	}
	for _, c := range append(chans, threads...) {
		raw.Items = append(raw.Items, extract.Item{Partition: e.src.guildID, Context: server, Data: c})
	}
	e.src.logger.Info("channels fetched", "guild", e.src.guildID, "channels", len(chans), "threads", len(threads))
	return raw, nil
}

// Transform emits one row per channel ordered by channel id.
func (e *ChannelsExtractor) Transform(raw *extract.RawPayload) ([]record.Record, error) {
	items := append([]extract.Item(nil), raw.Items...)
	extract.SortItems(items, func(a, b extract.Item) bool {
		return snowflakeLess(extract.Str(a.Data, "id"), extract.Str(b.Data, "id"))
	})

	out := make([]record.Record, 0, len(items))
	for _, it := range items {
		id := extract.Str(it.Data, "id")
		if id == "" {
			return nil, fmt.Errorf("channel without id in partition %s", it.Partition)
		}
		created := record.Null()
		if t, ok := SnowflakeTime(id); ok {
			created = record.Time(t)
		}
		out = append(out, record.Record{
			"server_id":           record.String(extract.Str(it.Context, "server_id")),
			"server_name":         record.OptString(extract.Str(it.Context, "server_name")),
			"channel_id":          record.String(id),
			"channel_name":        record.OptString(extract.Str(it.Data, "name")),
			"channel_created_at":  created,
			"parent_id":           record.OptString(extract.Str(it.Data, "parent_id")),
			"entity_type":         record.String(entityType(channelType(it.Data))),
			"ingestion_timestamp": record.Time(raw.FetchedAt),
		})
	}
	return out, nil
}
