package discord

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

// ReactionsExtractor reads who reacted with what to the most recent
// messages of every text channel.
type ReactionsExtractor struct {
	src        *Source
	perChannel int
}

// NewReactionsExtractor scans the last perChannel messages of each channel.
func NewReactionsExtractor(src *Source, perChannel int) *ReactionsExtractor {
	if perChannel <= 0 {
		perChannel = 100
	}
	return &ReactionsExtractor{src: src, perChannel: perChannel}
}

func (e *ReactionsExtractor) Name() string { return "discord_reactions" }

// Fetch returns one item per reacted message. Each entry of the message's
// "reactions" list gains a "users" list.
func (e *ReactionsExtractor) Fetch(ctx context.Context, policy resilience.RetryConfig) (*extract.RawPayload, error) {
	raw := extract.NewPayload(e.Name())
	chans, err := e.src.channels(ctx, policy)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, c := range chans {
		if isMessageChannel(channelType(c)) {
			ids = append(ids, extract.Str(c, "id"))
		}
	}

	results := make([][]extract.Item, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.src.concurrency)
	for i, channelID := range ids {
		g.Go(func() error {
			items, err := e.channelReactions(gctx, policy, channelID)
			if forbidden(err) {
				e.src.logger.Warn("skipping unreadable channel", "channel", channelID, "error", err)
				return nil
			}
			results[i] = items
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, items := range results {
		raw.Items = append(raw.Items, items...)
	}
	e.src.logger.Info("reactions fetched", "channels", len(ids), "messages", len(raw.Items))
	return raw, nil
}

func (e *ReactionsExtractor) channelReactions(ctx context.Context, policy resilience.RetryConfig, channelID string) ([]extract.Item, error) {
	msgs, err := e.src.messages(ctx, policy, channelID, "", e.perChannel)
	if err != nil {
		return nil, err
	}
	var items []extract.Item
	for _, m := range msgs {
		reactions := extract.Arr(m, "reactions")
		if len(reactions) == 0 {
			continue
		}
		enriched := make([]any, 0, len(reactions))
		for _, r := range reactions {
			rm, ok := r.(map[string]any)
			if !ok {
				continue
			}
			emoji := emojiKey(extract.Obj(rm, "emoji"))
			users, err := e.src.reactionUsers(ctx, policy, channelID, extract.Str(m, "id"), emoji)
			if err != nil {
				return nil, err
			}
			list := make([]any, len(users))
			for i, u := range users {
				list[i] = u
			}
			enriched = append(enriched, map[string]any{"emoji": extract.Obj(rm, "emoji"), "users": list})
		}
		items = append(items, extract.Item{
			Partition: channelID,
			Data:      map[string]any{"id": extract.Str(m, "id"), "reactions": enriched},
		})
	}
	return items, nil
}

// emojiKey is the emoji form used in reaction URLs: the unicode character,
// or name:id for custom emoji.
func emojiKey(emoji map[string]any) string {
	name, id := extract.Str(emoji, "name"), extract.Str(emoji, "id")
	if id != "" {
		return name + ":" + id
	}
	return name
}

// Transform flattens reaction-per-message lists into one row per
// (message, emoji, user). Custom emoji are keyed by name:id, so two
// server emoji sharing a name stay distinct.
func (e *ReactionsExtractor) Transform(raw *extract.RawPayload) ([]record.Record, error) {
	items := append([]extract.Item(nil), raw.Items...)
	extract.SortItems(items, func(a, b extract.Item) bool {
		return snowflakeLess(extract.Str(a.Data, "id"), extract.Str(b.Data, "id"))
	})

	var out []record.Record
	for _, it := range items {
		messageID := extract.Str(it.Data, "id")
		type row struct {
			emoji string
			user  map[string]any
		}
		var rows []row
		for _, r := range extract.Arr(it.Data, "reactions") {
			rm, _ := r.(map[string]any)
			emoji := emojiKey(extract.Obj(rm, "emoji"))
			for _, u := range extract.Arr(rm, "users") {
				um, _ := u.(map[string]any)
				rows = append(rows, row{emoji: emoji, user: um})
			}
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].emoji != rows[j].emoji {
				return rows[i].emoji < rows[j].emoji
			}
			return snowflakeLess(extract.Str(rows[i].user, "id"), extract.Str(rows[j].user, "id"))
		})
		for _, r := range rows {
			userID := extract.Str(r.user, "id")
			out = append(out, record.Record{
				"message_id":          record.String(messageID),
				"reaction_id":         record.String(messageID + "_" + r.emoji + "_" + userID),
				"reaction":            record.String(r.emoji),
				"discord_username":    record.OptString(extract.Str(r.user, "username")),
				"discord_user_id":     record.OptString(userID),
				"channel_id":          record.String(it.Partition),
				"ingestion_timestamp": record.Time(raw.FetchedAt),
			})
		}
	}
	return out, nil
}
