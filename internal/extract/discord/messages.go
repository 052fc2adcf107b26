package discord

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

// partition is one message stream: a channel, or a thread under a channel.
type partition struct {
	ID         string
	ChannelID  string
	Channel    string
	ThreadID   string
	ThreadName string
}

func (p partition) context() map[string]any {
	return map[string]any{
		"channel_id":   p.ChannelID,
		"channel_name": p.Channel,
		"thread_id":    p.ThreadID,
		"thread_name":  p.ThreadName,
	}
}

// MessagesExtractor reads the messages of every text channel and thread.
// With a checkpoint store it reads only messages newer than each
// partition's watermark, and Commit advances the watermarks.
type MessagesExtractor struct {
	src   *Source
	marks checkpoint.Store
}

// NewMessagesExtractor returns an extractor; marks may be nil for a full
// history fetch on every run.
func NewMessagesExtractor(src *Source, marks checkpoint.Store) *MessagesExtractor {
	return &MessagesExtractor{src: src, marks: marks}
}

func (e *MessagesExtractor) Name() string { return "discord_chats" }

func (e *MessagesExtractor) Fetch(ctx context.Context, policy resilience.RetryConfig) (*extract.RawPayload, error) {
	raw := extract.NewPayload(e.Name())
	parts, err := e.partitions(ctx, policy)
	if err != nil {
		return nil, err
	}

	var marks map[string]string
	if e.marks != nil {
		if marks, err = e.marks.Load(ctx, e.Name()); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrExtraction, err, "reading watermarks")
		}
	}

	results := make([][]map[string]any, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.src.concurrency)
	for i, p := range parts {
		g.Go(func() error {
			msgs, err := e.src.messages(gctx, policy, p.ID, marks[p.ID], 0)
			if forbidden(err) {
				e.src.logger.Warn("skipping unreadable channel", "channel", p.ID, "error", err)
				return nil
			}
			results[i] = msgs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	raw.Watermarks = make(map[string]string)
	for i, p := range parts {
		newest := marks[p.ID]
		for _, m := range results[i] {
			id := extract.Str(m, "id")
			raw.Items = append(raw.Items, extract.Item{Partition: p.ID, Context: p.context(), Data: m})
			if snowflakeLess(newest, id) {
				newest = id
			}
		}
		if newest != "" && newest != marks[p.ID] {
			raw.Watermarks[p.ID] = newest
		}
	}
	e.src.logger.Info("messages fetched", "partitions", len(parts), "messages", len(raw.Items), "incremental", e.marks != nil)
	return raw, nil
}

// partitions lists text and news channels plus their active and archived
// public threads, ordered by id.
func (e *MessagesExtractor) partitions(ctx context.Context, policy resilience.RetryConfig) ([]partition, error) {
	chans, err := e.src.channels(ctx, policy)
	if err != nil {
		return nil, err
	}
	active, err := e.src.activeThreads(ctx, policy)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(chans))
	var parts []partition
	var parents []string
	for _, c := range chans {
		id, t := extract.Str(c, "id"), channelType(c)
		names[id] = extract.Str(c, "name")
		if isMessageChannel(t) {
			parts = append(parts, partition{ID: id, ChannelID: id, Channel: names[id]})
		}
		if hasThreads(t) {
			parents = append(parents, id)
		}
	}

	archived := make([][]map[string]any, len(parents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.src.concurrency)
	for i, id := range parents {
		g.Go(func() error {
			threads, err := e.src.archivedThreads(gctx, policy, id)
			if forbidden(err) {
				return nil
			}
			archived[i] = threads
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	addThread := func(t map[string]any) {
		id, parent := extract.Str(t, "id"), extract.Str(t, "parent_id")
		if seen[id] {
			return
		}
		if _, ok := names[parent]; !ok {
			return
		}
		seen[id] = true
		parts = append(parts, partition{
			ID:         id,
			ChannelID:  parent,
			Channel:    names[parent],
			ThreadID:   id,
			ThreadName: extract.Str(t, "name"),
		})
	}
	for _, t := range active {
		addThread(t)
	}
	for _, threads := range archived {
		for _, t := range threads {
			addThread(t)
		}
	}

	sort.Slice(parts, func(i, j int) bool { return snowflakeLess(parts[i].ID, parts[j].ID) })
	return parts, nil
}

// Transform emits one row per message, partitions in id order and messages
// in id order within each partition.
func (e *MessagesExtractor) Transform(raw *extract.RawPayload) ([]record.Record, error) {
	items := append([]extract.Item(nil), raw.Items...)
	extract.SortItems(items, func(a, b extract.Item) bool {
		return snowflakeLess(extract.Str(a.Data, "id"), extract.Str(b.Data, "id"))
	})

	out := make([]record.Record, 0, len(items))
	for _, it := range items {
		author := extract.Obj(it.Data, "author")
		threadID := extract.Str(it.Context, "thread_id")
		out = append(out, record.Record{
			"channel_id":          record.String(extract.Str(it.Context, "channel_id")),
			"channel_name":        record.OptString(extract.Str(it.Context, "channel_name")),
			"thread_id":           record.OptString(threadID),
			"thread_name":         record.OptString(extract.Str(it.Context, "thread_name")),
			"message_id":          record.OptString(extract.Str(it.Data, "id")),
			"discord_username":    record.OptString(extract.Str(author, "username")),
			"discord_user_id":     record.OptString(extract.Str(author, "id")),
			"content":             record.String(extract.Str(it.Data, "content")),
			"chat_created_at":     timeField(it.Data, "timestamp"),
			"chat_edited_at":      timeField(it.Data, "edited_timestamp"),
			"is_thread":           record.Bool(threadID != ""),
			"ingestion_timestamp": record.Time(raw.FetchedAt),
		})
	}
	return out, nil
}

// Commit stores the watermarks proposed by Fetch.
func (e *MessagesExtractor) Commit(ctx context.Context, raw *extract.RawPayload) error {
	if e.marks == nil || len(raw.Watermarks) == 0 {
		return nil
	}
	return e.marks.Save(ctx, e.Name(), raw.Watermarks)
}

func timeField(m map[string]any, key string) record.Value {
	s := extract.Str(m, key)
	if s == "" {
		return record.Null()
	}
	t, err := record.ParseTime(s)
	if err != nil {
		return record.String(s)
	}
	return record.Time(t)
}
