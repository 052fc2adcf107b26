// Package discord implements the chat-platform extractors: guild channels,
// channel and thread messages, and message reactions, read from the Discord
// REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract/httpapi"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

// Channel types used by the extractors.
const (
	typeText          = 0
	typeCategory      = 4
	typeNews          = 5
	typeNewsThread    = 10
	typePublicThread  = 11
	typePrivateThread = 12
	typeForum         = 15
)

// discordEpoch is 2015-01-01T00:00:00Z in unix milliseconds.
const discordEpoch = 1420070400000

// SnowflakeTime returns the creation time encoded in a Discord id.
func SnowflakeTime(id string) (time.Time, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(n>>22) + discordEpoch).UTC(), true
}

// snowflakeLess orders ids numerically without parsing them.
func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// Source is the authenticated client shared by the Discord extractors of
// one guild.
type Source struct {
	api         *httpapi.Client
	guildID     string
	concurrency int
	pageSize    int
	logger      *slog.Logger
}

// NewSource builds a Source from the Discord and network settings.
func NewSource(cfg config.DiscordConfig, ext config.ExtractConfig, m *metrics.Metrics) *Source {
	header := http.Header{}
	header.Set("Authorization", "Bot "+cfg.Token)
	header.Set("User-Agent", "brain-pipeline (https://github.com/Adithya-Monish-Kumar-K/brain-pipeline, 1.0)")
	api := httpapi.New(httpapi.Config{
		Source:            "discord",
		BaseURL:           cfg.BaseURL,
		Header:            header,
		RequestTimeout:    ext.RequestTimeout,
		RequestsPerSecond: ext.RequestsPerSecond,
		Burst:             ext.Burst,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: ext.BreakerThreshold,
			ResetTimeout:     ext.BreakerReset,
		},
		Metrics: m,
	})
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &Source{
		api:         api,
		guildID:     cfg.GuildID,
		concurrency: max(cfg.Concurrency, 1),
		pageSize:    pageSize,
		logger:      slog.Default().With("component", "discord"),
	}
}

func (s *Source) guild(ctx context.Context, policy resilience.RetryConfig) (map[string]any, error) {
	var g map[string]any
	if err := s.api.Get(ctx, "/guilds/"+s.guildID, nil, policy, &g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Source) channels(ctx context.Context, policy resilience.RetryConfig) ([]map[string]any, error) {
	var chans []map[string]any
	if err := s.api.Get(ctx, "/guilds/"+s.guildID+"/channels", nil, policy, &chans); err != nil {
		return nil, err
	}
	return chans, nil
}

func (s *Source) activeThreads(ctx context.Context, policy resilience.RetryConfig) ([]map[string]any, error) {
	var resp struct {
		Threads []map[string]any `json:"threads"`
	}
	if err := s.api.Get(ctx, "/guilds/"+s.guildID+"/threads/active", nil, policy, &resp); err != nil {
		return nil, err
	}
	return resp.Threads, nil
}

// archivedThreads pages the public archived threads of a channel, newest
// archive first.
func (s *Source) archivedThreads(ctx context.Context, policy resilience.RetryConfig, channelID string) ([]map[string]any, error) {
	var all []map[string]any
	before := ""
	for {
		q := url.Values{"limit": {"100"}}
		if before != "" {
			q.Set("before", before)
		}
		var resp struct {
			Threads []map[string]any `json:"threads"`
			HasMore bool             `json:"has_more"`
		}
		if err := s.api.Get(ctx, "/channels/"+channelID+"/threads/archived/public", q, policy, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Threads...)
		if !resp.HasMore || len(resp.Threads) == 0 {
			return all, nil
		}
		last := extract.Obj(resp.Threads[len(resp.Threads)-1], "thread_metadata")
		before = extract.Str(last, "archive_timestamp")
		if before == "" {
			return all, nil
		}
	}
}

// messages returns the messages of a channel or thread. With after set only
// newer messages are read, otherwise the whole history. limit caps the
// result when positive.
func (s *Source) messages(ctx context.Context, policy resilience.RetryConfig, channelID, after string, limit int) ([]map[string]any, error) {
	var all []map[string]any
	cursor := after
	forward := after != ""
	for {
		pageSize := s.pageSize
		if limit > 0 {
			pageSize = min(pageSize, limit-len(all))
		}
		q := url.Values{"limit": {strconv.Itoa(pageSize)}}
		if forward {
			q.Set("after", cursor)
		} else if cursor != "" {
			q.Set("before", cursor)
		}
		var page []map[string]any
		if err := s.api.Get(ctx, "/channels/"+channelID+"/messages", q, policy, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize || (limit > 0 && len(all) >= limit) {
			return all, nil
		}
		// Pages arrive newest first; move the cursor past the page edge.
		edge := extract.Str(page[0], "id")
		for _, m := range page {
			id := extract.Str(m, "id")
			if forward == snowflakeLess(edge, id) {
				edge = id
			}
		}
		cursor = edge
	}
}

// reactionUsers returns every user who reacted to a message with emoji.
func (s *Source) reactionUsers(ctx context.Context, policy resilience.RetryConfig, channelID, messageID, emoji string) ([]map[string]any, error) {
	var all []map[string]any
	after := ""
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s", channelID, messageID, url.PathEscape(emoji))
	for {
		q := url.Values{"limit": {"100"}}
		if after != "" {
			q.Set("after", after)
		}
		var page []map[string]any
		if err := s.api.Get(ctx, path, q, policy, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < 100 {
			return all, nil
		}
		after = extract.Str(page[len(page)-1], "id")
	}
}

// forbidden reports whether err is a 403 or 404 on a resource the bot may
// not read, which extractors skip rather than fail on.
func forbidden(err error) bool {
	var se *httpapi.StatusError
	return errors.As(err, &se) && (se.StatusCode == http.StatusForbidden || se.StatusCode == http.StatusNotFound)
}

func channelType(c map[string]any) int {
	t, _ := c["type"].(float64)
	return int(t)
}

// entityType classifies a channel for the component tables.
func entityType(t int) string {
	switch t {
	case typeCategory:
		return "discord_server"
	case typeForum:
		return "discord_forum"
	case typeNewsThread, typePublicThread, typePrivateThread:
		return "discord_thread"
	default:
		return "discord_channel"
	}
}

func isMessageChannel(t int) bool {
	return t == typeText || t == typeNews
}

func hasThreads(t int) bool {
	return t == typeText || t == typeNews || t == typeForum
}
