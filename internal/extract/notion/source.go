// Package notion implements the workspace extractors: generic database
// queries whose page properties are mapped onto fixed table columns.
package notion

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract/httpapi"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

// Source is the authenticated workspace API client.
type Source struct {
	api      *httpapi.Client
	pageSize int
	logger   *slog.Logger
}

func NewSource(cfg config.NotionConfig, ext config.ExtractConfig, m *metrics.Metrics) *Source {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)
	header.Set("Notion-Version", cfg.Version)
	api := httpapi.New(httpapi.Config{
		Source:            "notion",
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
		api:      api,
		pageSize: pageSize,
		logger:   slog.Default().With("component", "notion"),
	}
}

type queryResponse struct {
	Results    []map[string]any `json:"results"`
	HasMore    bool             `json:"has_more"`
	NextCursor *string          `json:"next_cursor"`
}

// queryDatabase pages through every row of a database.
func (s *Source) queryDatabase(ctx context.Context, policy resilience.RetryConfig, databaseID string) ([]map[string]any, error) {
	var pages []map[string]any
	body := map[string]any{"page_size": s.pageSize}
	for {
		var resp queryResponse
		if err := s.api.Post(ctx, "/databases/"+databaseID+"/query", body, policy, &resp); err != nil {
			return nil, err
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return pages, nil
		}
		body["start_cursor"] = *resp.NextCursor
	}
}
