package notion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}

func projectPage(id, name string, owners ...string) map[string]any {
	people := make([]any, 0, len(owners))
	for _, o := range owners {
		people = append(people, map[string]any{"object": "user", "id": o})
	}
	return map[string]any{
		"id":               id,
		"created_time":     "2024-01-05T09:30:00.000Z",
		"last_edited_time": "2024-02-01T12:00:00.000Z",
		"properties": map[string]any{
			"Name": map[string]any{"type": "title", "title": []any{
				map[string]any{"plain_text": name},
				map[string]any{"plain_text": " v2"},
			}},
			"Progress":  map[string]any{"type": "number", "number": 0.5},
			"Priority":  map[string]any{"type": "select", "select": map[string]any{"name": "High"}},
			"Status":    map[string]any{"type": "status", "status": map[string]any{"name": "In progress"}},
			"Tags":      map[string]any{"type": "multi_select", "multi_select": []any{map[string]any{"name": "infra"}, map[string]any{"name": "ml"}}},
			"Due Dates": map[string]any{"type": "date", "date": map[string]any{"start": "2024-03-01", "end": "2024-04-15"}},
			"Owner":     map[string]any{"type": "people", "people": people},
			"Done":      map[string]any{"type": "checkbox", "checkbox": true},
			"Ticket":    map[string]any{"type": "unique_id", "unique_id": map[string]any{"prefix": "PRJ", "number": 42}},
			"Score":     map[string]any{"type": "formula", "formula": map[string]any{"type": "number", "number": 7}},
			"Empty":     map[string]any{"type": "rich_text", "rich_text": []any{}},
		},
	}
}

func newTestServer(t *testing.T, pages []map[string]any, pageSize int) (*Source, *atomic.Int32) {
	t.Helper()
	calls := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/databases/db1/query", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2022-06-28", r.Header.Get("Notion-Version"))

		var body struct {
			PageSize    int    `json:"page_size"`
			StartCursor string `json:"start_cursor"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		start := 0
		if body.StartCursor != "" {
			for i, p := range pages {
				if p["id"] == body.StartCursor {
					start = i
				}
			}
		}
		end := min(start+body.PageSize, len(pages))
		resp := map[string]any{"results": pages[start:end], "has_more": end < len(pages), "next_cursor": nil}
		if end < len(pages) {
			resp["next_cursor"] = pages[end]["id"]
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return NewSource(config.NotionConfig{Token: "tok", Version: "2022-06-28", BaseURL: srv.URL, PageSize: pageSize}, config.ExtractConfig{}, nil), calls
}

func TestParsePropertyRef(t *testing.T) {
	ref, err := ParsePropertyRef("Due Dates#end")
	require.NoError(t, err)
	assert.Equal(t, PropertyRef{Name: "Due Dates", Modifier: "end"}, ref)

	ref, err = ParsePropertyRef("Name")
	require.NoError(t, err)
	assert.Equal(t, "", ref.Modifier)

	_, err = ParsePropertyRef("Name#last")
	assert.Error(t, err)
	_, err = ParsePropertyRef("#first")
	assert.Error(t, err)
}

func TestDatabaseExtractorPaginatesAndMaps(t *testing.T) {
	pages := []map[string]any{
		projectPage("p3", "Gamma", "u1"),
		projectPage("p1", "Alpha", "u2", "u3"),
		projectPage("p2", "Beta"),
	}
	src, calls := newTestServer(t, pages, 2)
	e, err := NewDatabaseExtractor("notion_projects", src, "db1", map[string]string{
		"name":      "Name",
		"progress":  "Progress",
		"priority":  "Priority",
		"status":    "Status",
		"tags":      "Tags",
		"due_start": "Due Dates",
		"due_end":   "Due Dates#end",
		"owner_ids": "Owner",
		"lead_id":   "Owner#first",
		"done":      "Done",
		"ticket":    "Ticket",
		"score":     "Score",
		"notes":     "Empty",
		"missing":   "Not There",
	})
	require.NoError(t, err)

	raw, err := e.Fetch(context.Background(), testPolicy)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	rows, err := e.Transform(raw)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Ordered by page id regardless of query order.
	assert.Equal(t, "p1", rows[0].Get("page_id").Str())
	assert.Equal(t, "p3", rows[2].Get("page_id").Str())

	r := rows[0]
	assert.Equal(t, "Alpha v2", r.Get("name").Str())
	assert.Equal(t, record.Float(0.5), r.Get("progress"))
	assert.Equal(t, "High", r.Get("priority").Str())
	assert.Equal(t, "In progress", r.Get("status").Str())
	assert.Equal(t, record.List(record.String("infra"), record.String("ml")), r.Get("tags"))
	start, _ := r.Get("due_start").AsTime()
	end, _ := r.Get("due_end").AsTime()
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, record.List(record.String("u2"), record.String("u3")), r.Get("owner_ids"))
	assert.Equal(t, record.String("u2"), r.Get("lead_id"))
	assert.Equal(t, record.Bool(true), r.Get("done"))
	assert.Equal(t, "PRJ-42", r.Get("ticket").Str())
	assert.Equal(t, record.Float(7), r.Get("score"))
	assert.True(t, r.Get("notes").IsNull())
	assert.True(t, r.Get("missing").IsNull())
	assert.Equal(t, record.KindTime, r.Get("created_time").Kind())

	// No owners: the list is empty and #first is null.
	assert.Empty(t, rows[1].Get("owner_ids").Items())
	assert.True(t, rows[1].Get("lead_id").IsNull())
}

func TestDatabaseExtractorConfigErrors(t *testing.T) {
	src, _ := newTestServer(t, nil, 10)

	_, err := NewDatabaseExtractor("notion_committee", src, "", map[string]string{"name": "Name"})
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	_, err = NewDatabaseExtractor("notion_committee", src, "db1", map[string]string{"page_id": "Name"})
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	_, err = NewDatabaseExtractor("notion_committee", src, "db1", map[string]string{"name": "Name#middle"})
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestQueryFailureIsExtractionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"object":"error","code":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	src := NewSource(config.NotionConfig{BaseURL: srv.URL}, config.ExtractConfig{}, nil)
	e, err := NewDatabaseExtractor("notion_committee", src, "db1", map[string]string{"name": "Name"})
	require.NoError(t, err)

	_, err = e.Fetch(context.Background(), testPolicy)
	assert.ErrorIs(t, err, apperrors.ErrExtraction)
}
