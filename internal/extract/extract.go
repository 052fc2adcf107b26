// Package extract defines the source extractor contract: a read-only,
// network-bound Fetch that returns a raw payload, and a pure Transform that
// turns the payload into flat records.
package extract

import (
	"context"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

// Item is one raw object returned by a source, tagged with the partition
// (channel, thread, database) it was read from.
type Item struct {
	Partition string         `json:"partition"`
	Context   map[string]any `json:"context,omitempty"`
	Data      map[string]any `json:"data"`
}

// RawPayload is everything Fetch read. FetchedAt doubles as the ingestion
// timestamp so Transform never reads the clock.
type RawPayload struct {
	Source     string                      `json:"source"`
	FetchedAt  time.Time                   `json:"fetched_at"`
	Items      []Item                      `json:"items"`
	Mappings   map[string]identity.Mapping `json:"-"`
	Watermarks map[string]string           `json:"watermarks,omitempty"`
}

// NewPayload starts an empty payload stamped with the current time.
func NewPayload(source string) *RawPayload {
	return &RawPayload{
		Source:    source,
		FetchedAt: time.Now().UTC(),
	}
}

// Extractor is implemented by every source. Fetch must not write to the
// store; Transform must be deterministic for a given payload.
type Extractor interface {
	Name() string
	Fetch(ctx context.Context, policy resilience.RetryConfig) (*RawPayload, error)
	Transform(raw *RawPayload) ([]record.Record, error)
}

// StoreFetcher is implemented by extractors that read the store rather
// than a remote API. A pipeline run calls FetchStore with its own
// connection instead of Fetch.
type StoreFetcher interface {
	FetchStore(ctx context.Context, conn db.DBTX) (*RawPayload, error)
}

// Committer is implemented by extractors that track incremental progress.
// Commit is called only after the payload's records were loaded.
type Committer interface {
	Commit(ctx context.Context, raw *RawPayload) error
}

// SortItems orders items by partition and then by the given key so output
// does not depend on fetch concurrency.
func SortItems(items []Item, less func(a, b Item) bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Partition != items[j].Partition {
			return items[i].Partition < items[j].Partition
		}
		return less(items[i], items[j])
	})
}

// Str reads a string field from a decoded JSON object.
func Str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Obj reads a nested object from a decoded JSON object.
func Obj(m map[string]any, key string) map[string]any {
	o, _ := m[key].(map[string]any)
	return o
}

// Arr reads a list from a decoded JSON object.
func Arr(m map[string]any, key string) []any {
	a, _ := m[key].([]any)
	return a
}
