package notion

import (
	"context"
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

// DatabaseExtractor reads every page of one workspace database and maps
// page properties onto table columns. Each row also carries page_id,
// created_time, last_edited_time and ingestion_timestamp.
type DatabaseExtractor struct {
	name       string
	src        *Source
	databaseID string
	columns    []string
	refs       map[string]PropertyRef
}

// NewDatabaseExtractor validates the column -> property map.
func NewDatabaseExtractor(name string, src *Source, databaseID string, properties map[string]string) (*DatabaseExtractor, error) {
	if databaseID == "" {
		return nil, apperrors.Newf(apperrors.ErrConfig, "%s: database id is not configured", name)
	}
	if len(properties) == 0 {
		return nil, apperrors.Newf(apperrors.ErrConfig, "%s: no property columns configured", name)
	}
	e := &DatabaseExtractor{
		name:       name,
		src:        src,
		databaseID: databaseID,
		refs:       make(map[string]PropertyRef, len(properties)),
	}
	for col, spec := range properties {
		switch col {
		case "page_id", "created_time", "last_edited_time", "ingestion_timestamp":
			return nil, apperrors.Newf(apperrors.ErrConfig, "%s: column %q is reserved", name, col)
		}
		ref, err := ParsePropertyRef(spec)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, err, "%s: column %s", name, col)
		}
		e.refs[col] = ref
		e.columns = append(e.columns, col)
	}
	sort.Strings(e.columns)
	return e, nil
}

func (e *DatabaseExtractor) Name() string { return e.name }

func (e *DatabaseExtractor) Fetch(ctx context.Context, policy resilience.RetryConfig) (*extract.RawPayload, error) {
	raw := extract.NewPayload(e.name)
	pages, err := e.src.queryDatabase(ctx, policy, e.databaseID)
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		raw.Items = append(raw.Items, extract.Item{Partition: e.databaseID, Data: p})
	}
	e.src.logger.Info("database queried", "extractor", e.name, "database", e.databaseID, "pages", len(pages))
	return raw, nil
}

// Transform emits one row per page ordered by page id.
func (e *DatabaseExtractor) Transform(raw *extract.RawPayload) ([]record.Record, error) {
	items := append([]extract.Item(nil), raw.Items...)
	extract.SortItems(items, func(a, b extract.Item) bool {
		return extract.Str(a.Data, "id") < extract.Str(b.Data, "id")
	})

	out := make([]record.Record, 0, len(items))
	for _, it := range items {
		id := extract.Str(it.Data, "id")
		if id == "" {
			return nil, fmt.Errorf("%s: page without id", e.name)
		}
		props := extract.Obj(it.Data, "properties")
		rec := record.Record{
			"page_id":             record.String(id),
			"created_time":        timeValue(extract.Str(it.Data, "created_time")),
			"last_edited_time":    timeValue(extract.Str(it.Data, "last_edited_time")),
			"ingestion_timestamp": record.Time(raw.FetchedAt),
		}
		for _, col := range e.columns {
			rec[col] = e.refs[col].Value(props)
		}
		out = append(out, rec)
	}
	return out, nil
}
