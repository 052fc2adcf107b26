package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/staging"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db/dbtest"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const channelsDDL = `CREATE TABLE IF NOT EXISTS bronze.channels (
    channel_id TEXT NOT NULL,
    name       TEXT,
    created_at TIMESTAMPTZ,
    PRIMARY KEY (channel_id)
)`

const eventsDDL = `CREATE TABLE IF NOT EXISTS bronze.events (
    event_id TEXT NOT NULL,
    payload  TEXT
)`

var created = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeExtractor serves pre-built channel payloads.
type fakeExtractor struct {
	name      string
	ids       []string
	fetchErr  error
	block     bool
	transform func(*extract.RawPayload) ([]record.Record, error)

	fetches atomic.Int32
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) Fetch(ctx context.Context, _ resilience.RetryConfig) (*extract.RawPayload, error) {
	f.fetches.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	raw := extract.NewPayload(f.name)
	for _, id := range f.ids {
		raw.Items = append(raw.Items, extract.Item{Partition: "g", Data: map[string]any{"id": id, "name": "chan-" + id}})
	}
	return raw, nil
}

func (f *fakeExtractor) Transform(raw *extract.RawPayload) ([]record.Record, error) {
	if f.transform != nil {
		return f.transform(raw)
	}
	out := make([]record.Record, 0, len(raw.Items))
	for _, it := range raw.Items {
		out = append(out, record.Record{
			"channel_id": record.OptString(extract.Str(it.Data, "id")),
			"name":       record.String(extract.Str(it.Data, "name")),
			"created_at": record.Time(created),
		})
	}
	return out, nil
}

// committingExtractor records commits and can fail them.
type committingExtractor struct {
	*fakeExtractor
	commitErr error
	commits   int
}

func (c *committingExtractor) Commit(context.Context, *extract.RawPayload) error {
	c.commits++
	return c.commitErr
}

// storeExtractor reads through the run's connection.
type storeExtractor struct {
	*fakeExtractor
	storeCalls int
}

func (s *storeExtractor) FetchStore(ctx context.Context, conn db.DBTX) (*extract.RawPayload, error) {
	s.storeCalls++
	rows, err := db.QueryMaps(ctx, conn, "SELECT channel_id FROM bronze.channels")
	if err != nil {
		return nil, err
	}
	raw := extract.NewPayload(s.name)
	for _, r := range rows {
		raw.Items = append(raw.Items, extract.Item{Data: map[string]any{"id": record.FromAny(r["channel_id"]).Str(), "name": "copy"}})
	}
	return raw, nil
}

type harness struct {
	client  *db.Client
	p       *Pipeline
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	client := dbtest.NewSQLite(t)
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = resilience.RetryConfig{MaxAttempts: 1}
	}
	p := New(client, schema.NewManager(client.Dialect), staging.NewWriter(client.Dialect, 4), opts)
	return &harness{client: client, p: p, metrics: opts.Metrics}
}

func (h *harness) inUse() int {
	return h.client.DB.Stats().InUse
}

func channelsJob(e extract.Extractor, mode staging.Mode) Job {
	return Job{
		Name:      e.Name(),
		Layer:     "bronze",
		Extractor: e,
		Table:     Table{Schema: "bronze", Name: "channels", DDL: channelsDDL},
		Mode:      mode,
	}
}

func ids(n int, prefix string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return out
}

func TestReplaceRunLeavesOnlyFreshRows(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := t.Context()

	_, err := h.p.Run(ctx, channelsJob(&fakeExtractor{name: "channels", ids: ids(5, "stale")}, staging.ModeReplace))
	require.NoError(t, err)
	require.Equal(t, int64(5), dbtest.Count(t, h.client, "bronze", "channels"))

	res, err := h.p.Run(ctx, channelsJob(&fakeExtractor{name: "channels", ids: []string{"1", "2", "3"}}, staging.ModeReplace))
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []State{StateInit, StateSchemaReady, StateExtracted, StateTransformed, StateLoaded, StateDone}, res.Transitions)
	assert.Equal(t, 3, res.RecordsExtracted)
	assert.Equal(t, int64(3), res.RowsWritten)
	assert.Equal(t, int64(5), res.RowsDeleted)
	assert.NotEmpty(t, res.RunID)

	rows, err := db.QueryMaps(ctx, h.client.DB, "SELECT channel_id FROM bronze.channels ORDER BY channel_id")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "1", record.FromAny(rows[0]["channel_id"]).Str())
	assert.Equal(t, 0, h.inUse())

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.PipelineRunsTotal.WithLabelValues("channels", "DONE")))
	assert.Equal(t, 8.0, testutil.ToFloat64(h.metrics.RowsWrittenTotal.WithLabelValues("bronze.channels", "replace")))
}

func TestAppendWithInvalidRecordWritesNothing(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := t.Context()

	_, err := h.p.Run(ctx, channelsJob(&fakeExtractor{name: "channels", ids: ids(2, "old")}, staging.ModeAppend))
	require.NoError(t, err)

	batch := ids(10, "new")
	batch[6] = "" // record #7 has a null key
	res, err := h.p.Run(ctx, channelsJob(&fakeExtractor{name: "channels", ids: batch}, staging.ModeAppend))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrWrite)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, StateTransformed, res.FailedFrom)
	assert.Equal(t, "WriteError", res.ErrorKind)
	assert.Equal(t, int64(2), dbtest.Count(t, h.client, "bronze", "channels"))
	assert.Equal(t, 0, h.inUse())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PipelineRunsTotal.WithLabelValues("channels", "FAILED")))
}

func TestFailuresAreClassifiedByStep(t *testing.T) {
	tests := []struct {
		name       string
		job        func() Job
		opts       Options
		kind       error
		failedFrom State
	}{
		{
			name: "malformed DDL",
			job: func() Job {
				j := channelsJob(&fakeExtractor{name: "channels"}, staging.ModeReplace)
				j.Table.DDL = "CREATE TABLE bronze.channels"
				return j
			},
			kind:       apperrors.ErrSchema,
			failedFrom: StateInit,
		},
		{
			name: "fetch error",
			job: func() Job {
				return channelsJob(&fakeExtractor{name: "channels", fetchErr: errors.New("connection reset")}, staging.ModeReplace)
			},
			kind:       apperrors.ErrExtraction,
			failedFrom: StateSchemaReady,
		},
		{
			name: "fetch timeout",
			job: func() Job {
				return channelsJob(&fakeExtractor{name: "channels", block: true}, staging.ModeReplace)
			},
			opts:       Options{FetchTimeout: 20 * time.Millisecond},
			kind:       apperrors.ErrExtraction,
			failedFrom: StateSchemaReady,
		},
		{
			name: "transform error",
			job: func() Job {
				return channelsJob(&fakeExtractor{name: "channels", transform: func(*extract.RawPayload) ([]record.Record, error) {
					return nil, errors.New("unexpected payload shape")
				}}, staging.ModeReplace)
			},
			kind:       apperrors.ErrExtraction,
			failedFrom: StateExtracted,
		},
		{
			name: "mapping error keeps its kind",
			job: func() Job {
				return channelsJob(&fakeExtractor{name: "channels", fetchErr: apperrors.New(apperrors.ErrMapping, "empty mapping")}, staging.ModeReplace)
			},
			kind:       apperrors.ErrMapping,
			failedFrom: StateSchemaReady,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.opts)
			res, err := h.p.Run(t.Context(), tt.job())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, tt.failedFrom, res.FailedFrom)
			assert.False(t, res.FinishedAt.IsZero())
			assert.Equal(t, 0, h.inUse())
		})
	}
}

func TestInvalidModeFailsBeforeConnecting(t *testing.T) {
	h := newHarness(t, Options{})
	e := &fakeExtractor{name: "channels"}
	res, err := h.p.Run(t.Context(), channelsJob(e, staging.Mode("upsert")))
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, int32(0), e.fetches.Load())
}

func TestCommitFollowsLoad(t *testing.T) {
	h := newHarness(t, Options{})
	c := &committingExtractor{fakeExtractor: &fakeExtractor{name: "channels", ids: []string{"1"}}}
	res, err := h.p.Run(t.Context(), channelsJob(c, staging.ModeAppend))
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, c.commits)

	// A failed load never commits.
	c.ids = []string{"2", ""}
	_, err = h.p.Run(t.Context(), channelsJob(c, staging.ModeAppend))
	require.Error(t, err)
	assert.Equal(t, 1, c.commits)

	// A failed commit fails the run but the load stands.
	c.ids = []string{"3"}
	c.commitErr = errors.New("redis unavailable")
	res, err = h.p.Run(t.Context(), channelsJob(c, staging.ModeAppend))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrWrite)
	assert.Equal(t, StateLoaded, res.FailedFrom)
	assert.Equal(t, int64(2), dbtest.Count(t, h.client, "bronze", "channels"))
}

func TestValidateDoesNotLoad(t *testing.T) {
	h := newHarness(t, Options{})
	var hooked int
	h.p.AddHook(func(context.Context, *Result) { hooked++ })

	res, err := h.p.Validate(t.Context(), channelsJob(&fakeExtractor{name: "channels", ids: []string{"1", "2"}}, staging.ModeReplace))
	require.NoError(t, err)
	assert.True(t, res.ValidateOnly)
	assert.Equal(t, StateDone, res.State)
	assert.NotContains(t, res.Transitions, StateLoaded)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, []string{"channel_id", "name", "created_at"}, res.Columns)
	assert.Equal(t, int64(0), dbtest.Count(t, h.client, "bronze", "channels"))
	assert.Zero(t, hooked)

	_, err = h.p.Validate(t.Context(), channelsJob(&fakeExtractor{name: "channels", ids: []string{""}}, staging.ModeReplace))
	assert.ErrorIs(t, err, apperrors.ErrWrite)
}

func TestStoreFetcherReadsThroughRunConnection(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.p.Run(t.Context(), channelsJob(&fakeExtractor{name: "channels", ids: []string{"7", "8"}}, staging.ModeReplace))
	require.NoError(t, err)

	s := &storeExtractor{fakeExtractor: &fakeExtractor{name: "copy"}}
	job := channelsJob(s, staging.ModeReplace)
	job.Table = Table{Schema: "bronze", Name: "events", DDL: eventsDDL}
	s.transform = func(raw *extract.RawPayload) ([]record.Record, error) {
		out := make([]record.Record, 0, len(raw.Items))
		for _, it := range raw.Items {
			out = append(out, record.Record{"event_id": record.String(extract.Str(it.Data, "id"))})
		}
		return out, nil
	}
	res, err := h.p.Run(t.Context(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, s.storeCalls)
	assert.Equal(t, int32(0), s.fetches.Load())
	assert.Equal(t, int64(2), res.RowsWritten)
}

func TestHooksSeeReleasedConnection(t *testing.T) {
	h := newHarness(t, Options{})
	var got []*Result
	h.p.AddHook(func(ctx context.Context, res *Result) {
		assert.Equal(t, 0, h.inUse())
		got = append(got, res)
	})
	_, _ = h.p.Run(t.Context(), channelsJob(&fakeExtractor{name: "channels", ids: []string{"1"}}, staging.ModeReplace))
	_, _ = h.p.Run(t.Context(), channelsJob(&fakeExtractor{name: "channels", fetchErr: errors.New("boom")}, staging.ModeReplace))
	require.Len(t, got, 2)
	assert.Equal(t, StateDone, got[0].State)
	assert.Equal(t, StateFailed, got[1].State)
	assert.Equal(t, "ExtractionError", got[1].ErrorKind)
}

func TestCancelledRunFails(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	res, err := h.p.Run(ctx, channelsJob(&fakeExtractor{name: "channels", ids: []string{"1"}}, staging.ModeReplace))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, h.inUse())
}

func TestRunnerSerializesTable(t *testing.T) {
	h := newHarness(t, Options{})
	r := NewRunner(h.p)

	var active, peak atomic.Int32
	slow := func(id string) *fakeExtractor {
		return &fakeExtractor{name: "channels", transform: func(*extract.RawPayload) ([]record.Record, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			return []record.Record{{"channel_id": record.String(id)}}, nil
		}}
	}

	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Run(context.Background(), channelsJob(slow(fmt.Sprint(i)), staging.ModeReplace), false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, int64(1), dbtest.Count(t, h.client, "bronze", "channels"))
}
