package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/staging"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopExtractor struct{}

func (noopExtractor) Name() string { return "discord_channels" }
func (noopExtractor) Fetch(context.Context, resilience.RetryConfig) (*extract.RawPayload, error) {
	return extract.NewPayload("discord_channels"), nil
}
func (noopExtractor) Transform(*extract.RawPayload) ([]record.Record, error) { return nil, nil }

// slowRunner holds every run for hold and tracks overlap.
type slowRunner struct {
	hold   time.Duration
	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
}

func (r *slowRunner) Run(ctx context.Context, job pipeline.Job, _ bool) (*pipeline.Result, error) {
	r.calls.Add(1)
	n := r.active.Add(1)
	if n > r.peak.Load() {
		r.peak.Store(n)
	}
	select {
	case <-time.After(r.hold):
	case <-ctx.Done():
	}
	r.active.Add(-1)
	return &pipeline.Result{Job: job.Name, State: pipeline.StateDone}, nil
}

func registry(t *testing.T) *pipeline.Registry {
	t.Helper()
	r := pipeline.NewRegistry()
	require.NoError(t, r.Register(pipeline.Job{
		Name:      "discord_channels",
		Extractor: noopExtractor{},
		Table:     pipeline.Table{Schema: "bronze", Name: "discord_channels", DDL: "CREATE TABLE IF NOT EXISTS bronze.discord_channels (id TEXT)"},
		Mode:      staging.ModeReplace,
	}))
	return r
}

func TestNewRejectsBadSchedules(t *testing.T) {
	_, err := New(registry(t), &slowRunner{}, map[string]string{"discord_channels": "every tuesday"})
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	_, err = New(registry(t), &slowRunner{}, map[string]string{"ghost": "@hourly"})
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	s, err := New(registry(t), &slowRunner{}, map[string]string{"discord_channels": "0 */6 * * *"})
	require.NoError(t, err)
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "0 */6 * * *", entries[0].Spec)
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	runner := &slowRunner{hold: 2500 * time.Millisecond}
	s, err := New(registry(t), runner, map[string]string{"discord_channels": "@every 1s"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	assert.False(t, s.Entries()[0].Next.IsZero())

	require.Eventually(t, func() bool { return runner.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(1500 * time.Millisecond)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	assert.Equal(t, int32(1), runner.peak.Load())
}
