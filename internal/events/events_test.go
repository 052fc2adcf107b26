package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/staging"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	events []kafka.Event
	err    error
}

func (p *recordingProducer) Publish(_ context.Context, events ...kafka.Event) error {
	p.events = append(p.events, events...)
	return p.err
}

type noopExtractor struct{ name string }

func (e noopExtractor) Name() string { return e.name }
func (e noopExtractor) Fetch(context.Context, resilience.RetryConfig) (*extract.RawPayload, error) {
	return extract.NewPayload(e.name), nil
}
func (e noopExtractor) Transform(*extract.RawPayload) ([]record.Record, error) { return nil, nil }

type recordingRunner struct {
	ran []string
	err error
}

func (r *recordingRunner) Run(_ context.Context, job pipeline.Job, _ bool) (*pipeline.Result, error) {
	r.ran = append(r.ran, job.Name)
	return &pipeline.Result{Job: job.Name}, r.err
}

func registry(t *testing.T) *pipeline.Registry {
	t.Helper()
	job := func(name string, deps ...string) pipeline.Job {
		return pipeline.Job{
			Name:      name,
			Extractor: noopExtractor{name},
			Table:     pipeline.Table{Schema: "bronze", Name: name, DDL: "CREATE TABLE IF NOT EXISTS bronze." + name + " (id TEXT)"},
			Mode:      staging.ModeReplace,
			DependsOn: deps,
		}
	}
	r := pipeline.NewRegistry()
	require.NoError(t, r.Register(
		job("discord_chats"),
		job("notion_committee"),
		job("silver_messages", "discord_chats"),
		job("silver_project_members", "notion_committee"),
	))
	return r
}

func TestPublisherHook(t *testing.T) {
	p := &recordingProducer{}
	finished := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	NewPublisher(p).Hook()(context.Background(), &pipeline.Result{
		RunID: "r1", Job: "discord_chats", Table: "bronze.discord_chats", Mode: staging.ModeAppend,
		State: pipeline.StateDone, RecordsExtracted: 12, RowsWritten: 12, FinishedAt: finished,
	})
	require.Len(t, p.events, 1)
	assert.Equal(t, "discord_chats", p.events[0].Key)
	assert.Equal(t, RunEvent{
		RunID: "r1", Job: "discord_chats", Table: "bronze.discord_chats", Mode: "append",
		State: "DONE", RecordsExtracted: 12, RowsWritten: 12, FinishedAt: finished,
	}, p.events[0].Value)

	// A broken broker does not panic or surface.
	p.err = errors.New("broker down")
	NewPublisher(p).Hook()(context.Background(), &pipeline.Result{RunID: "r2", Job: "x"})
	assert.Len(t, p.events, 2)
}

func TestTriggerRunsDependentsOfDoneJobs(t *testing.T) {
	runner := &recordingRunner{}
	trig := NewTrigger(registry(t), runner)
	ctx := context.Background()

	encode := func(ev RunEvent) []byte {
		b, err := json.Marshal(ev)
		require.NoError(t, err)
		return b
	}

	require.NoError(t, trig.Handle(ctx, nil, encode(RunEvent{Job: "discord_chats", State: "DONE"})))
	require.NoError(t, trig.Handle(ctx, nil, encode(RunEvent{Job: "notion_committee", State: "FAILED"})))
	require.NoError(t, trig.Handle(ctx, nil, []byte("not json")))
	assert.Equal(t, []string{"silver_messages"}, runner.ran)

	runner.err = errors.New("load failed")
	require.NoError(t, trig.Handle(ctx, nil, encode(RunEvent{Job: "notion_committee", State: "DONE"})))
	assert.Equal(t, []string{"silver_messages", "silver_project_members"}, runner.ran)
}
