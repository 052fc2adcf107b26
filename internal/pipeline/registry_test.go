package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/staging"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func job(name string, deps ...string) Job {
	j := channelsJob(&fakeExtractor{name: name, ids: []string{"1"}}, staging.ModeReplace)
	j.DependsOn = deps
	return j
}

func names(jobs []Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Name
	}
	return out
}

func TestPlanOrdersByDependency(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(
		job("silver_messages", "discord_chats", "notion_committee"),
		job("discord_chats", "discord_channels"),
		job("discord_channels"),
		job("notion_committee"),
	))

	plan, err := r.Plan(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"discord_channels", "discord_chats", "notion_committee", "silver_messages"}, names(plan))

	plan, err = r.Plan([]string{"silver_messages", "discord_chats"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"discord_chats", "silver_messages"}, names(plan))

	plan, err = r.Plan(nil, []string{"discord_chats"})
	require.NoError(t, err)
	assert.Equal(t, []string{"notion_committee", "silver_messages", "discord_channels"}, names(plan))

	assert.Equal(t, []string{"silver_messages"}, names(r.Dependents("notion_committee")))
}

func TestPlanErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(job("a", "b"), job("b", "c"), job("c", "a"), job("d", "ghost")))

	_, err := r.Plan([]string{"a"}, nil)
	require.NoError(t, err)

	_, err = r.Plan([]string{"a", "b", "c"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "cycle")

	_, err = r.Plan([]string{"d"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	_, err = r.Plan([]string{"nope"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = r.Plan(nil, []string{"nope"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	assert.ErrorIs(t, r.Register(job("a")), apperrors.ErrConfig)
}

func TestRunAllStopsOrContinues(t *testing.T) {
	h := newHarness(t, Options{})
	broken := channelsJob(&fakeExtractor{name: "broken", fetchErr: errors.New("boom")}, staging.ModeReplace)
	jobs := []Job{job("first"), broken, job("dependent", "broken"), job("last")}

	r := NewRunner(h.p)
	sum := r.RunAll(t.Context(), jobs, RunOptions{})
	assert.Equal(t, []string{"first"}, sum.Succeeded())
	assert.Equal(t, []string{"broken"}, sum.Failed())
	assert.Len(t, sum.Results, 2)
	assert.ErrorIs(t, sum.Err(), apperrors.ErrExtraction)

	sum = r.RunAll(t.Context(), jobs, RunOptions{ContinueOnError: true})
	assert.Equal(t, []string{"first", "last"}, sum.Succeeded())
	assert.Equal(t, []string{"broken"}, sum.Failed())
	assert.Equal(t, []string{"dependent"}, sum.Skipped())
	assert.ErrorIs(t, sum.Err(), apperrors.ErrExtraction)
}

func TestRunAllDryRunExecutesNothing(t *testing.T) {
	h := newHarness(t, Options{})
	e := &fakeExtractor{name: "channels", ids: []string{"1"}}
	sum := NewRunner(h.p).RunAll(t.Context(), []Job{channelsJob(e, staging.ModeReplace)}, RunOptions{DryRun: true})
	require.Len(t, sum.Results, 1)
	assert.True(t, sum.Results[0].DryRun)
	assert.Equal(t, StateInit, sum.Results[0].State)
	assert.Equal(t, int32(0), e.fetches.Load())
	assert.NoError(t, sum.Err())
}

func TestRunAllReportsJobsCancelledBeforeStart(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	sum := NewRunner(h.p).RunAll(ctx, []Job{job("a"), job("b", "a")}, RunOptions{ContinueOnError: true})
	require.Len(t, sum.Results, 2)
	assert.Equal(t, []string{"a", "b"}, sum.Failed())
	for _, res := range sum.Results {
		assert.Equal(t, StateFailed, res.State)
		assert.Equal(t, StateInit, res.FailedFrom)
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
	assert.ErrorIs(t, sum.Err(), context.Canceled)
}

func TestRunAllCancelledBetweenJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	h := newHarness(t, Options{Hooks: []Hook{func(context.Context, *Result) { cancel() }}})

	sum := NewRunner(h.p).RunAll(ctx, []Job{job("first"), job("second")}, RunOptions{})
	require.Len(t, sum.Results, 2)
	assert.Equal(t, []string{"first"}, sum.Succeeded())
	assert.Equal(t, []string{"second"}, sum.Failed())
	assert.ErrorIs(t, sum.Err(), context.Canceled)
}

func TestTerminalResultIgnoresFurtherTransitions(t *testing.T) {
	res := &Result{}
	res.advance(StateInit)
	res.advance(StateDone)
	assert.True(t, res.State.Terminal())

	res.fail(errors.New("late"))
	res.advance(StateLoaded)
	assert.Equal(t, StateDone, res.State)
	assert.NoError(t, res.Err)
	assert.Equal(t, []State{StateInit, StateDone}, res.Transitions)
}
