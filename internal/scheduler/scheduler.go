// Package scheduler runs registry jobs on cron expressions. A job whose
// previous run is still going is skipped, not queued.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/pipeline"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/robfig/cron/v3"
)

// JobRunner is satisfied by *pipeline.Runner.
type JobRunner interface {
	Run(ctx context.Context, job pipeline.Job, validateOnly bool) (*pipeline.Result, error)
}

// Entry describes one scheduled job.
type Entry struct {
	Job  string    `json:"job"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
}

type Scheduler struct {
	cron    *cron.Cron
	runner  JobRunner
	ctx     context.Context
	specs   map[string]string
	entries map[string]cron.EntryID
	logger  *slog.Logger
}

// New validates every schedule against the registry. Expressions use the
// standard five fields or descriptors such as "@hourly" and "@every 30m".
func New(registry *pipeline.Registry, runner JobRunner, schedules map[string]string) (*Scheduler, error) {
	logger := slog.Default().With("component", "scheduler")
	cl := cronLogger{logger}
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner:  runner,
		ctx:     context.Background(),
		specs:   make(map[string]string, len(schedules)),
		entries: make(map[string]cron.EntryID, len(schedules)),
		logger:  logger,
	}

	names := make([]string, 0, len(schedules))
	for name := range schedules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		job, ok := registry.Get(name)
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrConfig, "schedule for unknown job %s", name)
		}
		spec := schedules[name]
		id, err := s.cron.AddFunc(spec, func() { s.run(job) })
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, err, "invalid schedule %q for job %s", spec, name)
		}
		s.specs[name] = spec
		s.entries[name] = id
	}
	return s, nil
}

func (s *Scheduler) run(job pipeline.Job) {
	s.logger.Info("scheduled run", "job", job.Name)
	if _, err := s.runner.Run(s.ctx, job, false); err != nil {
		s.logger.Error("scheduled run failed", "job", job.Name, "error", err)
	}
}

// Start begins firing schedules. Runs use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.entries))
}

// Stop prevents new runs and waits for running ones to finish or ctx to
// end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

// Entries lists schedules by job name. Next is zero until Start.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		out = append(out, Entry{Job: name, Spec: s.specs[name], Next: s.cron.Entry(id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
