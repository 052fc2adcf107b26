// Package events publishes a RunEvent for every finished pipeline run and
// turns DONE events into runs of the jobs that depend on the finished one.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/kafka"
)

// RunEvent is the wire form of a finished run.
type RunEvent struct {
	RunID            string    `json:"run_id"`
	Job              string    `json:"job"`
	Table            string    `json:"table"`
	Mode             string    `json:"mode"`
	State            string    `json:"state"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	RecordsExtracted int       `json:"records_extracted"`
	RowsWritten      int64     `json:"rows_written"`
	FinishedAt       time.Time `json:"finished_at"`
}

func FromResult(res *pipeline.Result) RunEvent {
	return RunEvent{
		RunID:            res.RunID,
		Job:              res.Job,
		Table:            res.Table,
		Mode:             string(res.Mode),
		State:            string(res.State),
		ErrorKind:        res.ErrorKind,
		RecordsExtracted: res.RecordsExtracted,
		RowsWritten:      res.RowsWritten,
		FinishedAt:       res.FinishedAt,
	}
}

// Producer is satisfied by *kafka.Producer.
type Producer interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Publisher sends run events keyed by job name.
type Publisher struct {
	producer Producer
	logger   *slog.Logger
}

func NewPublisher(p Producer) *Publisher {
	return &Publisher{producer: p, logger: slog.Default().With("component", "run-events")}
}

func (p *Publisher) Publish(ctx context.Context, res *pipeline.Result) error {
	return p.producer.Publish(ctx, kafka.Event{Key: res.Job, Value: FromResult(res)})
}

// Hook publishes every run. Publish failures are logged; they never change
// the outcome of the run.
func (p *Publisher) Hook() pipeline.Hook {
	return func(ctx context.Context, res *pipeline.Result) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := p.Publish(ctx, res); err != nil {
			p.logger.Error("failed to publish run event", "run_id", res.RunID, "job", res.Job, "error", err)
		}
	}
}

// JobRunner is satisfied by *pipeline.Runner.
type JobRunner interface {
	Run(ctx context.Context, job pipeline.Job, validateOnly bool) (*pipeline.Result, error)
}

// Trigger runs the dependents of every job that reaches DONE.
type Trigger struct {
	registry *pipeline.Registry
	runner   JobRunner
	logger   *slog.Logger
}

func NewTrigger(registry *pipeline.Registry, runner JobRunner) *Trigger {
	return &Trigger{
		registry: registry,
		runner:   runner,
		logger:   slog.Default().With("component", "run-trigger"),
	}
}

// Handle is a kafka.MessageHandler. Undecodable events are dropped; a
// failed dependent run is logged and does not block the consumer.
func (t *Trigger) Handle(ctx context.Context, _, value []byte) error {
	ev, err := kafka.DecodeJSON[RunEvent](value)
	if err != nil {
		t.logger.Warn("dropping undecodable run event", "error", err)
		return nil
	}
	if ev.State != string(pipeline.StateDone) {
		return nil
	}
	for _, job := range t.registry.Dependents(ev.Job) {
		t.logger.Info("triggering dependent job", "job", job.Name, "after", ev.Job, "upstream_run", ev.RunID)
		if _, err := t.runner.Run(ctx, job, false); err != nil {
			t.logger.Error("triggered job failed", "job", job.Name, "error", err)
		}
	}
	return nil
}
