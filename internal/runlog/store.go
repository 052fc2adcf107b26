// Package runlog persists pipeline run results in bronze.pipeline_runs and
// serves recent history.
package runlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/ddl"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
)

const (
	runsSchema = "bronze"
	runsTable  = "pipeline_runs"

	defaultLimit = 20
	maxLimit     = 500
)

var runColumns = []string{
	"run_id", "job", "target", "mode", "state", "error_kind", "error_message",
	"records_extracted", "rows_written", "rows_deleted", "dry_run",
	"started_at", "finished_at", "duration_ms",
}

// Run is one row of the run log.
type Run struct {
	RunID            string    `json:"run_id"`
	Job              string    `json:"job"`
	Target           string    `json:"target"`
	Mode             string    `json:"mode"`
	State            string    `json:"state"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	RecordsExtracted int64     `json:"records_extracted"`
	RowsWritten      int64     `json:"rows_written"`
	RowsDeleted      int64     `json:"rows_deleted"`
	DryRun           bool      `json:"dry_run"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	DurationMs       int64     `json:"duration_ms"`
}

// Store writes and lists runs. The table is created on first use.
type Store struct {
	client  *db.Client
	schemas *schema.Manager
	ddl     string
	logger  *slog.Logger
}

func NewStore(client *db.Client, schemas *schema.Manager) *Store {
	return &Store{
		client:  client,
		schemas: schemas,
		ddl:     ddl.MustStatement(runsSchema, runsTable),
		logger:  slog.Default().With("component", "runlog"),
	}
}

func (s *Store) ensure(ctx context.Context) error {
	_, err := s.schemas.Ensure(ctx, s.client.DB, s.ddl, runsSchema, runsTable)
	return err
}

// Record inserts res. Runs without a run id (dry runs) are ignored.
func (s *Store) Record(ctx context.Context, res *pipeline.Result) error {
	if res.RunID == "" {
		return nil
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		db.Qualified(runsSchema, runsTable),
		strings.Join(runColumns, ", "),
		db.Placeholders(s.client.Dialect, 1, len(runColumns)),
	)
	_, err := s.client.DB.ExecContext(ctx, query,
		res.RunID,
		res.Job,
		res.Table,
		string(res.Mode),
		string(res.State),
		nullable(res.ErrorKind),
		nullable(res.ErrorMessage),
		int64(res.RecordsExtracted),
		res.RowsWritten,
		res.RowsDeleted,
		res.DryRun,
		res.StartedAt.UTC(),
		res.FinishedAt.UTC(),
		res.Duration().Milliseconds(),
	)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrWrite, err, "recording run %s", res.RunID)
	}
	s.logger.Debug("run recorded", "run_id", res.RunID, "job", res.Job, "state", res.State)
	return nil
}

// Hook records every run, logging failures instead of returning them.
func (s *Store) Hook() pipeline.Hook {
	return func(ctx context.Context, res *pipeline.Result) {
		// The run's own context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Record(ctx, res); err != nil {
			s.logger.Error("failed to record run", "run_id", res.RunID, "error", err)
		}
	}
}

// List returns the most recent runs, newest first, optionally for one job.
// A non-positive limit selects the default.
func (s *Store) List(ctx context.Context, job string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(runColumns, ", "), db.Qualified(runsSchema, runsTable))
	args := []any{}
	if job != "" {
		query += " WHERE job = " + s.client.Dialect.Placeholder(1)
		args = append(args, job)
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC, run_id LIMIT %d", limit)

	rows, err := db.QueryMaps(ctx, s.client.DB, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]Run, 0, len(rows))
	for _, r := range rows {
		runs = append(runs, scanRun(r))
	}
	return runs, nil
}

// LastSuccess returns the latest DONE run of job, or nil if there is none.
func (s *Store) LastSuccess(ctx context.Context, job string) (*Run, error) {
	runs, err := s.List(ctx, job, maxLimit)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.State == string(pipeline.StateDone) {
			return &r, nil
		}
	}
	return nil, nil
}

func scanRun(r map[string]any) Run {
	v := func(col string) record.Value { return record.FromAny(r[col]) }
	n := func(col string) int64 {
		i, _ := v(col).AsInt()
		return i
	}
	started, _ := v("started_at").AsTime()
	finished, _ := v("finished_at").AsTime()
	dry, _ := v("dry_run").AsBool()
	return Run{
		RunID:            v("run_id").Str(),
		Job:              v("job").Str(),
		Target:           v("target").Str(),
		Mode:             v("mode").Str(),
		State:            v("state").Str(),
		ErrorKind:        v("error_kind").Str(),
		ErrorMessage:     v("error_message").Str(),
		RecordsExtracted: n("records_extracted"),
		RowsWritten:      n("rows_written"),
		RowsDeleted:      n("rows_deleted"),
		DryRun:           dry,
		StartedAt:        started,
		FinishedAt:       finished,
		DurationMs:       n("duration_ms"),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
