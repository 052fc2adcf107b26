package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/staging"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/tracing"
	"github.com/google/uuid"
)

// Connector hands out a dedicated connection for one run. *db.Client
// satisfies it.
type Connector interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Hook observes every completed run, after the run's connection has been
// released. Validate-only runs are not reported.
type Hook func(ctx context.Context, res *Result)

// Options configures a Pipeline.
type Options struct {
	Policy       resilience.RetryConfig
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
	Hooks        []Hook
}

// Pipeline runs jobs against one store. It holds no per-run state and may
// be shared by concurrent runs of different tables.
type Pipeline struct {
	store        Connector
	schemas      *schema.Manager
	writer       *staging.Writer
	policy       resilience.RetryConfig
	fetchTimeout time.Duration
	metrics      *metrics.Metrics
	hooks        []Hook
}

func New(store Connector, schemas *schema.Manager, writer *staging.Writer, opts Options) *Pipeline {
	return &Pipeline{
		store:        store,
		schemas:      schemas,
		writer:       writer,
		policy:       opts.Policy,
		fetchTimeout: opts.FetchTimeout,
		metrics:      opts.Metrics,
		hooks:        opts.Hooks,
	}
}

// AddHook registers h for subsequent runs. It must not be called
// concurrently with Run.
func (p *Pipeline) AddHook(h Hook) {
	p.hooks = append(p.hooks, h)
}

// Run executes job end to end. The returned Result is always non-nil and
// its State is DONE or FAILED; on failure the error is also returned.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	return p.execute(ctx, job, false)
}

// Validate runs job without loading: the transformed records are checked
// against the table definition and returned in the Result.
func (p *Pipeline) Validate(ctx context.Context, job Job) (*Result, error) {
	return p.execute(ctx, job, true)
}

func (p *Pipeline) execute(ctx context.Context, job Job, validateOnly bool) (*Result, error) {
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, "pipeline.run", runID)
	span.SetAttr("job", job.Name)
	log := logger.FromContext(ctx).With("component", "pipeline", "job", job.Name)

	res := &Result{
		RunID:        runID,
		Job:          job.Name,
		Table:        job.Table.String(),
		Mode:         job.Mode,
		ValidateOnly: validateOnly,
		StartedAt:    time.Now().UTC(),
	}
	res.advance(StateInit)
	log.Info("run started", "table", res.Table, "mode", job.Mode, "validate_only", validateOnly)

	if err := p.steps(ctx, job, res, log); err != nil {
		res.fail(err)
	}
	res.FinishedAt = time.Now().UTC()

	span.SetAttr("state", string(res.State))
	span.Fail(res.Err)
	span.End()
	span.Log(log)

	if res.Err != nil {
		log.Error("run failed",
			"failed_from", res.FailedFrom,
			"error_kind", res.ErrorKind,
			"error", res.Err,
			"duration_ms", res.Duration().Milliseconds(),
		)
	} else {
		log.Info("run finished",
			"state", res.State,
			"records", res.RecordsExtracted,
			"rows_written", res.RowsWritten,
			"rows_deleted", res.RowsDeleted,
			"duration_ms", res.Duration().Milliseconds(),
		)
	}

	if !validateOnly {
		p.observe(res)
		for _, h := range p.hooks {
			h(ctx, res)
		}
	}
	return res, res.Err
}

// steps drives the state machine. The connection acquired here is released
// before steps returns, whatever the outcome.
func (p *Pipeline) steps(ctx context.Context, job Job, res *Result, log *slog.Logger) error {
	if err := job.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}

	conn, err := p.store.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Warn("releasing connection", "error", err)
		}
	}()

	var def *schema.TableDef
	err = p.step(ctx, job.Name, "schema", func(ctx context.Context) error {
		var err error
		def, err = p.schemas.Ensure(ctx, conn, job.Table.DDL, job.Table.Schema, job.Table.Name)
		return err
	})
	if err != nil {
		return classify(err, apperrors.ErrSchema, "ensuring "+job.Table.String())
	}
	res.advance(StateSchemaReady)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}
	raw, err := p.fetch(ctx, job, conn)
	if err != nil {
		return err
	}
	res.advance(StateExtracted)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}
	var records []record.Record
	err = p.step(ctx, job.Name, "transform", func(context.Context) error {
		var err error
		records, err = job.Extractor.Transform(raw)
		return err
	})
	if err != nil {
		return classify(err, apperrors.ErrExtraction, "transforming payload")
	}
	res.RecordsExtracted = len(records)
	res.advance(StateTransformed)

	if res.ValidateOnly {
		res.Columns = def.ColumnNames()
		res.Records = records
		if err := staging.ValidateRecords(def, records); err != nil {
			return apperrors.Wrap(apperrors.ErrWrite, err, "records would be rejected")
		}
		res.advance(StateDone)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}
	var written staging.Result
	err = p.step(ctx, job.Name, "load", func(ctx context.Context) error {
		var err error
		written, err = p.writer.Write(ctx, conn, def, records, job.Mode)
		return err
	})
	if err != nil {
		return classify(err, apperrors.ErrWrite, "loading "+job.Table.String())
	}
	res.RowsWritten = written.RowsWritten
	res.RowsDeleted = written.RowsDeleted
	res.advance(StateLoaded)

	if c, ok := job.Extractor.(extract.Committer); ok {
		err := p.step(ctx, job.Name, "commit", func(ctx context.Context) error {
			return c.Commit(ctx, raw)
		})
		if err != nil {
			return classify(err, apperrors.ErrWrite, "saving checkpoints")
		}
	}
	res.advance(StateDone)
	return nil
}

// fetch reads the source under the total fetch timeout. Store-backed
// extractors read through the run's connection.
func (p *Pipeline) fetch(ctx context.Context, job Job, conn *sql.Conn) (*extract.RawPayload, error) {
	var raw *extract.RawPayload
	err := p.step(ctx, job.Name, "fetch", func(ctx context.Context) error {
		return resilience.WithDeadline(ctx, p.fetchTimeout, job.Name+" fetch", func(ctx context.Context) error {
			var (
				payload *extract.RawPayload
				err     error
			)
			if sf, ok := job.Extractor.(extract.StoreFetcher); ok {
				payload, err = sf.FetchStore(ctx, conn)
			} else {
				payload, err = job.Extractor.Fetch(ctx, p.policy)
			}
			if err == nil {
				raw = payload
			}
			return err
		})
	})
	if err != nil {
		var de *resilience.DeadlineError
		if errors.As(err, &de) {
			return nil, apperrors.Wrap(apperrors.ErrExtraction, err, "fetch timed out")
		}
		return nil, classify(err, apperrors.ErrExtraction, "fetching "+job.Name)
	}
	if raw == nil {
		return nil, apperrors.Newf(apperrors.ErrExtraction, "%s returned no payload", job.Name)
	}
	return raw, nil
}

func (p *Pipeline) step(ctx context.Context, job, name string, fn func(context.Context) error) error {
	ctx, span := tracing.StartChildSpan(ctx, name)
	start := time.Now()
	err := fn(ctx)
	span.Fail(err)
	span.End()
	if p.metrics != nil {
		p.metrics.PipelineStepDuration.WithLabelValues(job, name).Observe(time.Since(start).Seconds())
	}
	return err
}

func (p *Pipeline) observe(res *Result) {
	if p.metrics == nil {
		return
	}
	p.metrics.PipelineRunsTotal.WithLabelValues(res.Job, string(res.State)).Inc()
	p.metrics.PipelineRunDuration.WithLabelValues(res.Job).Observe(res.Duration().Seconds())
	p.metrics.RecordsExtractedTotal.WithLabelValues(res.Job).Add(float64(res.RecordsExtracted))
	if res.State == StateDone {
		p.metrics.RowsWrittenTotal.WithLabelValues(res.Table, string(res.Mode)).Add(float64(res.RowsWritten))
		p.metrics.LastSuccessTimestamp.WithLabelValues(res.Job).SetToCurrentTime()
	}
}

// classify keeps errors that already carry a kind and wraps the rest in
// the kind of the failing step.
func classify(err error, sentinel error, msg string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Wrap(sentinel, err, msg)
}
