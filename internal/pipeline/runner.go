package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
)

// RunOptions controls a multi-job run.
type RunOptions struct {
	ValidateOnly    bool
	DryRun          bool
	ContinueOnError bool
}

// Summary collects the results of a multi-job run in execution order.
type Summary struct {
	Results    []*Result `json:"results"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s *Summary) names(keep func(*Result) bool) []string {
	var out []string
	for _, r := range s.Results {
		if keep(r) {
			out = append(out, r.Job)
		}
	}
	return out
}

func (s *Summary) Succeeded() []string {
	return s.names(func(r *Result) bool { return r.Succeeded() })
}

func (s *Summary) Failed() []string {
	return s.names(func(r *Result) bool { return r.Err != nil && !r.Skipped })
}

func (s *Summary) Skipped() []string {
	return s.names(func(r *Result) bool { return r.Skipped })
}

// Err returns the first failure, or nil.
func (s *Summary) Err() error {
	for _, r := range s.Results {
		if r.Err != nil && !r.Skipped {
			return r.Err
		}
	}
	for _, r := range s.Results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// Runner serializes runs per target table so that in-process triggers
// (schedules, events, HTTP) never write one table concurrently.
type Runner struct {
	pipeline *Pipeline
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	logger   *slog.Logger
}

func NewRunner(p *Pipeline) *Runner {
	return &Runner{
		pipeline: p,
		locks:    make(map[string]*sync.Mutex),
		logger:   slog.Default().With("component", "runner"),
	}
}

func (r *Runner) tableLock(table string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[table]
	if !ok {
		l = &sync.Mutex{}
		r.locks[table] = l
	}
	return l
}

// Run executes one job, waiting for any other run of the same table.
func (r *Runner) Run(ctx context.Context, job Job, validateOnly bool) (*Result, error) {
	if validateOnly {
		return r.pipeline.Validate(ctx, job)
	}
	l := r.tableLock(job.Table.String())
	l.Lock()
	defer l.Unlock()
	return r.pipeline.Run(ctx, job)
}

// RunAll runs jobs sequentially in the given order. Without
// ContinueOnError the first failure stops the run; with it, jobs that
// depend on a failed job are skipped and the rest continue.
func (r *Runner) RunAll(ctx context.Context, jobs []Job, opts RunOptions) *Summary {
	sum := &Summary{StartedAt: time.Now().UTC()}
	defer func() { sum.FinishedAt = time.Now().UTC() }()

	failed := make(map[string]bool)
	for i, job := range jobs {
		if opts.DryRun {
			sum.Results = append(sum.Results, &Result{
				Job:         job.Name,
				Table:       job.Table.String(),
				Mode:        job.Mode,
				State:       StateInit,
				Transitions: []State{StateInit},
				DryRun:      true,
			})
			continue
		}
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run cancelled", "remaining", len(jobs)-i)
			for _, rest := range jobs[i:] {
				sum.Results = append(sum.Results, notStarted(rest, err))
			}
			break
		}
		if dep := failedDependency(job, failed); dep != "" {
			err := apperrors.Newf(apperrors.ErrInvalidInput, "skipped: dependency %s failed", dep)
			sum.Results = append(sum.Results, &Result{
				Job:          job.Name,
				Table:        job.Table.String(),
				Mode:         job.Mode,
				State:        StateInit,
				Transitions:  []State{StateInit},
				Skipped:      true,
				Err:          err,
				ErrorKind:    apperrors.Kind(err),
				ErrorMessage: err.Error(),
			})
			failed[job.Name] = true
			r.logger.Warn("job skipped", "job", job.Name, "dependency", dep)
			continue
		}

		r.logger.Info(fmt.Sprintf("running job %d/%d", i+1, len(jobs)), "job", job.Name)
		res, err := r.Run(ctx, job, opts.ValidateOnly)
		sum.Results = append(sum.Results, res)
		if err != nil {
			failed[job.Name] = true
			if !opts.ContinueOnError {
				r.logger.Error("stopping after failure", "job", job.Name)
				break
			}
		}
	}
	return sum
}

// notStarted is the FAILED result of a job the run was cancelled before.
func notStarted(job Job, cause error) *Result {
	now := time.Now().UTC()
	res := &Result{
		Job:         job.Name,
		Table:       job.Table.String(),
		Mode:        job.Mode,
		State:       StateInit,
		Transitions: []State{StateInit},
		StartedAt:   now,
		FinishedAt:  now,
	}
	res.fail(fmt.Errorf("%s not started: %w", job.Name, cause))
	return res
}

func failedDependency(job Job, failed map[string]bool) string {
	for _, dep := range job.DependsOn {
		if failed[dep] {
			return dep
		}
	}
	return ""
}
