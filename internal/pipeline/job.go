// Package pipeline runs one ingestion job through the states
// INIT -> SCHEMA_READY -> EXTRACTED -> TRANSFORMED -> LOADED -> DONE, and
// orders and runs sets of jobs by their dependencies.
package pipeline

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/staging"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
)

// State is a step of a single run.
type State string

const (
	StateInit        State = "INIT"
	StateSchemaReady State = "SCHEMA_READY"
	StateExtracted   State = "EXTRACTED"
	StateTransformed State = "TRANSFORMED"
	StateLoaded      State = "LOADED"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Table is the staging table a job loads into, with the DDL that creates it.
type Table struct {
	Schema string
	Name   string
	DDL    string
}

func (t Table) String() string { return t.Schema + "." + t.Name }

// Job binds an extractor to its target table and load mode.
type Job struct {
	Name      string
	Layer     string
	Extractor extract.Extractor
	Table     Table
	Mode      staging.Mode
	DependsOn []string
}

func (j Job) validate() error {
	if j.Name == "" {
		return apperrors.New(apperrors.ErrConfig, "job name is required")
	}
	if j.Extractor == nil {
		return apperrors.Newf(apperrors.ErrConfig, "job %s has no extractor", j.Name)
	}
	if j.Table.Schema == "" || j.Table.Name == "" || j.Table.DDL == "" {
		return apperrors.Newf(apperrors.ErrConfig, "job %s has no target table", j.Name)
	}
	if !j.Mode.Valid() {
		return apperrors.Newf(apperrors.ErrConfig, "job %s: invalid load mode %q", j.Name, j.Mode)
	}
	return nil
}

// Result describes one run. Records is only set by validate-only runs.
type Result struct {
	RunID            string          `json:"run_id"`
	Job              string          `json:"job"`
	Table            string          `json:"table"`
	Mode             staging.Mode    `json:"mode"`
	State            State           `json:"state"`
	FailedFrom       State           `json:"failed_from,omitempty"`
	Transitions      []State         `json:"transitions"`
	RecordsExtracted int             `json:"records_extracted"`
	RowsWritten      int64           `json:"rows_written"`
	RowsDeleted      int64           `json:"rows_deleted"`
	ValidateOnly     bool            `json:"validate_only,omitempty"`
	DryRun           bool            `json:"dry_run,omitempty"`
	Skipped          bool            `json:"skipped,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Err              error           `json:"-"`
	ErrorKind        string          `json:"error_kind,omitempty"`
	ErrorMessage     string          `json:"error,omitempty"`
	Columns          []string        `json:"columns,omitempty"`
	Records          []record.Record `json:"records,omitempty"`
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the run reached its final state without error.
func (r *Result) Succeeded() bool {
	return r.Err == nil && !r.Skipped
}

// advance is a no-op once the run is terminal.
func (r *Result) advance(s State) {
	if r.State.Terminal() {
		return
	}
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

func (r *Result) fail(err error) {
	if r.State.Terminal() {
		return
	}
	r.FailedFrom = r.State
	r.Err = err
	r.ErrorKind = apperrors.Kind(err)
	r.ErrorMessage = err.Error()
	r.advance(StateFailed)
}
