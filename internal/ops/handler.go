// Package ops serves the operational HTTP API of `brain serve`: health
// probes, Prometheus metrics, run history, manual job triggers and the
// silver project lookups.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/runlog"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/silver"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/logger"
)

// JobCatalog is satisfied by *jobs.Catalog.
type JobCatalog interface {
	Get(name string) (pipeline.Job, bool)
	Jobs() []pipeline.Job
	Check(jobs []pipeline.Job) error
}

type JobRunner interface {
	Run(ctx context.Context, job pipeline.Job, validateOnly bool) (*pipeline.Result, error)
}

type RunLister interface {
	List(ctx context.Context, job string, limit int) ([]runlog.Run, error)
}

type ProjectQuerier interface {
	ProjectsByMember(ctx context.Context, name string) ([]silver.Project, error)
	ProjectsByExternalID(ctx context.Context, source, externalID string) ([]silver.Project, error)
}

// Handler implements the API routes. Triggered runs outlive the request
// and use the handler's base context.
type Handler struct {
	catalog   JobCatalog
	runner    JobRunner
	runs      RunLister
	projects  ProjectQuerier
	schedules func() []scheduler.Entry

	base     context.Context
	inflight sync.WaitGroup
	logger   *slog.Logger
}

func NewHandler(base context.Context, catalog JobCatalog, runner JobRunner, runs RunLister, projects ProjectQuerier, schedules func() []scheduler.Entry) *Handler {
	if schedules == nil {
		schedules = func() []scheduler.Entry { return nil }
	}
	return &Handler{
		catalog:   catalog,
		runner:    runner,
		runs:      runs,
		projects:  projects,
		schedules: schedules,
		base:      base,
		logger:    slog.Default().With("component", "ops-handler"),
	}
}

type jobView struct {
	Name      string   `json:"name"`
	Layer     string   `json:"layer"`
	Table     string   `json:"table"`
	Mode      string   `json:"mode"`
	DependsOn []string `json:"depends_on,omitempty"`
	Schedule  string   `json:"schedule,omitempty"`
	Available bool     `json:"available"`
	Error     string   `json:"error,omitempty"`
}

// ListJobs returns every job with its schedule and whether it can run.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	specs := make(map[string]string)
	for _, e := range h.schedules() {
		specs[e.Job] = e.Spec
	}
	jobs := h.catalog.Jobs()
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		v := jobView{
			Name:      j.Name,
			Layer:     j.Layer,
			Table:     j.Table.String(),
			Mode:      string(j.Mode),
			DependsOn: j.DependsOn,
			Schedule:  specs[j.Name],
			Available: true,
		}
		if err := h.catalog.Check([]pipeline.Job{j}); err != nil {
			v.Available = false
			v.Error = err.Error()
		}
		out = append(out, v)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

// ListRuns returns recent runs. Query parameters: job, limit.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := h.runs.List(r.Context(), r.URL.Query().Get("job"), limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// TriggerRun starts one job in the background and answers 202. Add
// ?validate_only=true to run without loading.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("job")
	job, ok := h.catalog.Get(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown job "+name)
		return
	}
	if err := h.catalog.Check([]pipeline.Job{job}); err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	validateOnly, _ := strconv.ParseBool(r.URL.Query().Get("validate_only"))

	requestID := logger.RequestID(r.Context())
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		ctx := logger.WithRequestID(h.base, requestID)
		if _, err := h.runner.Run(ctx, job, validateOnly); err != nil {
			logger.FromContext(ctx).Warn("triggered run failed", "job", name, "error", err)
		}
	}()

	logger.FromContext(r.Context()).Info("run triggered", "job", name, "validate_only", validateOnly)
	h.writeJSON(w, http.StatusAccepted, map[string]any{"job": name, "status": "accepted", "validate_only": validateOnly})
}

// Projects answers ?member=<name>, ?discord_id=<id> or ?notion_id=<id>.
func (h *Handler) Projects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		projects []silver.Project
		err      error
	)
	switch {
	case q.Get("member") != "":
		projects, err = h.projects.ProjectsByMember(r.Context(), q.Get("member"))
	case q.Get("discord_id") != "":
		projects, err = h.projects.ProjectsByExternalID(r.Context(), "discord", q.Get("discord_id"))
	case q.Get("notion_id") != "":
		projects, err = h.projects.ProjectsByExternalID(r.Context(), "notion", q.Get("notion_id"))
	default:
		h.writeError(w, http.StatusBadRequest, "one of member, discord_id or notion_id is required")
		return
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.FromContext(r.Context()).Error("project query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "project query failed")
		return
	}
	if projects == nil {
		projects = []silver.Project{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"projects": projects, "count": len(projects)})
}

// Wait blocks until every triggered run has returned.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
