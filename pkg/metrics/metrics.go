// Package metrics defines the Prometheus collectors used across the pipeline
// and exposes an HTTP handler for scraping and a Pushgateway helper for
// one-shot CLI runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	HTTPRequestsInFlight    prometheus.Gauge
	PipelineRunsTotal       *prometheus.CounterVec
	PipelineRunDuration     *prometheus.HistogramVec
	PipelineStepDuration    *prometheus.HistogramVec
	RowsWrittenTotal        *prometheus.CounterVec
	RecordsExtractedTotal   *prometheus.CounterVec
	ExtractRequestsTotal    *prometheus.CounterVec
	ExtractRetriesTotal     *prometheus.CounterVec
	IdentityUnresolvedTotal *prometheus.CounterVec
	CircuitBreakerState     *prometheus.GaugeVec
	LastSuccessTimestamp    *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates all collectors and registers them with reg. A nil reg uses a
// fresh private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		PipelineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Pipeline runs by job and terminal state (DONE, FAILED).",
			},
			[]string{"job", "state"},
		),
		PipelineRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_run_duration_seconds",
				Help:    "End-to-end pipeline run duration in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"job"},
		),
		PipelineStepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_step_duration_seconds",
				Help:    "Duration of each pipeline step (schema, fetch, transform, load).",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"job", "step"},
		),
		RowsWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staging_rows_written_total",
				Help: "Rows written to staging tables by table and load mode.",
			},
			[]string{"table", "mode"},
		),
		RecordsExtractedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_records_total",
				Help: "Records produced by transform, per job.",
			},
			[]string{"job"},
		),
		ExtractRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_requests_total",
				Help: "Source API requests by source and status code.",
			},
			[]string{"source", "status"},
		),
		ExtractRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_retries_total",
				Help: "Retried source API requests by source.",
			},
			[]string{"source"},
		),
		IdentityUnresolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_unresolved_total",
				Help: "External identifiers with no member mapping, by mapping.",
			},
			[]string{"mapping"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		LastSuccessTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_last_success_timestamp_seconds",
				Help: "Unix time of the last successful run per job.",
			},
			[]string{"job"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PipelineRunsTotal,
		m.PipelineRunDuration,
		m.PipelineStepDuration,
		m.RowsWrittenTotal,
		m.RecordsExtractedTotal,
		m.ExtractRequestsTotal,
		m.ExtractRetriesTotal,
		m.IdentityUnresolvedTotal,
		m.CircuitBreakerState,
		m.LastSuccessTimestamp,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}

	return m
}

// Handler returns the Prometheus scrape HTTP handler for the registry the
// metrics were registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the registry backing m.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}
