package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/middleware"
)

// Routes builds the route table and the middleware chain.
//
//	GET  /health/live
//	GET  /health/ready
//	GET  /metrics
//	GET  /api/v1/jobs
//	GET  /api/v1/runs?job=&limit=
//	POST /api/v1/runs/{job}?validate_only=
//	GET  /api/v1/projects?member=|discord_id=|notion_id=
//
// Chain, outermost first: RequestID, Metrics, Timeout.
func Routes(cfg config.ServerConfig, h *Handler, checker *health.Checker, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", m.Handler())

	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("POST /api/v1/runs/{job}", h.TriggerRun)
	mux.HandleFunc("GET /api/v1/projects", h.Projects)

	var chain http.Handler = mux
	if cfg.RequestTimeout > 0 {
		chain = middleware.Timeout(cfg.RequestTimeout)(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	return chain
}

// Server is the ops HTTP server.
type Server struct {
	http    *http.Server
	handler *Handler
	logger  *slog.Logger
}

func NewServer(cfg config.ServerConfig, h *Handler, checker *health.Checker, m *metrics.Metrics) *Server {
	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, h, checker, m),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: h,
		logger:  slog.Default().With("component", "ops-server"),
	}
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns
// nil.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("ops server listening", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for triggered runs until
// ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	done := make(chan struct{})
	go func() {
		s.handler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("triggered runs still in flight at shutdown")
	}
	return err
}
