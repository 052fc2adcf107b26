// Package middleware provides the HTTP middleware of the ops server:
// request ids, Prometheus metrics and request timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
)

// Metrics records request count, latency and the in-flight gauge, labelled
// by route rather than raw path.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			route := routeLabel(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.code())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// recorder remembers the first status written. Unwrap lets
// http.ResponseController reach the underlying writer.
type recorder struct {
	http.ResponseWriter
	status int
}

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *recorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

var staticRoutes = map[string]bool{
	"/health/live":     true,
	"/health/ready":    true,
	"/metrics":         true,
	"/api/v1/jobs":     true,
	"/api/v1/runs":     true,
	"/api/v1/projects": true,
}

// routeLabel maps a request path onto a bounded set of labels: known
// routes keep their path, run triggers collapse their job segment and
// anything else is "other".
func routeLabel(path string) string {
	const runs = "/api/v1/runs/"
	switch {
	case staticRoutes[path]:
		return path
	case strings.HasPrefix(path, runs) && len(path) > len(runs) && !strings.Contains(path[len(runs):], "/"):
		return runs + "{job}"
	}
	return "other"
}
