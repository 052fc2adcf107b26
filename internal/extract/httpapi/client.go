// Package httpapi is the shared HTTPS client used by source extractors. It
// paces requests, honours the 429 Retry-After contract with a bounded retry
// policy, trips a circuit breaker on repeated server failures and reports
// request metrics.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
)

const maxBodyBytes = 32 << 20

// StatusError is a non-2xx response other than 429.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether retrying may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout
}

// RateLimitError is a 429 response with the advertised wait.
type RateLimitError struct {
	Path   string
	Wait   time.Duration
	Global bool
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %v", e.Path, e.Wait)
}

func (e *RateLimitError) RetryAfter() time.Duration { return e.Wait }

// Config configures a Client.
type Config struct {
	Source            string
	BaseURL           string
	Header            http.Header
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	Breaker           resilience.CircuitBreakerConfig
	Metrics           *metrics.Metrics
	HTTPClient        *http.Client
}

// Client issues JSON requests against one source API.
type Client struct {
	source  string
	baseURL string
	header  http.Header
	timeout time.Duration
	http    *http.Client
	pacer   *Pacer
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	breakerCfg := cfg.Breaker
	breakerCfg.IsFailure = serverFailure
	if cfg.Metrics != nil {
		gauge := cfg.Metrics.CircuitBreakerState
		breakerCfg.OnStateChange = func(name string, s resilience.State) {
			gauge.WithLabelValues(name).Set(float64(s))
		}
	}
	return &Client{
		source:  cfg.Source,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		header:  cfg.Header.Clone(),
		timeout: cfg.RequestTimeout,
		http:    hc,
		pacer:   NewPacer(cfg.RequestsPerSecond, cfg.Burst),
		breaker: resilience.NewCircuitBreaker(cfg.Source+"-api", breakerCfg),
		metrics: cfg.Metrics,
		logger:  slog.Default().With("component", "httpapi", "source", cfg.Source),
	}
}

// Get fetches path with query and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, policy resilience.RetryConfig, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, policy, out)
}

// Post sends body as JSON and decodes the JSON response into out.
func (c *Client) Post(ctx context.Context, path string, body any, policy resilience.RetryConfig, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrExtraction, err, "encoding request body")
	}
	return c.do(ctx, http.MethodPost, path, nil, payload, policy, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, policy resilience.RetryConfig, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	attempt := 0
	err := resilience.Retry(ctx, c.source+" "+method+" "+path, policy, func() error {
		attempt++
		if attempt > 1 && c.metrics != nil {
			c.metrics.ExtractRetriesTotal.WithLabelValues(c.source).Inc()
		}

		err := c.breaker.Execute(func() error {
			return c.once(ctx, method, path, endpoint, body, out)
		})
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return resilience.Permanent(err)
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		err = fmt.Errorf("%w: %w", apperrors.ErrRateLimited, err)
	}
	return apperrors.Wrapf(apperrors.ErrExtraction, err, "%s %s %s", c.source, method, path)
}

func (c *Client) once(ctx context.Context, method, path, endpoint string, body []byte, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return resilience.Permanent(err)
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reader)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("building request: %w", err))
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.count("error")
		if ctx.Err() != nil {
			return resilience.Permanent(ctx.Err())
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.count(strconv.Itoa(resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		rl := parseRateLimit(path, resp.Header, data)
		if rl.Global {
			c.pacer.Pause(rl.Wait)
		}
		c.logger.Warn("rate limited", "path", path, "retry_after", rl.Wait, "global", rl.Global)
		return rl
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: snippet(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resilience.Permanent(fmt.Errorf("%s %s: decoding response: %w", method, path, err))
	}
	return nil
}

func (c *Client) count(status string) {
	if c.metrics != nil {
		c.metrics.ExtractRequestsTotal.WithLabelValues(c.source, status).Inc()
	}
}

// parseRateLimit reads the wait from the Retry-After header or a JSON body
// of the form {"retry_after": 1.5, "global": false}.
func parseRateLimit(path string, h http.Header, body []byte) *RateLimitError {
	rl := &RateLimitError{Path: path, Wait: time.Second}
	var payload struct {
		RetryAfter *float64 `json:"retry_after"`
		Global     bool     `json:"global"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.RetryAfter != nil {
		rl.Wait = time.Duration(*payload.RetryAfter * float64(time.Second))
		rl.Global = payload.Global
	} else if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			rl.Wait = time.Duration(secs * float64(time.Second))
		} else if at, err := http.ParseTime(v); err == nil {
			rl.Wait = time.Until(at)
		}
	}
	if h.Get("X-RateLimit-Global") == "true" {
		rl.Global = true
	}
	if rl.Wait < 0 {
		rl.Wait = 0
	}
	return rl
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// serverFailure reports whether err counts against the breaker: transport
// failures and 5xx do, rate limits and other 4xx do not.
func serverFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
