package httpapi

import (
	"context"
	"sync"
	"time"
)

// Pacer is a token bucket that spaces out requests to a source API. Tokens
// refill continuously at rate per second up to burst. A nil Pacer never
// waits.
type Pacer struct {
	mu           sync.Mutex
	rate         float64
	burst        float64
	tokens       float64
	lastCheck    time.Time
	blockedUntil time.Time
}

// NewPacer returns nil when rate is not positive.
func NewPacer(rate float64, burst int) *Pacer {
	if rate <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{
		rate:      rate,
		burst:     float64(burst),
		tokens:    float64(burst),
		lastCheck: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	for {
		delay := p.reserve()
		if delay <= 0 {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Pause blocks every caller for d, used when the source reports a global
// rate limit.
func (p *Pacer) Pause(d time.Duration) {
	if p == nil || d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if until := time.Now().Add(d); until.After(p.blockedUntil) {
		p.blockedUntil = until
	}
}

// reserve consumes a token and returns 0, or returns how long to wait
// before trying again.
func (p *Pacer) reserve() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Before(p.blockedUntil) {
		return p.blockedUntil.Sub(now)
	}

	// Refill tokens proportionally to elapsed time.
	p.tokens += now.Sub(p.lastCheck).Seconds() * p.rate
	p.lastCheck = now
	if p.tokens > p.burst {
		p.tokens = p.burst
	}

	if p.tokens >= 1 {
		p.tokens--
		return 0
	}
	return time.Duration((1 - p.tokens) / p.rate * float64(time.Second))
}
