package resilience

import (
	"context"
	"fmt"
	"time"
)

// DeadlineError reports that an operation ran past its limit while the
// caller's context was still live. It matches context.DeadlineExceeded.
type DeadlineError struct {
	Op    string
	Limit time.Duration
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("%s exceeded %s", e.Op, e.Limit)
}

func (e *DeadlineError) Is(target error) bool { return target == context.DeadlineExceeded }

// WithDeadline runs fn under a context limited to limit. A limit <= 0 runs
// fn directly. fn must return once its context is done; a deadline hit is
// reported as *DeadlineError and a parent cancellation as the parent's
// error.
func WithDeadline(ctx context.Context, limit time.Duration, op string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	dctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	err := fn(dctx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case dctx.Err() != nil:
		return &DeadlineError{Op: op, Limit: limit}
	}
	return err
}
