// Package retry runs operations with bounded retries and interruptible backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAborted is returned when the context is cancelled before or between attempts.
// It is never retried.
var ErrAborted = errors.New("retry: aborted")

// Policy controls how many attempts are made and how long to wait between them.
type Policy struct {
	// MaxRetries is the total number of attempts. Values below 1 are treated as 1.
	MaxRetries int

	// Delay is the base wait between attempts.
	Delay time.Duration

	// Exponential doubles the wait after every failed attempt when true.
	Exponential bool
}

// DefaultPolicy returns 5 attempts starting at 500ms with exponential growth.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  5,
		Delay:       500 * time.Millisecond,
		Exponential: true,
	}
}

// Backoff returns the wait after the failed attempt with the given 0-based index.
func (p Policy) Backoff(attempt int) time.Duration {
	if !p.Exponential {
		return p.Delay
	}
	return p.Delay * time.Duration(1<<uint(attempt))
}

// Executor runs operations according to a Policy.
// The zero value is not usable; use New.
type Executor struct {
	policy     Policy
	isTerminal func(error) bool
	onRetry    func(attempt int, err error)
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTerminal sets the classifier for errors that must not be retried.
// Errors marked with Permanent and aborts are always terminal.
func WithTerminal(fn func(error) bool) Option {
	return func(e *Executor) {
		e.isTerminal = fn
	}
}

// WithOnRetry registers a hook invoked before each backoff sleep.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(e *Executor) {
		e.onRetry = fn
	}
}

// WithSleep replaces the interruptible sleep. Tests use it to record backoff durations.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = fn
	}
}

// New creates an Executor. A nil logger discards retry diagnostics.
func New(policy Policy, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Executor{
		policy: policy,
		sleep:  Sleep,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do runs op until it succeeds, fails terminally or the attempts are exhausted.
// The last observed error is returned as-is after exhaustion.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Run(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Run is the value-returning form of Executor.Do.
// A nil executor runs op exactly once.
func Run[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if e == nil {
		return op(ctx)
	}

	attempts := e.policy.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, Aborted(ctx)
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if e.terminal(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, Aborted(ctx)
		}
		if attempt == attempts-1 {
			break
		}

		delay := e.policy.Backoff(attempt)
		e.logger.DebugContext(ctx, "operation failed, retrying",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"backoff", delay,
			"error", err,
		)
		if e.onRetry != nil {
			e.onRetry(attempt+1, err)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return zero, Aborted(ctx)
		}
	}

	return zero, lastErr
}

func (e *Executor) terminal(err error) bool {
	if errors.Is(err, ErrAborted) || IsPermanent(err) {
		return true
	}
	if e.isTerminal != nil {
		return e.isTerminal(err)
	}
	return false
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Aborted returns an error wrapping ErrAborted and the cause of ctx's cancellation.
func Aborted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx))
}

// IsAborted reports whether err is a cancellation produced by this package.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
