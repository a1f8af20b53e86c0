package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/withobsrvr/postgres-to-es/logging"
)

// Backoff defines capped exponential backoff. A zero MaxAttempts retries until
// the context is cancelled.
type Backoff struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	MaxAttempts   int
}

// DefaultBackoff waits 0.1s, 0.2s, 0.4s ... capped at 10s, forever.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// NoDelay retries immediately. Used by tests.
func NoDelay() Backoff {
	return Backoff{BackoffFactor: 1}
}

// Delay returns the wait before retry number n (0-based). A MaxDelay <= 0
// leaves the delay uncapped.
func (b Backoff) Delay(n int) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	factor := b.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(b.InitialDelay) * math.Pow(factor, float64(n))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	// uncapped growth past the int64 range would wrap negative
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Observer is notified on every retry. The metrics collector implements it.
type Observer interface {
	ObserveRetry(operation string)
}

// Option tunes a single Do call.
type Option func(*call)

type call struct {
	retryable   func(error) bool
	beforeRetry func(ctx context.Context) error
}

// RetryIf restricts retries to errors for which fn returns true. Other errors
// are returned immediately.
func RetryIf(fn func(error) bool) Option {
	return func(c *call) { c.retryable = fn }
}

// BeforeRetry runs fn after the backoff wait and before the next attempt.
// Its error is logged and does not stop the retry loop.
func BeforeRetry(fn func(ctx context.Context) error) Option {
	return func(c *call) { c.beforeRetry = fn }
}

// Retrier executes operations under a Backoff policy
type Retrier struct {
	policy   Backoff
	logger   *logging.ComponentLogger
	observer Observer

	mu      sync.RWMutex
	metrics RetryMetrics
}

// RetryMetrics tracks retry statistics
type RetryMetrics struct {
	TotalRetries      int64
	SuccessfulRetries int64
	FailedRetries     int64
}

// NewRetrier creates a retrier. observer may be nil.
func NewRetrier(policy Backoff, logger *logging.ComponentLogger, observer Observer) *Retrier {
	return &Retrier{
		policy:   policy,
		logger:   logger,
		observer: observer,
	}
}

// Policy returns the backoff in use.
func (r *Retrier) Policy() Backoff {
	return r.policy
}

// Do executes fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts, or ctx is done.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error, opts ...Option) error {
	c := call{retryable: func(error) bool { return true }}
	for _, opt := range opts {
		opt(&c)
	}

	startTime := time.Now()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.record(func(m *RetryMetrics) { m.SuccessfulRetries++ })
				r.logger.Info().
					Str("operation", operation).
					Int("attempts", attempt+1).
					Dur("total_time", time.Since(startTime)).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}

		if !c.retryable(err) {
			return err
		}

		if r.policy.MaxAttempts > 0 && attempt+1 >= r.policy.MaxAttempts {
			r.record(func(m *RetryMetrics) { m.FailedRetries++ })
			r.logger.Error().
				Str("operation", operation).
				Int("attempts", attempt+1).
				Err(err).
				Msg("Operation failed after max attempts")
			return fmt.Errorf("%s failed after %d attempts: %w", operation, attempt+1, err)
		}

		delay := r.policy.Delay(attempt)
		r.record(func(m *RetryMetrics) { m.TotalRetries++ })
		if r.observer != nil {
			r.observer.ObserveRetry(operation)
		}
		r.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Err(err).
			Msg("Operation failed, retrying")

		if err := sleep(ctx, delay); err != nil {
			return err
		}

		if c.beforeRetry != nil {
			if err := c.beforeRetry(ctx); err != nil {
				r.logger.Error().
					Str("operation", operation).
					Err(err).
					Msg("Retry preparation failed")
			}
		}
	}
}

// GetMetrics returns retry metrics
func (r *Retrier) GetMetrics() RetryMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

func (r *Retrier) record(fn func(*RetryMetrics)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.metrics)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
