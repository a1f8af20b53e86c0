package resilience

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withobsrvr/postgres-to-es/logging"
)

type countingObserver struct {
	ops []string
}

func (o *countingObserver) ObserveRetry(operation string) {
	o.ops = append(o.ops, operation)
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{6, 6400 * time.Millisecond},
		{7, 10 * time.Second},
		{50, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffDelayUncappedNeverWraps(t *testing.T) {
	for _, maxDelay := range []time.Duration{0, -time.Second} {
		b := Backoff{InitialDelay: 100 * time.Millisecond, MaxDelay: maxDelay, BackoffFactor: 2}
		prev := time.Duration(0)
		for n := 0; n < 2000; n += 10 {
			d := b.Delay(n)
			require.Positive(t, d, "max %v attempt %d", maxDelay, n)
			require.GreaterOrEqual(t, d, prev, "max %v attempt %d", maxDelay, n)
			prev = d
		}
		assert.Equal(t, time.Duration(math.MaxInt64), b.Delay(40))
	}
}

func TestNoDelay(t *testing.T) {
	b := NoDelay()
	for n := 0; n < 5; n++ {
		assert.Zero(t, b.Delay(n))
	}
}

func TestRetrierRetriesUntilSuccess(t *testing.T) {
	obs := &countingObserver{}
	r := NewRetrier(NoDelay(), logging.NewNopLogger(), obs)

	calls := 0
	prepared := 0
	err := r.Do(context.Background(), "query", func(ctx context.Context) error {
		calls++
		if calls < 4 {
			return errors.New("connection reset")
		}
		return nil
	}, BeforeRetry(func(ctx context.Context) error {
		prepared++
		return nil
	}))

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, prepared)
	assert.Len(t, obs.ops, 3)
	assert.Equal(t, int64(3), r.GetMetrics().TotalRetries)
	assert.Equal(t, int64(1), r.GetMetrics().SuccessfulRetries)
}

func TestRetrierStopsOnNonRetryable(t *testing.T) {
	r := NewRetrier(NoDelay(), logging.NewNopLogger(), nil)
	fatal := errors.New("syntax error")

	calls := 0
	err := r.Do(context.Background(), "query", func(ctx context.Context) error {
		calls++
		return fatal
	}, RetryIf(func(err error) bool { return !errors.Is(err, fatal) }))

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetrierMaxAttempts(t *testing.T) {
	policy := NoDelay()
	policy.MaxAttempts = 3
	r := NewRetrier(policy, logging.NewNopLogger(), nil)
	boom := errors.New("boom")

	calls := 0
	err := r.Do(context.Background(), "bulk", func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(1), r.GetMetrics().FailedRetries)
}

func TestRetrierHonorsCancellation(t *testing.T) {
	policy := Backoff{InitialDelay: time.Hour, BackoffFactor: 2, MaxDelay: time.Hour}
	r := NewRetrier(policy, logging.NewNopLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, "query", func(ctx context.Context) error {
			return errors.New("unavailable")
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retrier did not stop after cancellation")
	}
}

func TestRetrierBeforeRetryErrorDoesNotStop(t *testing.T) {
	r := NewRetrier(NoDelay(), logging.NewNopLogger(), nil)

	calls := 0
	err := r.Do(context.Background(), "query", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("broken pipe")
		}
		return nil
	}, BeforeRetry(func(ctx context.Context) error {
		return errors.New("reconnect failed")
	}))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
