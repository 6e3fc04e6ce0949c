package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedIntervalPolicy_Budget(t *testing.T) {
	t.Parallel()

	p := NewFixedIntervalPolicy(3, 2*time.Second)
	err := errors.New("probe failed")

	require.True(t, p.ShouldRetry(err, 1))
	require.True(t, p.ShouldRetry(err, 2))
	require.False(t, p.ShouldRetry(err, 3))
	require.False(t, p.ShouldRetry(nil, 1))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 2*time.Second, p.Backoff(99))
}

func TestFixedIntervalPolicy_ContextErrorsNotRetried(t *testing.T) {
	t.Parallel()

	p := NewFixedIntervalPolicy(10, time.Second)
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
}

func TestFixedIntervalPolicy_DefaultsOnBadInput(t *testing.T) {
	t.Parallel()

	p := NewFixedIntervalPolicy(0, 0)
	require.Equal(t, 1, p.MaxAttempts())
	require.Equal(t, time.Second, p.Backoff(1))
}

func TestExponentialRetryPolicy_BackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy()
	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		d := p.Backoff(attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 10*time.Second)
		_ = prev
		prev = d
	}
}

func TestExponentialRetryPolicy_RetryDecisions(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy()
	err := errors.New("connection refused")

	require.True(t, p.ShouldRetry(err, 1))
	require.False(t, p.ShouldRetry(err, 5))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(nil, 1))
}
