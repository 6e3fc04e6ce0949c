package health

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// Policy decides whether a failed health probe is retried and how long
// to wait before the next attempt.
type Policy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// FixedIntervalPolicy retries a fixed number of times with a constant
// sleep between attempts, the way the original deploy loop did.
type FixedIntervalPolicy struct {
	maxAttempts int
	interval    time.Duration
}

// NewFixedIntervalPolicy builds a policy with the given retry budget.
func NewFixedIntervalPolicy(maxAttempts int, interval time.Duration) *FixedIntervalPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &FixedIntervalPolicy{maxAttempts: maxAttempts, interval: interval}
}

// ShouldRetry allows another attempt while the budget lasts.
func (p *FixedIntervalPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the constant poll interval.
func (p *FixedIntervalPolicy) Backoff(_ int) time.Duration {
	return p.interval
}

// MaxAttempts exposes the retry budget for log lines.
func (p *FixedIntervalPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ExponentialRetryPolicy implements Policy with jittered backoff, for
// callers that poll endpoints prone to thundering-herd restarts.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxAttempts: 5,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    10 * time.Second,
	}
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	// Connection refused while a container is still starting is the
	// normal case here, so network errors stay retryable.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
