// Package health polls service endpoints until they come up or a retry
// budget is exhausted.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrUnhealthy is returned when the retry budget runs out before the
// endpoint answers with a 2xx status.
var ErrUnhealthy = errors.New("service did not become healthy")

// Poller repeatedly probes an HTTP endpoint.
type Poller struct {
	url    string
	policy Policy
	client *http.Client
	logger *zap.Logger

	// sleep is swapped out in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller builds a Poller for the given URL.
func NewPoller(url string, policy Policy, timeout time.Duration, logger *zap.Logger) (*Poller, error) {
	if url == "" {
		return nil, fmt.Errorf("health url is required")
	}
	if policy == nil {
		return nil, fmt.Errorf("retry policy is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		url:    url,
		policy: policy,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		sleep:  sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Probe performs a single health check. Any non-2xx status is an error.
func (p *Poller) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Wait probes until the endpoint is healthy or the policy gives up. It
// returns the number of attempts made; on exhaustion the returned error
// wraps ErrUnhealthy together with the last probe failure.
func (p *Poller) Wait(ctx context.Context) (int, error) {
	attempt := 0
	for {
		attempt++
		err := p.Probe(ctx)
		if err == nil {
			p.logger.Info("Service is healthy",
				zap.String("url", p.url),
				zap.Int("attempts", attempt),
			)
			return attempt, nil
		}

		if !p.policy.ShouldRetry(err, attempt) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return attempt, fmt.Errorf("health polling aborted: %w", ctxErr)
			}
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrUnhealthy, attempt, err)
		}

		p.logger.Debug("Health probe failed, retrying",
			zap.String("url", p.url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if sleepErr := p.sleep(ctx, p.policy.Backoff(attempt)); sleepErr != nil {
			return attempt, fmt.Errorf("health polling aborted: %w", sleepErr)
		}
	}
}
