package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/courtside/scorekeeper/internal/domain"
)

const (
	defaultRetryAttempts = 3
	defaultBackoff       = 1 * time.Second
)

// retryingProvider wraps a FixtureProvider with retry/backoff behavior.
type retryingProvider struct {
	inner       FixtureProvider
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewRetryingProvider wraps the given provider with retries. If
// maxAttempts/backoff are <= 0, defaults are used.
func NewRetryingProvider(inner FixtureProvider, logger *slog.Logger, maxAttempts int, backoff time.Duration) FixtureProvider {
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryAttempts
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &retryingProvider{
		inner:       inner,
		logger:      logger,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

func (r *retryingProvider) FetchFixtures(ctx context.Context, date time.Time) ([]domain.Fixture, error) {
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		fixtures, err := r.inner.FetchFixtures(ctx, date)
		if err == nil {
			return fixtures, nil
		}
		lastErr = err

		if attempt == r.maxAttempts {
			break
		}

		r.logger.Warn("fixture fetch retry", "attempt", attempt, "max_attempts", r.maxAttempts, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * r.backoff):
		}
	}

	r.logger.Warn("fixture fetch failed", "attempts", r.maxAttempts, "error", lastErr)
	return nil, lastErr
}
