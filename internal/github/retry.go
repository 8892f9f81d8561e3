package github

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// RetryConfig bounds retries of GitHub API calls.
type RetryConfig struct {
	MaxRetries     uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// retry runs op until it succeeds, fails permanently, or the budget is
// spent. Rate-limit responses wait until the reported reset, capped at
// MaxBackoff.
func retry[T any](ctx context.Context, cfg RetryConfig, logger *logging.Logger, op func() (T, *gh.Response, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.MaxInterval = cfg.MaxBackoff

	attempts := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, resp, err := op()
		if err == nil {
			if attempts > 1 {
				logger.Info(ctx, "github call recovered after retries", zap.Int("attempts", attempts))
			}
			return v, nil
		}
		if !retryable(err, resp) {
			return v, backoff.Permanent(err)
		}
		if isRateLimit(resp) {
			wait := rateLimitWait(resp, cfg.MaxBackoff)
			logger.Info(ctx, "github rate limit hit", zap.Duration("wait", wait), zap.Int("attempt", attempts))
			return v, backoff.RetryAfter(int((wait + time.Second - 1) / time.Second))
		}
		logger.Debug(ctx, "retrying github call", zap.Int("attempt", attempts), zap.Int("status", statusCode(resp)), zap.Error(err))
		return v, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(cfg.MaxRetries+1),
	)
}

// retryable reports whether a failed call may succeed when repeated:
// rate limits, 5xx, secondary limits on 403, and transport errors.
func retryable(err error, resp *gh.Response) bool {
	var rle *gh.RateLimitError
	var are *gh.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &are) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if resp == nil || resp.Response == nil {
		return true
	}
	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return true
	case code == http.StatusForbidden:
		return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
	default:
		return code >= 500
	}
}

func isRateLimit(resp *gh.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0)
}

func rateLimitWait(resp *gh.Response, max time.Duration) time.Duration {
	if resp == nil || resp.Rate.Reset.Time.IsZero() {
		return max
	}
	wait := time.Until(resp.Rate.Reset.Time) + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	if wait > max {
		wait = max
	}
	return wait
}

func statusCode(resp *gh.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return 0
}
