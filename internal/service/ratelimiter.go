package service

import (
	"context"
	"log/slog"
	"time"

	"healthsurvey/internal/cache"
	"healthsurvey/internal/clock"
	"healthsurvey/internal/metrics"
)

// Bucket is a named quota. FailOpen decides what happens when the counter store is down.
type Bucket struct {
	Name     string
	Limit    int
	Window   time.Duration
	FailOpen bool
}

// RateLimiter counts requests in fixed windows. Every check increments the counter,
// including checks that deny.
type RateLimiter struct {
	cache   cache.RateLimitCache
	clock   clock.Clock
	metrics *metrics.Registry
	logger  *slog.Logger
}

func NewRateLimiter(c cache.RateLimitCache, clk clock.Clock, m *metrics.Registry, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{cache: c, clock: clk, metrics: m, logger: logger}
}

// Allow increments key's counter for the current window and reports whether it is still within limit.
// A counter store error yields failOpen together with the error.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration, failOpen bool) (bool, error) {
	windowSecs := int64(window / time.Second)
	if windowSecs <= 0 {
		windowSecs = 1
	}
	start := l.clock.Now().Unix() / windowSecs

	n, err := l.cache.Hit(ctx, key, start, window)
	if err != nil {
		outcome := "closed"
		if failOpen {
			outcome = "open"
		}
		l.metrics.IncLimiterFailure(outcome)
		l.logger.Error("rate limiter unavailable", "key", key, "fail", outcome, "error", err)
		return failOpen, err
	}
	return n <= int64(limit), nil
}

// Enforce applies bucket to userID and converts a denial into a *RateLimitError
func (l *RateLimiter) Enforce(ctx context.Context, b Bucket, userID string) error {
	ok, err := l.Allow(ctx, b.Name+":"+userID, b.Limit, b.Window, b.FailOpen)
	if err != nil && !ok {
		return storageErr("rate limit "+b.Name, err)
	}
	if !ok {
		l.metrics.IncRateLimited(b.Name)
		return &RateLimitError{Bucket: b.Name, RetryAfter: b.Window}
	}
	return nil
}

// CheckDuplicate rejects rapid repeats of one action by one user within decay.
// It always fails closed since it guards mutating actions.
func (l *RateLimiter) CheckDuplicate(ctx context.Context, action, userRef string, limit int, decay time.Duration) (bool, error) {
	return l.Allow(ctx, "dup:"+action+":"+userRef, limit, decay, false)
}
