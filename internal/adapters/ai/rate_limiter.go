package ai

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"bizagents/internal/metrics"
	"bizagents/pkg/errors"
)

// RateLimiter throttles requests to a provider
type RateLimiter interface {
	// Wait blocks until the request may proceed or ctx is done
	Wait(ctx context.Context) error

	// Limit returns requests per minute, or -1 when unlimited
	Limit() float64
}

// NewRateLimiter returns a Redis-backed limiter shared by every replica when
// rdb is set, a process-local one otherwise. reqPerMinute <= 0 disables limiting.
func NewRateLimiter(provider ProviderName, reqPerMinute float64, rdb *redis.Client) RateLimiter {
	if reqPerMinute <= 0 {
		return NoOpLimiter{}
	}
	if rdb != nil {
		return NewRedisRateLimiter(rdb, provider, reqPerMinute, 0)
	}
	return NewLocalLimiter(provider, reqPerMinute, 0)
}

// LocalLimiter is a token bucket on golang.org/x/time/rate
type LocalLimiter struct {
	limiter  *rate.Limiter
	provider ProviderName
	perMin   float64
}

// NewLocalLimiter creates a limiter; burst <= 0 defaults to 10% of the rate
func NewLocalLimiter(provider ProviderName, reqPerMinute float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		limiter:  rate.NewLimiter(rate.Limit(reqPerMinute/60.0), defaultBurst(reqPerMinute, burst)),
		provider: provider,
		perMin:   reqPerMinute,
	}
}

// Wait implements RateLimiter
func (l *LocalLimiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return rateLimited(l.provider, l.perMin, err)
	}
	return nil
}

// Allow reports whether a request may proceed now, consuming a token if so
func (l *LocalLimiter) Allow() bool {
	return l.limiter.Allow()
}

// Limit implements RateLimiter
func (l *LocalLimiter) Limit() float64 {
	return l.perMin
}

// NoOpLimiter never blocks
type NoOpLimiter struct{}

func (NoOpLimiter) Wait(ctx context.Context) error { return nil }
func (NoOpLimiter) Limit() float64                 { return -1 }

// RateLimitError wraps rate limit failures with provider context
type RateLimitError struct {
	Provider ProviderName
	Limit    float64
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit error for provider %s (limit: %.0f req/min): %v", e.Provider, e.Limit, e.Err)
}

// Unwrap exposes ErrRateLimitExceeded and the cause
func (e *RateLimitError) Unwrap() []error {
	return []error{errors.ErrRateLimitExceeded, e.Err}
}

func rateLimited(provider ProviderName, limit float64, err error) error {
	metrics.LLMCalls.WithLabelValues(provider.String(), "", "rate_limited").Inc()
	return &RateLimitError{Provider: provider, Limit: limit, Err: err}
}

func defaultBurst(reqPerMinute float64, burst int) int {
	if burst > 0 {
		return burst
	}
	return max(int(reqPerMinute/10), 1)
}
