package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bizagents/pkg/errors"
)

// Token bucket in one atomic script.
// KEYS[1] bucket key; ARGV rate (tokens/s), burst, now (s). Returns 1 when allowed.
const luaTokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', key, 'tokens', 'last_update')
local tokens = tonumber(data[1])
local last_update = tonumber(data[2])

if not tokens then
    tokens = burst
    last_update = now
end

tokens = math.min(burst, tokens + math.max(0, now - last_update) * rate)

local allowed = 0
if tokens >= 1.0 then
    tokens = tokens - 1.0
    allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
redis.call('EXPIRE', key, 3600)
return allowed
`

// RedisRateLimiter is a token bucket shared by every replica through Redis
type RedisRateLimiter struct {
	client   *redis.Client
	provider ProviderName
	rate     float64 // tokens per second
	burst    int
	key      string
	script   *redis.Script
}

// NewRedisRateLimiter creates a distributed limiter; burst <= 0 defaults to 10% of the rate
func NewRedisRateLimiter(client *redis.Client, provider ProviderName, reqPerMinute float64, burst int) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:   client,
		provider: provider,
		rate:     reqPerMinute / 60.0,
		burst:    defaultBurst(reqPerMinute, burst),
		key:      fmt.Sprintf("bizagents:rate_limit:llm:%s", provider),
		script:   redis.NewScript(luaTokenBucketScript),
	}
}

// Wait implements RateLimiter
func (l *RedisRateLimiter) Wait(ctx context.Context) error {
	retry := time.Duration(float64(time.Second) / l.rate)
	for {
		allowed, err := l.tryAcquire(ctx)
		if err != nil {
			return errors.Wrapf(err, "redis rate limiter for provider %s", l.provider)
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return rateLimited(l.provider, l.Limit(), ctx.Err())
		case <-time.After(retry):
		}
	}
}

// Limit implements RateLimiter
func (l *RedisRateLimiter) Limit() float64 {
	return l.rate * 60.0
}

// Reset clears the bucket
func (l *RedisRateLimiter) Reset(ctx context.Context) error {
	return l.client.Del(ctx, l.key).Err()
}

func (l *RedisRateLimiter) tryAcquire(ctx context.Context) (bool, error) {
	now := float64(time.Now().UnixNano()) / float64(time.Second)

	result, err := l.script.Run(ctx, l.client, []string{l.key}, l.rate, l.burst, now).Int()
	if err != nil {
		return false, errors.Wrap(err, "failed to execute token bucket script")
	}
	return result == 1, nil
}
