package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizagents/internal/testsupport"
)

func TestRedisRateLimiter_Integration(t *testing.T) {
	cfgs := testsupport.LoadBackendConfigsFromEnv(t, "REDIS_HOST")
	client := testsupport.NewRedisClient(t, cfgs.Redis)

	l := NewRedisRateLimiter(client, ProviderName("test-"+t.Name()), 60, 2)
	ctx := context.Background()
	require.NoError(t, l.Reset(ctx))
	t.Cleanup(func() { _ = l.Reset(context.Background()) })

	ok, err := l.tryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.tryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.tryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(waitCtx))
	assert.Equal(t, float64(60), l.Limit())
}
