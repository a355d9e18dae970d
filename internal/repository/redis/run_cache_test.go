package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizagents/internal/domain/workflow_run"
	"bizagents/internal/testsupport"
	"bizagents/pkg/errors"
)

func TestRunCache(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := testsupport.NewRedisClient(t, testsupport.LoadBackendConfigsFromEnv(t, "REDIS_HOST").Redis)
	cache := NewRunCache(client, time.Minute)
	ctx := context.Background()

	run := &workflow_run.Run{
		ID:       uuid.New(),
		Workflow: "glossary",
		Status:   "success",
		Result:   []byte(`{"status":"success"}`),
	}
	require.NoError(t, cache.Put(ctx, run))

	got, err := cache.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Workflow, got.Workflow)
	assert.JSONEq(t, `{"status":"success"}`, string(got.Result))

	ttl, err := client.TTL(ctx, cache.key(run.ID)).Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 2)

	_, err = cache.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRunCache_DefaultTTL(t *testing.T) {
	assert.Equal(t, 24*time.Hour, NewRunCache(nil, 0).ttl)
}
