package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"bizagents/internal/domain/workflow_run"
	"bizagents/pkg/errors"
)

// Compile-time check
var _ workflow_run.Cache = (*RunCache)(nil)

// RunCache implements workflow_run.Cache using Redis with a TTL
type RunCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunCache creates a new run cache; ttl <= 0 defaults to 24h
func NewRunCache(client *redis.Client, ttl time.Duration) *RunCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RunCache{client: client, ttl: ttl}
}

// Put stores the run under its id
func (c *RunCache) Put(ctx context.Context, run *workflow_run.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal workflow run: id=%s", run.ID)
	}

	if err := c.client.Set(ctx, c.key(run.ID), data, c.ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to cache workflow run: id=%s", run.ID)
	}
	return nil
}

// Get retrieves a cached run
func (c *RunCache) Get(ctx context.Context, id uuid.UUID) (*workflow_run.Run, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "workflow run not cached: id=%s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get workflow run from redis: id=%s", id)
	}

	var run workflow_run.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal workflow run: id=%s", id)
	}
	return &run, nil
}

func (c *RunCache) key(id uuid.UUID) string {
	return fmt.Sprintf("bizagents:run:%s", id)
}
