package testsupport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadBackendConfigsFromEnv(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "pg")
	t.Setenv("POSTGRES_PORT", "5543")
	t.Setenv("CLICKHOUSE_HOST", "click")
	t.Setenv("CLICKHOUSE_PORT", "not-a-number")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_DB", "2")

	cfg := LoadBackendConfigsFromEnv(t, "POSTGRES_HOST", "REDIS_HOST")

	assert.Equal(t, "pg", cfg.Postgres.Host)
	assert.Equal(t, 5543, cfg.Postgres.Port)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, "click", cfg.ClickHouse.Host)
	assert.Equal(t, 9000, cfg.ClickHouse.Port, "unparsable port falls back to default")
	assert.Equal(t, "redis", cfg.Redis.Host)
	assert.Equal(t, 2, cfg.Redis.DB)
}
