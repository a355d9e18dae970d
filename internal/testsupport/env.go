package testsupport

import (
	"os"
	"strconv"
	"testing"

	"bizagents/internal/adapters/config"
)

// BackendConfigs bundles the config sections integration tests need
type BackendConfigs struct {
	Postgres   config.PostgresConfig
	ClickHouse config.ClickHouseConfig
	Redis      config.RedisConfig
}

// LoadBackendConfigsFromEnv reads backend configuration for integration tests.
// The test is skipped when a required variable is missing.
func LoadBackendConfigsFromEnv(t *testing.T, required ...string) BackendConfigs {
	t.Helper()

	var missing []string
	for _, key := range required {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		t.Skipf("integration environment missing, set %v to run", missing)
	}

	return BackendConfigs{
		Postgres: config.PostgresConfig{
			Enabled:  true,
			Host:     valueWithDefault("POSTGRES_HOST", "localhost"),
			Port:     intValue("POSTGRES_PORT", 5432),
			User:     valueWithDefault("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Database: valueWithDefault("POSTGRES_DB", "bizagents_test"),
			SSLMode:  valueWithDefault("POSTGRES_SSL_MODE", "disable"),
			MaxConns: 5,
		},
		ClickHouse: config.ClickHouseConfig{
			Enabled:  true,
			Host:     valueWithDefault("CLICKHOUSE_HOST", "localhost"),
			Port:     intValue("CLICKHOUSE_PORT", 9000),
			User:     valueWithDefault("CLICKHOUSE_USER", "default"),
			Password: os.Getenv("CLICKHOUSE_PASSWORD"),
			Database: valueWithDefault("CLICKHOUSE_DB", "bizagents_test"),
		},
		Redis: config.RedisConfig{
			Enabled:  true,
			Host:     valueWithDefault("REDIS_HOST", "localhost"),
			Port:     intValue("REDIS_PORT", 6379),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intValue("REDIS_DB", 0),
		},
	}
}

func valueWithDefault(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func intValue(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}
