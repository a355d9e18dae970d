package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bizagents/internal/adapters/clickhouse"
	"bizagents/internal/adapters/config"
)

// ClickHouseTestHelper manages cleanup for ClickHouse integration tests
type ClickHouseTestHelper struct {
	client *clickhouse.Client
}

// NewClickHouseTestHelper creates a ClickHouse client for tests
func NewClickHouseTestHelper(t *testing.T, cfg config.ClickHouseConfig) *ClickHouseTestHelper {
	t.Helper()

	client, err := clickhouse.NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to connect to clickhouse: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return &ClickHouseTestHelper{client: client}
}

// Client returns the wrapped client
func (h *ClickHouseTestHelper) Client() *clickhouse.Client {
	return h.client
}

// TempTableName returns a unique table name dropped when the test ends
func (h *ClickHouseTestHelper) TempTableName(t *testing.T, prefix string) string {
	t.Helper()

	table := fmt.Sprintf("%s_test_%d", prefix, time.Now().UnixNano())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.client.Exec(ctx, "DROP TABLE IF EXISTS "+table)
	})
	return table
}
