package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

func ok(ctx context.Context) error   { return nil }
func down(ctx context.Context) error { return errors.Wrap(errors.ErrUnavailable, "connection refused") }

func serve(t *testing.T, fn http.HandlerFunc) (int, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return rec.Code, status
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name   string
		checks []Check
		code   int
		status string
	}{
		{"no backends", nil, http.StatusOK, "healthy"},
		{"all up", []Check{{"postgres", ok}, {"redis", ok}}, http.StatusOK, "healthy"},
		{"one down", []Check{{"postgres", ok}, {"clickhouse", down}}, http.StatusOK, "degraded"},
		{"all down", []Check{{"postgres", down}, {"redis", down}}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(logger.Nop(), "bizagents", "test", tt.checks...)
			code, status := serve(t, h.HandleHealth)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
			assert.Equal(t, "bizagents", status.Service)
		})
	}
}

func TestHandleReadiness(t *testing.T) {
	h := New(logger.Nop(), "bizagents", "test", Check{"postgres", ok}, Check{"clickhouse", down})
	code, status := serve(t, h.HandleReadiness)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["postgres"].Status)
	assert.Contains(t, status.Checks["clickhouse"].Error, "connection refused")
}

func TestHandleLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	New(logger.Nop(), "bizagents", "test", Check{"redis", down}).HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
