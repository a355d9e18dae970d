package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizagents/internal/api/health"
	"bizagents/internal/audit"
	"bizagents/internal/domain/workflow_run"
	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

type fakeArchive struct {
	filter audit.Filter
	limit  int
}

func (a *fakeArchive) Query(ctx context.Context, f audit.Filter, limit int) ([]audit.Entry, error) {
	a.filter, a.limit = f, limit
	return []audit.Entry{{ID: uuid.New(), Timestamp: time.Now().Add(-time.Hour), Kind: audit.KindConnect, Subject: "data_governance"}}, nil
}

type testAPI struct {
	engine  *orchestration.Engine
	runs    *workflow_run.Service
	archive *fakeArchive
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	e := orchestration.NewEngine(orchestration.EngineConfig{MaxConcurrentWorkflows: 2}, audit.NewLog(audit.WithLogger(logger.Nop())))
	require.NoError(t, e.Registry.Register("echo", func(ctx context.Context, cfg orchestration.Config, reg *orchestration.Registry) (orchestration.Agent, error) {
		return orchestration.StaticAgent{
			"say": {Handler: func(ctx context.Context, in orchestration.Payload) (orchestration.Payload, error) {
				return orchestration.Payload{"said": in["text"]}, nil
			}},
			"fail": {Handler: func(ctx context.Context, in orchestration.Payload) (orchestration.Payload, error) {
				return nil, errors.New("boom")
			}},
		}, nil
	}, nil))
	require.NoError(t, e.Registry.Register("ghost", func(ctx context.Context, cfg orchestration.Config, reg *orchestration.Registry) (orchestration.Agent, error) {
		return nil, errors.Wrap(errors.ErrUnavailable, "warehouse offline")
	}, nil))
	e.Registry.Seal()

	runs := workflow_run.NewService(nil, nil)
	e.AddResultHandler(runs)

	archive := &fakeArchive{}
	srv := NewServer(ServerConfig{ServiceName: "bizagents", Version: "test"},
		health.New(logger.Nop(), "bizagents", "test"),
		NewHandlers(e, runs, e.Registry, e.Audit, archive),
		logger.Nop())

	return &testAPI{engine: e, runs: runs, archive: archive, handler: srv.Handler()}
}

func (a *testAPI) do(t *testing.T, method, target, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestSubmitWorkflow(t *testing.T) {
	a := newTestAPI(t)

	code, body := a.do(t, http.MethodPost, "/api/v1/workflows",
		`{"name":"greet","steps":[{"agent":"echo","method":"fail","continue_on_error":true},{"agent":"echo","method":"say","input":{"text":"hi"}}]}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "partial_success", body["status"])
	assert.NotEmpty(t, body["took"])

	steps := body["step_outcomes"].([]any)
	require.Len(t, steps, 2)
	assert.Equal(t, "hi", steps[1].(map[string]any)["output"].(map[string]any)["said"])

	// recorded by the run service through the result handler
	id := body["run_id"].(string)
	code, run := a.do(t, http.MethodGet, "/api/v1/workflows/"+id, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "greet", run["workflow"])
	assert.Equal(t, float64(1), run["failed_steps"])

	code, list := a.do(t, http.MethodGet, "/api/v1/workflows?workflow=greet&limit=5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), list["count"])
}

func TestSubmitWorkflow_Errors(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"name":`, http.StatusBadRequest},
		{"no steps", `{"name":"empty","steps":[]}`, http.StatusBadRequest},
		{"bad timeout", `{"name":"t","steps":[{"agent":"echo","method":"say","timeout":"soon"}]}`, http.StatusBadRequest},
		{"unknown agent", `{"name":"u","steps":[{"agent":"nobody","method":"say"}]}`, http.StatusBadRequest},
		{"construction failure", `{"name":"g","steps":[{"agent":"ghost","method":"say"}]}`, http.StatusFailedDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := a.do(t, http.MethodPost, "/api/v1/workflows", tt.body)
			assert.Equal(t, tt.code, code, body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGetWorkflow_Errors(t *testing.T) {
	a := newTestAPI(t)

	code, _ := a.do(t, http.MethodGet, "/api/v1/workflows/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodGet, "/api/v1/workflows/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(t, http.MethodGet, "/api/v1/workflows?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListAgents(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.engine.Registry.GetOrCreate(context.Background(), "echo")
	require.NoError(t, err)

	code, body := a.do(t, http.MethodGet, "/api/v1/agents", "")
	require.Equal(t, http.StatusOK, code)

	agents := body["agents"].([]any)
	require.Len(t, agents, 2)
	echo := agents[0].(map[string]any)
	assert.Equal(t, "echo", echo["name"])
	assert.Equal(t, "connected", echo["state"])
	assert.Equal(t, "registered", agents[1].(map[string]any)["state"])
}

func TestQueryAudit(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.engine.Submit(context.Background(), orchestration.WorkflowDefinition{
		Name:  "greet",
		Steps: []orchestration.WorkflowStep{{AgentName: "echo", MethodName: "say"}},
	})
	require.NoError(t, err)

	code, body := a.do(t, http.MethodGet, "/api/v1/audit?kind=step_start,step_success&subject=echo", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "memory", body["source"])
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, "step_start", first["kind"])
	assert.NotEmpty(t, first["age"])

	code, body = a.do(t, http.MethodGet, "/api/v1/audit?limit=1", "")
	require.Equal(t, http.StatusOK, code)
	last := body["entries"].([]any)[0].(map[string]any)
	assert.Equal(t, "workflow_complete", last["kind"], "limit keeps the newest entries")

	code, body = a.do(t, http.MethodGet, "/api/v1/audit?source=archive&subject=data_governance&limit=10", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, "data_governance", a.archive.filter.Subject)
	assert.Equal(t, 10, a.archive.limit)
	assert.Equal(t, "1 hour ago", body["entries"].([]any)[0].(map[string]any)["age"])
}

func TestQueryAudit_BadParams(t *testing.T) {
	a := newTestAPI(t)
	for _, q := range []string{"kind=teleport", "run_id=x", "since=yesterday", "source=s3", "limit=-1"} {
		code, _ := a.do(t, http.MethodGet, "/api/v1/audit?"+q, "")
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestRootAndHealthRoutes(t *testing.T) {
	a := newTestAPI(t)

	code, body := a.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bizagents", body["service"])

	code, body = a.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.Canceled))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(errors.ErrUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
	assert.Equal(t, http.StatusFailedDependency, statusFor(errors.Wrap(errors.ErrCycleDetected, "a -> b -> a")))
}
