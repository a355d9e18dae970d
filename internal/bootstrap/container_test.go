package bootstrap

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"bizagents/internal/adapters/config"
	errnoop "bizagents/internal/adapters/errors/noop"
	"bizagents/internal/agents"
	"bizagents/internal/orchestration"
	"bizagents/pkg/logger"
)

// standaloneConfig has every backend disabled and no LLM key
func standaloneConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "bizagents", Env: "test", Version: "test", HTTPPort: 0},
		Engine: config.EngineConfig{
			MaxConcurrentWorkflows: 2,
			StepTimeout:            10 * time.Second,
			AuditBuffer:            64,
			ShutdownTimeout:        5 * time.Second,
		},
		AI:  config.AIConfig{DefaultProvider: "openai", RequestsPerMinute: 60},
		KPI: config.KPIConfig{Thresholds: []string{"revenue:100000:", "churn_rate::0.05"}},
	}
}

func newStandaloneContainer(t *testing.T) *Container {
	t.Helper()
	c := NewContainer()
	c.Config = standaloneConfig()
	c.Log = logger.Nop()
	c.ErrorTracker = errnoop.New()
	c.MustInitComponents()
	return c
}

func TestContainer_StandaloneWiring(t *testing.T) {
	c := newStandaloneContainer(t)

	assert.Nil(t, c.PG)
	assert.Nil(t, c.CH)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Adapters.KafkaProducer)
	assert.Nil(t, c.Adapters.LLM, "no API key configured")
	assert.Nil(t, c.Background.WorkflowConsumer)

	assert.ElementsMatch(t, []string{
		agents.NameDataGovernance,
		agents.NameDataProduct,
		agents.NameSituationAwareness,
		agents.NameDeepAnalysis,
		agents.NameSolutionFinder,
	}, c.Business.Engine.Registry.ListAgents())

	metrics := c.GetMetrics()
	assert.Equal(t, 2, metrics["slot_capacity"])

	c.Shutdown()
}

func TestContainer_ShutdownLogsEngineState(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c := NewContainer()
	c.Config = standaloneConfig()
	c.Log = logger.New(zap.New(core))
	c.ErrorTracker = errnoop.New()
	c.MustInitComponents()

	c.Shutdown()

	entries := logs.FilterMessage("Engine state before shutdown").All()
	require.Len(t, entries, 1)
	metrics, ok := entries[0].ContextMap()["metrics"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 2, metrics["slot_capacity"])
	assert.Contains(t, metrics, "agents")
}

func TestContainer_WorkflowOverHTTP(t *testing.T) {
	c := newStandaloneContainer(t)
	defer c.Shutdown()

	body := `{
		"name": "quarterly_review",
		"steps": [
			{"agent": "data_governance", "method": "translate_terms", "input": {"terms": ["sales", "churn"]}},
			{"agent": "data_product", "method": "load", "input": {"period": "2025-Q3"}},
			{"agent": "situation_awareness", "method": "detect"}
		]
	}`

	srv := httptest.NewServer(c.Application.HTTPServer.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/workflows", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result orchestration.WorkflowResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, orchestration.StatusSuccess, result.Status)
	assert.Len(t, result.StepOutcomes, 3)

	run, err := c.Services.Runs.Get(t.Context(), result.RunID)
	require.NoError(t, err, "the run service records every result")
	assert.Equal(t, "quarterly_review", run.Workflow)

	agentsResp, err := http.Get(srv.URL + "/api/v1/agents")
	require.NoError(t, err)
	defer agentsResp.Body.Close()
	assert.Equal(t, http.StatusOK, agentsResp.StatusCode)
}
