package agents

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizagents/internal/adapters/ai"
	"bizagents/internal/audit"
	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

type fakeChat struct {
	mu       sync.Mutex
	requests []ai.ChatRequest
	err      error
}

func (f *fakeChat) Name() ai.ProviderName { return "fake" }

func (f *fakeChat) Chat(ctx context.Context, req ai.ChatRequest) (*ai.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &ai.ChatResponse{Content: " narrative " + strings.Repeat("*", len(f.requests)) + " "}, nil
}

func (f *fakeChat) prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Messages[0].Content)
	}
	return out
}

func newTestEngine(t *testing.T, llm ai.ChatProvider) *orchestration.Engine {
	t.Helper()
	kpis, err := NewKPIRegistry(DefaultCatalog, []string{"revenue:100000:", "gross_margin:0.35:", "churn_rate::0.05"})
	require.NoError(t, err)

	e := orchestration.NewEngine(orchestration.EngineConfig{MaxConcurrentWorkflows: 2}, audit.NewLog(audit.WithLogger(logger.Nop())))
	deps := Deps{KPIs: kpis, Source: SampleSource()}
	if llm != nil {
		deps.LLM = llm
	}
	require.NoError(t, Register(e.Registry, deps))
	e.Registry.Seal()
	return e
}

func analysisWorkflow() orchestration.WorkflowDefinition {
	return orchestration.WorkflowDefinition{
		Name: "quarterly-review",
		Steps: []orchestration.WorkflowStep{
			{AgentName: NameDataGovernance, MethodName: MethodTranslateTerms, Input: orchestration.Payload{"terms": []any{"sales", "margin", "churn", "weather"}}},
			{AgentName: NameDataProduct, MethodName: MethodLoad, Input: orchestration.Payload{"period": "2025-Q3"}},
			{AgentName: NameSituationAwareness, MethodName: MethodDetect},
			{AgentName: NameDeepAnalysis, MethodName: MethodAnalyze},
			{AgentName: NameSolutionFinder, MethodName: MethodRecommend},
		},
	}
}

func TestWorkflow_FullAnalysis(t *testing.T) {
	llm := &fakeChat{}
	e := newTestEngine(t, llm)

	result, err := e.Submit(context.Background(), analysisWorkflow())
	require.NoError(t, err)
	require.Equal(t, orchestration.StatusSuccess, result.Status, "%+v", result.Failures())
	require.Len(t, result.StepOutcomes, 5)

	dg := result.StepOutcomes[0].Output
	assert.Equal(t, []string{"revenue", "gross_margin", "churn_rate"}, dg["kpis"])
	assert.Equal(t, []string{"weather"}, dg["unknown"])

	dp := result.StepOutcomes[1].Output
	assert.Equal(t, "2025-Q3", dp["period"])
	assert.Equal(t, map[string]string{"revenue": "96000", "gross_margin": "0.33", "churn_rate": "0.058"}, dp["values"])

	sa := result.StepOutcomes[2].Output
	situations := sa["situations"].([]map[string]any)
	require.Len(t, situations, 3)
	assert.Equal(t, "churn_rate", situations[0]["kpi"])
	assert.Equal(t, "above", situations[0]["direction"])
	assert.Equal(t, "medium", situations[0]["severity"])
	assert.Equal(t, "revenue", situations[2]["kpi"])
	assert.Equal(t, "low", situations[2]["severity"])
	assert.NotEmpty(t, sa["narrative"])

	da := result.StepOutcomes[3].Output
	assert.Equal(t, "churn_rate", da["kpi"])
	assert.Equal(t, "+38.1%", da["change"])
	assert.Equal(t, true, da["declining"])
	findings := da["findings"].([]string)
	require.Len(t, findings, 4)
	assert.Contains(t, findings[0], "churn_rate moved +38.1% from 0.042 in 2025-Q2 to 0.058")
	assert.Contains(t, findings[3], "revenue moved -14.3%")

	sf := result.StepOutcomes[4].Output
	assert.Equal(t, "churn_rate", sf["kpi"])
	assert.Equal(t, playbook["churn_rate"], sf["recommendations"])
	assert.NotEmpty(t, sf["rationale"])

	prompts := llm.prompts()
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[0], "churn_rate = 0.058 is above the threshold 0.05")
	assert.Contains(t, prompts[1], "KPI under investigation: churn_rate")
	assert.Contains(t, prompts[2], "Offer annual plans with a retention incentive")
}

func TestWorkflow_WithoutLLM(t *testing.T) {
	e := newTestEngine(t, nil)

	result, err := e.Submit(context.Background(), orchestration.WorkflowDefinition{
		Name: "detect-only",
		Steps: []orchestration.WorkflowStep{
			{AgentName: NameSituationAwareness, MethodName: MethodDetect, Input: orchestration.Payload{"focus": []string{"sales"}}},
			{AgentName: NameSolutionFinder, MethodName: MethodRecommend, Input: orchestration.Payload{"kpi": "gross_margin"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, orchestration.StatusSuccess, result.Status, "%+v", result.Failures())

	sa := result.StepOutcomes[0].Output
	assert.Equal(t, "2025-Q3", sa["period"])
	situations := sa["situations"].([]map[string]any)
	require.Len(t, situations, 1)
	assert.Equal(t, "revenue", situations[0]["kpi"])
	assert.NotContains(t, sa, "narrative")

	// solution_finder ran its own analysis through deep_analysis
	sf := result.StepOutcomes[1].Output
	assert.Equal(t, "gross_margin", sf["kpi"])
	assert.Equal(t, playbook["gross_margin"], sf["recommendations"])
	assert.NotContains(t, sf, "rationale")

	for _, name := range []string{NameDataGovernance, NameDataProduct, NameDeepAnalysis} {
		assert.Equal(t, orchestration.StateConnected, e.Registry.State(name), name)
	}
}

func TestWorkflow_NoSituationsInHealthyPeriod(t *testing.T) {
	llm := &fakeChat{}
	e := newTestEngine(t, llm)

	result, err := e.Submit(context.Background(), orchestration.WorkflowDefinition{
		Name:  "q2",
		Steps: []orchestration.WorkflowStep{{AgentName: NameSituationAwareness, MethodName: MethodDetect, Input: orchestration.Payload{"period": "2025-Q2"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, orchestration.StatusSuccess, result.Status)
	assert.Empty(t, result.StepOutcomes[0].Output["situations"])
	assert.Empty(t, llm.prompts(), "no LLM call without situations")
}

func TestWorkflow_LLMFailureIsStepFailure(t *testing.T) {
	llm := &fakeChat{err: errors.Wrap(errors.ErrExternal, "openai chat completion: 503")}
	e := newTestEngine(t, llm)

	result, err := e.Submit(context.Background(), orchestration.WorkflowDefinition{
		Name: "llm-down",
		Steps: []orchestration.WorkflowStep{
			{AgentName: NameDeepAnalysis, MethodName: MethodAnalyze, Input: orchestration.Payload{"kpi": "revenue"}, ContinueOnError: true},
			{AgentName: NameDataProduct, MethodName: MethodLoad, Input: orchestration.Payload{"kpis": []string{"revenue"}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, orchestration.StatusPartialSuccess, result.Status)

	failed := result.StepOutcomes[0]
	require.NotNil(t, failed.Error)
	assert.Equal(t, orchestration.KindRuntime, failed.Error.Kind)
	assert.True(t, errors.Is(failed.Error, errors.ErrExternal))
	assert.Nil(t, result.StepOutcomes[1].Error)
}

func TestWorkflow_InputValidation(t *testing.T) {
	e := newTestEngine(t, nil)

	result, err := e.Submit(context.Background(), orchestration.WorkflowDefinition{
		Name: "bad-input",
		Steps: []orchestration.WorkflowStep{
			{AgentName: NameDataGovernance, MethodName: MethodTranslateTerms, Input: orchestration.Payload{"terms": "sales"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, orchestration.StatusError, result.Status)
	assert.Equal(t, orchestration.KindValidation, result.StepOutcomes[0].Error.Kind)
}

func TestDataProduct_Load(t *testing.T) {
	kpis, err := NewKPIRegistry(DefaultCatalog, nil)
	require.NoError(t, err)
	dp := NewDataProduct(SampleSource(), kpis, NewDataGovernance(kpis))
	ctx := context.Background()

	require.NoError(t, dp.Connect(ctx))

	s, err := dp.Load(ctx, "", []string{"revenue"})
	require.NoError(t, err)
	assert.Equal(t, "2025-Q3", s.Period)
	assert.True(t, s.Values["revenue"].Equal(d("96000")))

	_, err = dp.Load(ctx, "2025-Q3", []string{"ebitda"})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	prev, ok, err := dp.Previous(ctx, "2025-Q1", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, prev.Values)

	empty := NewDataProduct(NewMemorySource(), kpis, nil)
	assert.True(t, errors.Is(empty.Connect(ctx), errors.ErrUnavailable))
}

func TestRegister_EmptySourceFailsConstruction(t *testing.T) {
	kpis, err := NewKPIRegistry(DefaultCatalog, nil)
	require.NoError(t, err)
	e := orchestration.NewEngine(orchestration.EngineConfig{}, audit.NewLog(audit.WithLogger(logger.Nop())))
	require.NoError(t, Register(e.Registry, Deps{KPIs: kpis, Source: NewMemorySource()}))
	e.Registry.Seal()

	_, err = e.Registry.GetOrCreate(context.Background(), NameSituationAwareness)
	require.Error(t, err)
	assert.Equal(t, orchestration.StateFailed, e.Registry.State(NameDataProduct))
	assert.Equal(t, orchestration.StateConnected, e.Registry.State(NameDataGovernance))

	assert.True(t, errors.Is(Register(e.Registry, Deps{}), errors.ErrInvalidInput))
}

func TestDefinitions_DependencyOrder(t *testing.T) {
	seen := map[string]bool{}
	for _, def := range Definitions(Deps{}) {
		for _, dep := range def.Dependencies {
			assert.True(t, seen[dep], "%s must come after %s", def.Name, dep)
		}
		seen[def.Name] = true
	}
	assert.Len(t, seen, 5)
}
