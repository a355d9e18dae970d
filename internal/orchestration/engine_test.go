package orchestration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizagents/internal/audit"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(EngineConfig{MaxConcurrentWorkflows: 2}, newTestLog())
	e.log = logger.Nop()
	e.Registry.log = logger.Nop()
	e.Executor.log = logger.Nop()
	return e
}

func TestEngine_SubmitNotifiesHandlers(t *testing.T) {
	e := newTestEngine(t)
	var calls atomic.Int32
	mustRegister(t, e.Registry, "DG", MethodSet{"translate_terms": handler(&calls, Payload{"kpis": []string{"revenue"}}, nil)})
	e.Registry.Seal()

	var got []*WorkflowResult
	var handlerCtxCanceled bool
	e.AddResultHandler(ResultHandlerFunc(func(ctx context.Context, r *WorkflowResult) error {
		handlerCtxCanceled = ctx.Err() != nil
		got = append(got, r)
		return nil
	}))
	e.AddResultHandler(ResultHandlerFunc(func(ctx context.Context, r *WorkflowResult) error {
		return fmt.Errorf("kafka unavailable")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := e.Submit(ctx, WorkflowDefinition{Name: "glossary", Steps: []WorkflowStep{
		{AgentName: "DG", MethodName: "translate_terms", Input: Payload{"terms": []string{"sales"}}},
	}})
	require.NoError(t, err, "handler errors never change the result")
	assert.Equal(t, StatusSuccess, result.Status)

	require.Len(t, got, 1)
	assert.Same(t, result, got[0])
	assert.False(t, handlerCtxCanceled)
}

func TestEngine_SubmitInvalidSkipsHandlers(t *testing.T) {
	e := newTestEngine(t)
	var handled bool
	e.AddResultHandler(ResultHandlerFunc(func(ctx context.Context, r *WorkflowResult) error {
		handled = true
		return nil
	}))

	result, err := e.Submit(context.Background(), WorkflowDefinition{})
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.False(t, handled)
}

func TestEngine_StatsAndShutdown(t *testing.T) {
	e := newTestEngine(t)
	ag := &fakeAgent{}
	require.NoError(t, e.Registry.Register("DG", (&counter{}).factory(ag, nil), nil))
	mustRegister(t, e.Registry, "DP", nil, "DG")

	_, err := e.Registry.GetOrCreate(context.Background(), "DG")
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, 1, stats.AgentsByState["connected"])
	assert.Equal(t, 1, stats.AgentsByState["registered"])
	assert.Equal(t, 2, stats.SlotCapacity)
	assert.Equal(t, e.Audit.Len(), stats.AuditEntries)

	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, StateDisconnected, e.Registry.State("DG"))
	assert.Equal(t, int32(1), ag.disconnects.Load())

	reasons := e.Audit.Entries(audit.Filter{Kinds: []audit.Kind{audit.KindDisconnect}})
	require.Len(t, reasons, 1)
	assert.Equal(t, "shutdown", reasons[0].Details["reason"])
}

func TestEngine_ShutdownCollectsErrors(t *testing.T) {
	e := newTestEngine(t)
	bad := &fakeAgent{disconnectFn: func(ctx context.Context) error { return errors.ErrUnavailable }}
	require.NoError(t, e.Registry.Register("bad", (&counter{}).factory(bad, nil), nil))
	_, err := e.Registry.GetOrCreate(context.Background(), "bad")
	require.NoError(t, err)

	err = e.Shutdown(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}
