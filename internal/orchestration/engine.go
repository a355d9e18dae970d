package orchestration

import (
	"context"
	"sync"
	"time"

	"bizagents/internal/audit"
	"bizagents/internal/metrics"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// ResultHandler is notified after every submitted run (persistence, publishing)
type ResultHandler interface {
	HandleResult(ctx context.Context, result *WorkflowResult) error
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(ctx context.Context, result *WorkflowResult) error

// HandleResult implements ResultHandler
func (f ResultHandlerFunc) HandleResult(ctx context.Context, result *WorkflowResult) error {
	return f(ctx, result)
}

// EngineConfig holds the tunables bootstrap reads from the environment
type EngineConfig struct {
	MaxConcurrentWorkflows int
	DefaultStepTimeout     time.Duration
}

// Engine wires the registry, executor, limiter and audit log together
type Engine struct {
	Registry *Registry
	Executor *Executor
	Limiter  *Limiter
	Audit    *audit.Log

	mu       sync.RWMutex
	handlers []ResultHandler
	log      *logger.Logger
}

// NewEngine creates an engine around auditLog
func NewEngine(cfg EngineConfig, auditLog *audit.Log) *Engine {
	if auditLog == nil {
		auditLog = audit.NewLog()
	}
	registry := NewRegistry(auditLog)
	limiter := NewLimiter(cfg.MaxConcurrentWorkflows)
	return &Engine{
		Registry: registry,
		Executor: NewExecutor(registry, limiter, auditLog, WithDefaultStepTimeout(cfg.DefaultStepTimeout)),
		Limiter:  limiter,
		Audit:    auditLog,
		log:      logger.Component("engine"),
	}
}

// AddResultHandler registers h for every later Submit
func (e *Engine) AddResultHandler(h ResultHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Submit executes def and hands the result to every result handler.
// Handler failures are logged and never change the result or the error.
func (e *Engine) Submit(ctx context.Context, def WorkflowDefinition) (*WorkflowResult, error) {
	result, err := e.Executor.Execute(ctx, def)
	if result == nil {
		return nil, err
	}

	e.mu.RLock()
	handlers := append([]ResultHandler(nil), e.handlers...)
	e.mu.RUnlock()

	// The run already happened; persisting it must not depend on the caller staying
	hctx := errors.WithRun(context.WithoutCancel(ctx), result.Workflow, result.RunID.String())
	for _, h := range handlers {
		if herr := h.HandleResult(hctx, result); herr != nil {
			e.log.ErrorWithContext(hctx, errors.Wrap(herr, "result handler"), map[string]string{
				"workflow": result.Workflow,
			})
		}
	}
	return result, err
}

// Stats implements metrics.StatsSource
func (e *Engine) Stats() metrics.EngineStats {
	return metrics.EngineStats{
		AgentsByState: e.Registry.CountByState(),
		AuditEntries:  e.Audit.Len(),
		SlotCapacity:  e.Limiter.Capacity(),
	}
}

// Shutdown disconnects all agents, then drains the audit sinks
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs errors.MultiError
	errs.Add(e.Registry.Shutdown(ctx))
	errs.Add(e.Audit.Close(ctx))
	if errs.HasErrors() {
		e.log.Warnw("Engine shutdown finished with errors", "error", errs.ToError())
	}
	return errs.ToError()
}
