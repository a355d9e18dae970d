package orchestration

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"

	"bizagents/internal/audit"
	"bizagents/internal/metrics"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// Executor runs workflow definitions step by step against a Registry
type Executor struct {
	registry       *Registry
	limiter        *Limiter
	audit          *audit.Log
	defaultTimeout time.Duration
	cancelGrace    time.Duration
	clock          func() time.Time
	log            *logger.Logger
}

const defaultCancelGrace = 5 * time.Second

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithDefaultStepTimeout applies when neither the step nor the method sets one. Zero means none.
func WithDefaultStepTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.defaultTimeout = d }
}

// WithCancelGrace bounds how long a canceled run waits for its in-flight step
func WithCancelGrace(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.cancelGrace = d }
}

// WithExecutorClock overrides the wall clock used for StartedAt/CompletedAt
func WithExecutorClock(clock func() time.Time) ExecutorOption {
	return func(e *Executor) { e.clock = clock }
}

// NewExecutor creates an executor. A nil limiter gets the default capacity.
func NewExecutor(registry *Registry, limiter *Limiter, auditLog *audit.Log, opts ...ExecutorOption) *Executor {
	if limiter == nil {
		limiter = NewLimiter(DefaultMaxConcurrentWorkflows)
	}
	e := &Executor{
		registry:    registry,
		limiter:     limiter,
		audit:       auditLog,
		cancelGrace: defaultCancelGrace,
		clock:       time.Now,
		log:         logger.Component("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs def and returns its result.
//
// Step failures are recovered into the result; callers branch on Status.
// An error is returned only for an invalid definition, a context done while
// waiting for a slot, or a dependency/configuration error while resolving a
// step's agent. In the last case the partial result is returned as well.
func (e *Executor) Execute(ctx context.Context, def WorkflowDefinition) (*WorkflowResult, error) {
	runID := uuid.New()

	if err := def.Validate(); err != nil {
		e.recordRejected(def, runID, "validation", err)
		return nil, err
	}

	slot, err := e.limiter.Acquire(ctx)
	if err != nil {
		e.recordRejected(def, runID, "canceled", err)
		return nil, err
	}
	defer slot.Release()

	ctx = errors.WithRun(ctx, def.Name, runID.String())
	log := e.log.With("workflow", def.Name, "run_id", runID)

	result := &WorkflowResult{
		RunID:        runID,
		Workflow:     def.Name,
		StepOutcomes: make([]StepOutcome, 0, len(def.Steps)),
		StartedAt:    e.clock().UTC(),
	}
	e.audit.Record(audit.Entry{
		Kind:     audit.KindWorkflowStart,
		Subject:  def.Name,
		Workflow: def.Name,
		RunID:    runID,
		Details:  map[string]any{"steps": len(def.Steps)},
	})
	log.Infof("Starting workflow with %d steps", len(def.Steps))

	var (
		fatal   error
		stopped bool
		prior   []Payload
	)
	for i, step := range def.Steps {
		var outcome StepOutcome
		if ctx.Err() != nil {
			outcome = e.cancelStep(ctx, result, i, step)
		} else {
			outcome, fatal = e.runStep(ctx, result, i, step, prior)
		}
		result.StepOutcomes = append(result.StepOutcomes, outcome)

		if fatal != nil {
			stopped = true
			fatal = errors.Wrapf(fatal, "workflow %q step %d", def.Name, i)
			break
		}
		if outcome.Failed() {
			if !step.ContinueOnError || outcome.Error.Kind == KindCanceled {
				stopped = true
				log.Warnf("Stopping workflow at step %d/%d (%s)", i+1, len(def.Steps), outcome.Error.Kind)
				break
			}
			continue
		}
		prior = append(prior, outcome.Output)
	}

	result.CompletedAt = e.clock().UTC()
	result.Status = computeStatus(result.StepOutcomes, stopped)
	metrics.RecordWorkflow(def.Name, string(result.Status), result.Duration())

	details := map[string]any{
		"status":      string(result.Status),
		"steps_total": len(def.Steps),
		"steps_run":   len(result.StepOutcomes),
		"failed":      len(result.Failures()),
		"duration_ms": result.Duration().Milliseconds(),
	}
	if fatal != nil {
		details["error"] = fatal.Error()
	}
	e.audit.Record(audit.Entry{
		Kind:     audit.KindWorkflowComplete,
		Subject:  def.Name,
		Workflow: def.Name,
		RunID:    runID,
		Details:  details,
	})
	log.Infof("Workflow complete: status=%s steps=%d/%d (duration: %v)",
		result.Status, len(result.StepOutcomes), len(def.Steps), result.Duration())

	return result, fatal
}

// runStep resolves the agent, validates, invokes and records one step.
// The returned error is non-nil only for dependency/configuration failures.
func (e *Executor) runStep(ctx context.Context, result *WorkflowResult, index int, step WorkflowStep, prior []Payload) (StepOutcome, error) {
	outcome := StepOutcome{
		Index:      index,
		AgentName:  step.AgentName,
		MethodName: step.MethodName,
		StartedAt:  e.clock().UTC(),
		began:      time.Now(),
	}
	e.recordStep(result, audit.KindStepStart, outcome, map[string]any{
		"continue_on_error": step.ContinueOnError,
	})

	agent, err := e.registry.GetOrCreate(ctx, step.AgentName)
	if err != nil {
		e.fail(ctx, result, &outcome, step, KindDependency, err, nil)
		return outcome, err
	}

	var methods MethodSet
	if panicked, err := e.guard(func() error {
		methods = agent.Methods()
		return nil
	}); panicked {
		e.fail(ctx, result, &outcome, step, KindPanic, err, nil)
		return outcome, nil
	}

	method, ok := methods[step.MethodName]
	if !ok || method.Handler == nil {
		err := &ValidationError{
			Field:   "method",
			Message: fmt.Sprintf("agent %q has no method %q", step.AgentName, step.MethodName),
		}
		e.fail(ctx, result, &outcome, step, KindValidation, err, map[string]any{
			"available_methods": methods.Names(),
		})
		return outcome, nil
	}

	if method.Validate != nil {
		panicked, err := e.guard(func() error { return method.Validate(step.Input.Clone()) })
		switch {
		case panicked:
			e.fail(ctx, result, &outcome, step, KindPanic, err, nil)
			return outcome, nil
		case err != nil:
			e.fail(ctx, result, &outcome, step, KindValidation, err, nil)
			return outcome, nil
		}
	}

	timeout := e.effectiveTimeout(step, method)
	output, kind, err := e.invoke(ctx, method, step.Input, timeout, prior)
	if err != nil {
		var details map[string]any
		if kind == KindTimeout {
			details = map[string]any{"timeout": timeout.String()}
		}
		e.fail(ctx, result, &outcome, step, kind, err, details)
		return outcome, nil
	}

	if output == nil {
		output = Payload{}
	}
	outcome.Output = output
	outcome.Duration = time.Since(outcome.began)
	metrics.RecordStep(step.AgentName, step.MethodName, "success", outcome.Duration)
	e.recordStep(result, audit.KindStepSuccess, outcome, map[string]any{
		"duration_ms": outcome.Duration.Milliseconds(),
	})
	return outcome, nil
}

// cancelStep records the step that would have run next after the caller gave up
func (e *Executor) cancelStep(ctx context.Context, result *WorkflowResult, index int, step WorkflowStep) StepOutcome {
	outcome := StepOutcome{
		Index:      index,
		AgentName:  step.AgentName,
		MethodName: step.MethodName,
		StartedAt:  e.clock().UTC(),
		began:      time.Now(),
	}
	e.recordStep(result, audit.KindStepStart, outcome, map[string]any{
		"continue_on_error": step.ContinueOnError,
	})
	e.fail(ctx, result, &outcome, step, KindCanceled, errors.Wrap(ctx.Err(), "workflow canceled before step"), nil)
	return outcome
}

func (e *Executor) effectiveTimeout(step WorkflowStep, method Method) time.Duration {
	switch {
	case step.Timeout > 0:
		return step.Timeout
	case method.Timeout > 0:
		return method.Timeout
	default:
		return e.defaultTimeout
	}
}

type invocation struct {
	output   Payload
	err      error
	panicked any
	stack    []byte
}

// invoke runs the handler in its own goroutine so a handler that ignores its
// context cannot hold the workflow past the timeout. The handler context does
// not inherit the caller's cancellation: when the caller gives up, the step
// gets cancelGrace to finish (or hit its own timeout) before it is canceled
// and abandoned.
func (e *Executor) invoke(ctx context.Context, method Method, input Payload, timeout time.Duration, prior []Payload) (Payload, ErrorKind, error) {
	stepCtx := withPriorOutputs(context.WithoutCancel(ctx), slices.Clone(prior))
	var cancel context.CancelFunc
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(stepCtx, timeout)
	} else {
		stepCtx, cancel = context.WithCancel(stepCtx)
	}
	defer cancel()

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invocation{panicked: p, stack: debug.Stack()}
			}
		}()
		out, err := method.Handler(stepCtx, input.Clone())
		done <- invocation{output: out, err: err}
	}()

	select {
	case res := <-done:
		return e.settle(ctx, stepCtx, res)
	case <-stepCtx.Done():
		return nil, KindTimeout, errors.Wrapf(errors.ErrTimeout, "step exceeded %v", timeout)
	case <-ctx.Done():
	}

	grace := time.NewTimer(e.cancelGrace)
	defer grace.Stop()
	select {
	case res := <-done:
		return e.settle(ctx, stepCtx, res)
	case <-stepCtx.Done():
		return nil, KindTimeout, errors.Wrapf(errors.ErrTimeout, "step exceeded %v", timeout)
	case <-grace.C:
		cancel()
		return nil, KindCanceled, errors.Wrap(ctx.Err(), "step abandoned after cancellation")
	}
}

// guard runs agent code outside the handler goroutine, turning a panic into an error
func (e *Executor) guard(fn func() error) (panicked bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Errorw("Agent code panicked", "panic", p, "stack", string(debug.Stack()))
			err = errors.Wrapf(errors.ErrInternal, "panic: %v", p)
			panicked = true
		}
	}()
	return false, fn()
}

func (e *Executor) settle(ctx, stepCtx context.Context, res invocation) (Payload, ErrorKind, error) {
	if res.panicked != nil {
		e.log.Errorw("Agent method panicked", "panic", res.panicked, "stack", string(res.stack))
		return nil, KindPanic, errors.Wrapf(errors.ErrInternal, "panic: %v", res.panicked)
	}
	if res.err != nil {
		return nil, classify(ctx, stepCtx, res.err), res.err
	}
	return res.output, "", nil
}

// classify tells a step timeout from caller cancellation from an ordinary agent error
func classify(parent, stepCtx context.Context, err error) ErrorKind {
	switch {
	case parent.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.ErrTimeout):
		return KindTimeout
	default:
		return KindRuntime
	}
}

func (e *Executor) fail(ctx context.Context, result *WorkflowResult, outcome *StepOutcome, step WorkflowStep, kind ErrorKind, err error, details map[string]any) {
	outcome.Duration = time.Since(outcome.began)
	outcome.Error = &StepError{
		Message:   err.Error(),
		AgentName: step.AgentName,
		StepIndex: outcome.Index,
		Kind:      kind,
		Details:   details,
		cause:     err,
	}
	metrics.RecordStep(step.AgentName, step.MethodName, string(kind), outcome.Duration)

	auditDetails := map[string]any{
		"kind":              string(kind),
		"error":             err.Error(),
		"continue_on_error": step.ContinueOnError,
		"duration_ms":       outcome.Duration.Milliseconds(),
	}
	for k, v := range details {
		auditDetails[k] = v
	}
	e.recordStep(result, audit.KindStepFailure, *outcome, auditDetails)

	switch kind {
	case KindRuntime, KindPanic, KindDependency:
		e.log.ErrorWithContext(ctx, outcome.Error, map[string]string{
			"agent":  step.AgentName,
			"method": step.MethodName,
			"kind":   string(kind),
		})
	default:
		e.log.Warnw("Step failed",
			"workflow", result.Workflow,
			"step", outcome.Index,
			"agent", step.AgentName,
			"method", step.MethodName,
			"kind", kind,
			"error", err,
		)
	}
}

func (e *Executor) recordStep(result *WorkflowResult, kind audit.Kind, outcome StepOutcome, details map[string]any) {
	if details == nil {
		details = make(map[string]any)
	}
	details["step_index"] = outcome.Index
	details["method"] = outcome.MethodName
	e.audit.Record(audit.Entry{
		Kind:     kind,
		Subject:  outcome.AgentName,
		Workflow: result.Workflow,
		RunID:    result.RunID,
		Details:  details,
	})
}

// recordRejected closes the audit trail of a run that never started
func (e *Executor) recordRejected(def WorkflowDefinition, runID uuid.UUID, reason string, err error) {
	subject := def.Name
	if subject == "" {
		subject = "unnamed"
	}
	e.audit.Record(audit.Entry{
		Kind:     audit.KindWorkflowComplete,
		Subject:  subject,
		Workflow: def.Name,
		RunID:    runID,
		Details: map[string]any{
			"status": string(StatusError),
			"reason": reason,
			"error":  err.Error(),
		},
	})
	metrics.RecordWorkflow(subject, string(StatusError), 0)
	e.log.Warnw("Workflow rejected", "workflow", def.Name, "reason", reason, "error", err)
}
