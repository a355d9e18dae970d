package orchestration

import (
	"context"
	"sync/atomic"
	"testing"

	"bizagents/internal/audit"
	"bizagents/pkg/logger"
)

// fakeAgent records connect / disconnect calls
type fakeAgent struct {
	name         string
	methods      MethodSet
	connectErr   error
	connects     atomic.Int32
	disconnects  atomic.Int32
	disconnectFn func(ctx context.Context) error
}

func (a *fakeAgent) Methods() MethodSet { return a.methods }

func (a *fakeAgent) Connect(ctx context.Context) error {
	a.connects.Add(1)
	return a.connectErr
}

func (a *fakeAgent) Disconnect(ctx context.Context) error {
	a.disconnects.Add(1)
	if a.disconnectFn != nil {
		return a.disconnectFn(ctx)
	}
	return nil
}

// counter counts factory invocations per agent
type counter struct {
	calls atomic.Int32
}

func (c *counter) factory(agent Agent, err error) Factory {
	return func(ctx context.Context, cfg Config, reg *Registry) (Agent, error) {
		c.calls.Add(1)
		if err != nil {
			return nil, err
		}
		return agent, nil
	}
}

func newTestLog() *audit.Log {
	return audit.NewLog(audit.WithLogger(logger.Nop()))
}

func newTestRegistry(t *testing.T) (*Registry, *audit.Log) {
	t.Helper()
	log := newTestLog()
	reg := NewRegistry(log)
	reg.log = logger.Nop()
	return reg, log
}

func newTestExecutor(t *testing.T, capacity int, opts ...ExecutorOption) (*Executor, *Registry, *audit.Log) {
	t.Helper()
	reg, log := newTestRegistry(t)
	exec := NewExecutor(reg, NewLimiter(capacity), log, opts...)
	exec.log = logger.Nop()
	return exec, reg, log
}

// kindsAndSubjects flattens entries for order assertions
func kindsAndSubjects(entries []audit.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, string(e.Kind)+" "+e.Subject)
	}
	return out
}

// handler returns a method whose handler increments calls and returns output/err
func handler(calls *atomic.Int32, output Payload, err error) Method {
	return Method{
		Handler: func(ctx context.Context, input Payload) (Payload, error) {
			calls.Add(1)
			if err != nil {
				return nil, err
			}
			return output, nil
		},
	}
}

// mustRegister registers a StaticAgent with the given methods
func mustRegister(t *testing.T, reg *Registry, name string, methods MethodSet, deps ...string) *counter {
	t.Helper()
	c := &counter{}
	if err := reg.Register(name, c.factory(StaticAgent(methods), nil), deps); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return c
}
