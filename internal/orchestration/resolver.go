package orchestration

import (
	"context"
	"fmt"
	"slices"
	"time"

	"bizagents/internal/audit"
	"bizagents/pkg/errors"
)

// GetOrCreate returns the live instance of name, constructing and connecting
// it and its transitive dependencies first when needed. Concurrent callers
// for the same name share one construction; the factory runs at most once
// per registration.
func (r *Registry) GetOrCreate(ctx context.Context, name string) (Agent, error) {
	if d, ok := r.store.get(name); ok && d.state == StateConnected {
		return d.instance, nil
	}

	if err := r.preflight(name); err != nil {
		return nil, err
	}

	// A caller giving up must not leave a descriptor stuck in Constructing
	return r.resolve(context.WithoutCancel(ctx), name, nil)
}

const (
	white = iota // not visited
	gray         // on the current path
	black        // fully explored
)

// preflight walks the dependency closure of root and rejects unknown names
// and cycles before any factory runs. Connected agents are not descended into.
func (r *Registry) preflight(root string) error {
	color := make(map[string]int)
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case gray:
			start := slices.Index(path, name)
			cycle := append(slices.Clone(path[start:]), name)
			r.audit.Record(audit.Entry{
				Kind:    audit.KindCycleDetected,
				Subject: root,
				Details: map[string]any{"path": cycle},
			})
			r.log.Errorw("Dependency cycle detected", "agent", root, "path", cycle)
			return &CycleDetectedError{Path: cycle}
		case black:
			return nil
		}

		d, ok := r.store.get(name)
		if !ok {
			if len(path) == 0 {
				return &ConfigurationError{Agent: name, Message: "agent is not registered"}
			}
			return &ConfigurationError{
				Agent:   path[len(path)-1],
				Message: fmt.Sprintf("dependency %q is not registered", name),
			}
		}
		if d.state == StateConnected {
			color[name] = black
			return nil
		}

		color[name] = gray
		path = append(path, name)
		for _, dep := range d.dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return nil
	}

	return visit(root)
}

// resolve is the post-order walk. chain is the path of agents that required
// name; the per-name lock serializes construction of the same agent while
// unrelated agents resolve concurrently. Locks are only taken parent to child
// along an acyclic graph, so they cannot deadlock.
func (r *Registry) resolve(ctx context.Context, name string, chain []string) (Agent, error) {
	chain = append(slices.Clone(chain), name)
	if slices.Index(chain, name) != len(chain)-1 {
		// descriptors changed between preflight and resolve
		return nil, &CycleDetectedError{Path: chain}
	}

	if d, ok := r.store.get(name); ok && d.state == StateConnected {
		return d.instance, nil
	}

	mu := r.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	d, ok := r.store.get(name)
	if !ok {
		return nil, &ConfigurationError{Agent: name, Message: "agent is not registered"}
	}

	switch d.state {
	case StateConnected:
		return d.instance, nil
	case StateFailed:
		return nil, d.err
	case StateDisconnected:
		return nil, errors.Wrapf(errors.ErrAgentDisconnected, "agent %q must be registered again", name)
	case StateRegistered:
	default:
		return nil, errors.Wrapf(errors.ErrInvalidTransition, "agent %q is %s", name, d.state)
	}

	for _, dep := range d.dependencies {
		if _, err := r.resolve(ctx, dep, chain); err != nil {
			return nil, err
		}
	}

	if _, err := r.store.transition(name, StateConstructing, nil); err != nil {
		return nil, err
	}
	r.log.Debugw("Constructing agent", "agent", name, "chain", chain)

	start := time.Now()
	agent, err := r.construct(ctx, d)
	if err != nil {
		cerr := &DependencyConstructionError{Agent: name, Chain: chain, Err: err}
		if _, terr := r.store.transition(name, StateFailed, func(cur *descriptor) {
			cur.err = cerr
		}); terr != nil {
			return nil, terr
		}
		r.recordTransition(name, StateFailed, map[string]any{
			"error": err.Error(),
			"chain": chain,
		})
		r.log.Errorw("Agent construction failed", "agent", name, "chain", chain, "error", err)
		return nil, cerr
	}

	now := r.clock().UTC()
	if _, err := r.store.transition(name, StateConnected, func(cur *descriptor) {
		cur.instance = agent
		cur.connectedAt = now
	}); err != nil {
		return nil, err
	}
	r.remember(name)
	r.recordTransition(name, StateConnected, map[string]any{
		"dependencies": d.dependencies,
		"methods":      agent.Methods().Names(),
	})
	r.log.Infow("Agent connected", "agent", name, "duration", time.Since(start))

	return agent, nil
}

// construct runs the factory and the optional connect step, converting panics to errors
func (r *Registry) construct(ctx context.Context, d descriptor) (agent Agent, err error) {
	defer func() {
		if p := recover(); p != nil {
			agent = nil
			err = errors.Wrapf(errors.ErrInternal, "panic during construction: %v", p)
		}
	}()

	agent, err = d.factory(ctx, d.config, r)
	if err != nil {
		return nil, errors.Wrap(err, "factory")
	}
	if agent == nil {
		return nil, errors.Wrap(errors.ErrInternal, "factory returned nil agent")
	}
	if c, ok := agent.(Connector); ok {
		if err := c.Connect(ctx); err != nil {
			return nil, errors.Wrap(err, "connect")
		}
	}
	return agent, nil
}
