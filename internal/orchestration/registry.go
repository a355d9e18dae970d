package orchestration

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"bizagents/internal/audit"
	"bizagents/internal/metrics"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// Registry owns agent descriptors and the single live instance per name.
// Registration is done by bootstrap before Seal; everything else is safe
// for concurrent use by many workflows.
type Registry struct {
	store *descriptorStore
	audit *audit.Log
	log   *logger.Logger
	clock func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	orderMu sync.Mutex
	order   []string // connected agents, construction order

	sealed atomic.Bool
}

// NewRegistry creates an empty registry writing lifecycle events to auditLog
func NewRegistry(auditLog *audit.Log) *Registry {
	if auditLog == nil {
		auditLog = audit.NewLog()
	}
	return &Registry{
		store: newDescriptorStore(),
		audit: auditLog,
		log:   logger.Component("registry"),
		clock: time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// RegisterOption customizes a registration
type RegisterOption func(*descriptor)

// WithConfig sets the configuration payload handed to the factory
func WithConfig(cfg Config) RegisterOption {
	return func(d *descriptor) { d.config = cfg }
}

// Register adds an agent descriptor in state Registered.
//
// Re-registering a name with the same factory and dependencies is a no-op.
// A different factory is a DuplicateRegistrationError. A Failed or
// Disconnected agent may be registered again, which makes it resolvable.
// Factory identity is the function's code pointer. Only the same function
// value is guaranteed to match: two closures, even built by the same helper,
// may be compiled to distinct code and then count as different factories, so
// callers re-registering must keep and pass the original factory value.
func (r *Registry) Register(name string, factory Factory, dependencies []string, opts ...RegisterOption) error {
	if r.sealed.Load() {
		return errors.Wrapf(errors.ErrRegistrationClosed, "register %q", name)
	}
	if name == "" {
		return &ConfigurationError{Message: "agent name is empty"}
	}
	if factory == nil {
		return &ConfigurationError{Agent: name, Message: "factory is nil"}
	}

	deps := make([]string, 0, len(dependencies))
	for _, dep := range dependencies {
		switch {
		case dep == "":
			return &ConfigurationError{Agent: name, Message: "empty dependency name"}
		case dep == name:
			return &ConfigurationError{Agent: name, Message: "agent depends on itself"}
		case !slices.Contains(deps, dep):
			deps = append(deps, dep)
		}
	}

	d := &descriptor{
		name:         name,
		factory:      factory,
		factoryID:    reflect.ValueOf(factory).Pointer(),
		dependencies: deps,
		state:        StateRegistered,
		registeredAt: r.clock().UTC(),
	}
	for _, opt := range opts {
		opt(d)
	}

	mu := r.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	existing, ok := r.store.get(name)
	if !ok {
		r.store.insert(d)
		r.recordTransition(name, StateRegistered, map[string]any{"dependencies": deps})
		r.log.Debugw("Agent registered", "agent", name, "dependencies", deps)
		return nil
	}

	if existing.factoryID != d.factoryID {
		return &DuplicateRegistrationError{Agent: name}
	}

	switch existing.state {
	case StateFailed, StateDisconnected:
		_, err := r.store.transition(name, StateRegistered, func(cur *descriptor) {
			cur.factory = d.factory
			cur.dependencies = d.dependencies
			cur.config = d.config
			cur.instance = nil
			cur.err = nil
			cur.registeredAt = d.registeredAt
			cur.connectedAt = time.Time{}
		})
		if err != nil {
			return err
		}
		r.recordTransition(name, StateRegistered, map[string]any{
			"dependencies": deps,
			"previous":     existing.state.String(),
		})
		r.log.Infow("Agent re-registered", "agent", name, "previous_state", existing.state)
		return nil
	}

	if !slices.Equal(existing.dependencies, deps) {
		return &DuplicateRegistrationError{Agent: name}
	}
	return nil
}

// Seal closes registration. Bootstrap calls it once every agent is registered.
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

// Sealed reports whether registration is closed
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Lookup returns the instance of a Connected agent without resolving anything.
// Factories use it to fetch their declared dependencies.
func (r *Registry) Lookup(name string) (Agent, bool) {
	d, ok := r.store.get(name)
	if !ok || d.state != StateConnected {
		return nil, false
	}
	return d.instance, true
}

// State returns the lifecycle state of name; StateUnregistered for unknown names
func (r *Registry) State(name string) State {
	d, ok := r.store.get(name)
	if !ok {
		return StateUnregistered
	}
	return d.state
}

// Describe returns a snapshot of the descriptor
func (r *Registry) Describe(name string) (Descriptor, bool) {
	d, ok := r.store.get(name)
	if !ok {
		return Descriptor{}, false
	}
	return d.snapshot(), true
}

// ListAgents returns the registered agent names, sorted
func (r *Registry) ListAgents() []string {
	return r.store.names()
}

// CountByState returns the number of agents per state name
func (r *Registry) CountByState() map[string]int {
	return r.store.countByState()
}

// Deregister disconnects a Connected agent and drops its instance.
// Dependents are left untouched. Deregistering a Disconnected agent is a no-op.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	return r.deregister(ctx, name, "deregister")
}

func (r *Registry) deregister(ctx context.Context, name, reason string) error {
	mu := r.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	d, ok := r.store.get(name)
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "agent %q", name)
	}
	switch d.state {
	case StateDisconnected:
		return nil
	case StateConnected:
	default:
		return errors.Wrapf(errors.ErrInvalidTransition, "agent %q is %s, not connected", name, d.state)
	}

	var disconnectErr error
	if dc, ok := d.instance.(Disconnector); ok {
		disconnectErr = dc.Disconnect(ctx)
	}

	details := map[string]any{"reason": reason}
	if disconnectErr != nil {
		details["error"] = disconnectErr.Error()
	}
	if _, err := r.store.transition(name, StateDisconnected, func(cur *descriptor) {
		cur.instance = nil
	}); err != nil {
		return err
	}
	r.recordTransition(name, StateDisconnected, details)
	r.forget(name)

	if disconnectErr != nil {
		r.log.Warnw("Agent disconnect returned error", "agent", name, "error", disconnectErr)
		return errors.Wrapf(disconnectErr, "disconnect agent %q", name)
	}
	r.log.Infow("Agent disconnected", "agent", name, "reason", reason)
	return nil
}

// Shutdown disconnects every Connected agent, dependents before their dependencies
func (r *Registry) Shutdown(ctx context.Context) error {
	r.orderMu.Lock()
	order := slices.Clone(r.order)
	r.orderMu.Unlock()

	var errs errors.MultiError
	for _, name := range slices.Backward(order) {
		errs.Add(r.deregister(ctx, name, "shutdown"))
	}
	return errs.ToError()
}

// Remove drops a descriptor entirely, disconnecting it first when Connected.
// Meant for test teardown.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if r.State(name) == StateConnected {
		if err := r.deregister(ctx, name, "remove"); err != nil {
			return err
		}
	}

	mu := r.lockFor(name)
	mu.Lock()
	defer mu.Unlock()
	r.store.remove(name)
	return nil
}

// ConstructionOrder returns the Connected agents in the order they were connected
func (r *Registry) ConstructionOrder() []string {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()
	return slices.Clone(r.order)
}

func (r *Registry) lockFor(name string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	mu, ok := r.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[name] = mu
	}
	return mu
}

func (r *Registry) remember(name string) {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()
	r.order = append(r.order, name)
}

func (r *Registry) forget(name string) {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
}

// recordTransition emits the single audit entry for a state change
func (r *Registry) recordTransition(name string, to State, details map[string]any) {
	metrics.AgentTransitions.WithLabelValues(name, to.String()).Inc()
	kind, ok := auditKind(to)
	if !ok {
		return
	}
	r.audit.Record(audit.Entry{Kind: kind, Subject: name, Details: details})
}
