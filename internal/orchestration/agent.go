package orchestration

import (
	"context"
	"maps"
	"slices"
	"time"
)

// Payload is the structured input or output of an agent method.
// The engine routes payloads without interpreting them.
type Payload map[string]any

// Clone returns a shallow copy
func (p Payload) Clone() Payload {
	return maps.Clone(p)
}

// Method is one callable capability of an agent
type Method struct {
	Handler func(ctx context.Context, input Payload) (Payload, error)

	// Validate rejects structurally unacceptable input before Handler runs. Optional.
	Validate func(input Payload) error

	// Timeout is the method's default step timeout. Zero falls back to the engine default.
	Timeout time.Duration
}

// MethodSet maps method names to capabilities, built once when the agent is constructed
type MethodSet map[string]Method

// Names returns the sorted method names
func (m MethodSet) Names() []string {
	return slices.Sorted(maps.Keys(m))
}

// Agent is a constructed unit of business logic
type Agent interface {
	Methods() MethodSet
}

// Connector is implemented by agents that need a post-construction connect step
type Connector interface {
	Connect(ctx context.Context) error
}

// Disconnector is implemented by agents holding resources that must be released on deregistration
type Disconnector interface {
	Disconnect(ctx context.Context) error
}

// Config is the opaque configuration payload handed to a factory
type Config map[string]any

// String returns cfg[key] or def
func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Factory constructs an agent. Dependencies declared at registration are
// Connected when the factory runs and can be fetched with reg.Lookup.
type Factory func(ctx context.Context, cfg Config, reg *Registry) (Agent, error)

// StaticAgent is an Agent backed by a fixed method set
type StaticAgent MethodSet

// Methods implements Agent
func (a StaticAgent) Methods() MethodSet {
	return MethodSet(a)
}

type priorOutputsKey struct{}

func withPriorOutputs(ctx context.Context, outputs []Payload) context.Context {
	return context.WithValue(ctx, priorOutputsKey{}, outputs)
}

// PriorOutputs returns the outputs of the successful steps that ran before
// the current one in the same workflow run, oldest first.
func PriorOutputs(ctx context.Context) []Payload {
	outputs, _ := ctx.Value(priorOutputsKey{}).([]Payload)
	return outputs
}
