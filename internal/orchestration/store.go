package orchestration

import (
	"maps"
	"slices"
	"sync"
	"time"

	"bizagents/pkg/errors"
)

type descriptor struct {
	name         string
	factory      Factory
	factoryID    uintptr
	dependencies []string
	config       Config

	state    State
	instance Agent
	err      error // construction error while Failed

	registeredAt time.Time
	connectedAt  time.Time
}

// Descriptor is a read-only snapshot of a registered agent
type Descriptor struct {
	Name         string    `json:"name"`
	Dependencies []string  `json:"dependencies"`
	State        State     `json:"state"`
	Methods      []string  `json:"methods,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	ConnectedAt  time.Time `json:"connected_at,omitzero"`
}

func (d *descriptor) snapshot() Descriptor {
	out := Descriptor{
		Name:         d.name,
		Dependencies: slices.Clone(d.dependencies),
		State:        d.state,
		RegisteredAt: d.registeredAt,
		ConnectedAt:  d.connectedAt,
	}
	if d.instance != nil {
		out.Methods = d.instance.Methods().Names()
	}
	if d.err != nil {
		out.LastError = d.err.Error()
	}
	return out
}

// descriptorStore holds descriptors by name. It has no behavior beyond
// storage, lookup and guarded state changes.
type descriptorStore struct {
	mu    sync.RWMutex
	items map[string]*descriptor
}

func newDescriptorStore() *descriptorStore {
	return &descriptorStore{items: make(map[string]*descriptor)}
}

// get returns a copy so callers never read fields while they change
func (s *descriptorStore) get(name string) (descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.items[name]
	if !ok {
		return descriptor{}, false
	}
	return *d, true
}

func (s *descriptorStore) insert(d *descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[d.name] = d
}

func (s *descriptorStore) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, name)
}

// transition moves name to state `to` and applies mutate in the same critical
// section. It returns the previous state.
func (s *descriptorStore) transition(name string, to State, mutate func(*descriptor)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.items[name]
	if !ok {
		return StateUnregistered, errors.Wrapf(errors.ErrNotFound, "agent %q", name)
	}
	from := d.state
	if err := checkTransition(from, to); err != nil {
		return from, errors.Wrapf(err, "agent %q", name)
	}
	d.state = to
	if mutate != nil {
		mutate(d)
	}
	return from, nil
}

func (s *descriptorStore) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.items))
}

func (s *descriptorStore) countByState() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, d := range s.items {
		counts[d.state.String()]++
	}
	return counts
}
