package orchestration

import (
	"bizagents/internal/audit"
	"bizagents/pkg/errors"
)

// State is an agent's lifecycle state
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateConstructing
	StateConnected
	StateFailed
	StateDisconnected
)

var stateNames = map[State]string{
	StateUnregistered: "unregistered",
	StateRegistered:   "registered",
	StateConstructing: "constructing",
	StateConnected:    "connected",
	StateFailed:       "failed",
	StateDisconnected: "disconnected",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name in JSON and logs
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// allowed lists the legal transitions. Failed and Disconnected only leave
// through an explicit re-registration.
var allowed = map[State][]State{
	StateUnregistered: {StateRegistered},
	StateRegistered:   {StateConstructing},
	StateConstructing: {StateConnected, StateFailed},
	StateConnected:    {StateDisconnected},
	StateFailed:       {StateRegistered},
	StateDisconnected: {StateRegistered},
}

// checkTransition returns nil when from → to is legal or a self transition
func checkTransition(from, to State) error {
	if from == to {
		return nil
	}
	for _, s := range allowed[from] {
		if s == to {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrInvalidTransition, "%s -> %s", from, to)
}

// auditKind maps a target state to the entry it produces. Constructing is
// folded into the connect / construct_failed entry that always follows it.
func auditKind(to State) (audit.Kind, bool) {
	switch to {
	case StateRegistered:
		return audit.KindRegistration, true
	case StateConnected:
		return audit.KindConnect, true
	case StateFailed:
		return audit.KindConstructFailed, true
	case StateDisconnected:
		return audit.KindDisconnect, true
	}
	return "", false
}
