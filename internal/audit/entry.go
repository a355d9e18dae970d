package audit

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an audit entry records
type Kind string

const (
	// Agent lifecycle
	KindRegistration    Kind = "registration"
	KindConnect         Kind = "connect"
	KindDisconnect      Kind = "disconnect"
	KindConstructFailed Kind = "construct_failed"
	KindCycleDetected   Kind = "cycle_detected"

	// Workflow execution
	KindWorkflowStart    Kind = "workflow_start"
	KindStepStart        Kind = "step_start"
	KindStepSuccess      Kind = "step_success"
	KindStepFailure      Kind = "step_failure"
	KindWorkflowComplete Kind = "workflow_complete"
)

// AllKinds lists every kind in the order they usually occur
var AllKinds = []Kind{
	KindRegistration,
	KindConnect,
	KindDisconnect,
	KindConstructFailed,
	KindCycleDetected,
	KindWorkflowStart,
	KindStepStart,
	KindStepSuccess,
	KindStepFailure,
	KindWorkflowComplete,
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return slices.Contains(AllKinds, k)
}

func (k Kind) String() string {
	return string(k)
}

// Entry is an immutable record of a lifecycle or execution event.
// Subject is the agent name for lifecycle events and step events,
// the workflow name for workflow_start / workflow_complete.
type Entry struct {
	ID        uuid.UUID      `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"kind"`
	Subject   string         `json:"subject"`
	Workflow  string         `json:"workflow,omitempty"`
	RunID     uuid.UUID      `json:"run_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// StepIndex returns the step index stored in Details, or -1
func (e Entry) StepIndex() int {
	switch v := e.Details["step_index"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return -1
}

func (e Entry) clone() Entry {
	e.Details = maps.Clone(e.Details)
	return e
}

// Filter selects entries in Query. Zero-valued fields match everything.
type Filter struct {
	Subject  string
	Workflow string
	RunID    uuid.UUID
	Kinds    []Kind
	Since    time.Time // inclusive
	Until    time.Time // exclusive
}

// Match reports whether e passes the filter
func (f Filter) Match(e Entry) bool {
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.Workflow != "" && e.Workflow != f.Workflow {
		return false
	}
	if f.RunID != uuid.Nil && e.RunID != f.RunID {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}
