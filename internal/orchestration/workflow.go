package orchestration

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowStep invokes one method on one agent
type WorkflowStep struct {
	AgentName       string        `json:"agent"`
	MethodName      string        `json:"method"`
	Input           Payload       `json:"input,omitempty"`
	ContinueOnError bool          `json:"continue_on_error,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`
}

// UnmarshalJSON accepts the timeout either as a Go duration string ("30s")
// or as nanoseconds
func (s *WorkflowStep) UnmarshalJSON(data []byte) error {
	type plain WorkflowStep
	var raw struct {
		plain
		Timeout json.RawMessage `json:"timeout,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = WorkflowStep(raw.plain)
	s.Timeout = 0

	if len(raw.Timeout) == 0 || string(raw.Timeout) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw.Timeout, &text); err == nil {
		d, err := time.ParseDuration(text)
		if err != nil {
			return &ValidationError{Field: "timeout", Message: err.Error()}
		}
		s.Timeout = d
		return nil
	}
	var nanos int64
	if err := json.Unmarshal(raw.Timeout, &nanos); err != nil {
		return &ValidationError{Field: "timeout", Message: "must be a duration string or nanoseconds"}
	}
	s.Timeout = time.Duration(nanos)
	return nil
}

// WorkflowDefinition is a named, ordered list of steps
type WorkflowDefinition struct {
	Name  string         `json:"name"`
	Steps []WorkflowStep `json:"steps"`
}

// Validate checks the definition before any slot is taken
func (w WorkflowDefinition) Validate() error {
	if w.Name == "" {
		return &ValidationError{Field: "name", Message: "workflow name is required"}
	}
	if len(w.Steps) == 0 {
		return &ValidationError{Field: "steps", Message: "workflow needs at least one step"}
	}
	for i, s := range w.Steps {
		if s.AgentName == "" {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].agent", i), Message: "agent name is required"}
		}
		if s.MethodName == "" {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].method", i), Message: "method name is required"}
		}
		if s.Timeout < 0 {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].timeout", i), Message: "timeout must not be negative"}
		}
	}
	return nil
}

// Status is the aggregated outcome of a run
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusError          Status = "error"
)

// StepOutcome is either an Output or an Error
type StepOutcome struct {
	Index      int           `json:"index"`
	AgentName  string        `json:"agent"`
	MethodName string        `json:"method"`
	Output     Payload       `json:"output,omitempty"`
	Error      *StepError    `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`

	began time.Time
}

// Failed reports whether the step produced an error record
func (o StepOutcome) Failed() bool {
	return o.Error != nil
}

// WorkflowResult is handed to the caller when Execute returns.
// len(StepOutcomes) is shorter than the definition's steps only when a
// non-continuable step failed.
type WorkflowResult struct {
	RunID        uuid.UUID     `json:"run_id"`
	Workflow     string        `json:"workflow"`
	Status       Status        `json:"status"`
	StepOutcomes []StepOutcome `json:"step_outcomes"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// Duration of the run
func (r *WorkflowResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Failures returns the error records, in step order
func (r *WorkflowResult) Failures() []*StepError {
	var out []*StepError
	for _, o := range r.StepOutcomes {
		if o.Error != nil {
			out = append(out, o.Error)
		}
	}
	return out
}

// computeStatus: error when execution stopped early, partial_success when a
// continuable step failed, success otherwise.
func computeStatus(outcomes []StepOutcome, stoppedEarly bool) Status {
	if stoppedEarly {
		return StatusError
	}
	for _, o := range outcomes {
		if o.Failed() {
			return StatusPartialSuccess
		}
	}
	return StatusSuccess
}
