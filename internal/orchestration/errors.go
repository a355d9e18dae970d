package orchestration

import (
	"fmt"
	"strings"

	"bizagents/pkg/errors"
)

// ConfigurationError reports a bad registration or a missing dependency declaration
type ConfigurationError struct {
	Agent   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Agent == "" {
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
	return fmt.Sprintf("configuration error for agent %q: %s", e.Agent, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return errors.ErrInvalidInput }

// DuplicateRegistrationError reports a name registered again with a different factory
type DuplicateRegistrationError struct {
	Agent string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("agent %q is already registered with a different factory", e.Agent)
}

func (e *DuplicateRegistrationError) Unwrap() error { return errors.ErrAlreadyExists }

// CycleDetectedError lists the dependency cycle, first element repeated at the end
type CycleDetectedError struct {
	Path []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleDetectedError) Unwrap() error { return errors.ErrCycleDetected }

// DependencyConstructionError reports a factory or connect failure.
// Chain is the resolution path from the requested agent down to Agent.
type DependencyConstructionError struct {
	Agent string
	Chain []string
	Err   error
}

func (e *DependencyConstructionError) Error() string {
	return fmt.Sprintf("construct agent %q (required by %s): %v",
		e.Agent, strings.Join(e.Chain, " -> "), e.Err)
}

func (e *DependencyConstructionError) Unwrap() []error {
	return []error{errors.ErrConstructionFailed, e.Err}
}

// ValidationError reports a malformed workflow definition or step input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return errors.ErrInvalidInput }

// ErrorKind classifies a step failure
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindRuntime    ErrorKind = "runtime"
	KindTimeout    ErrorKind = "timeout"
	KindCanceled   ErrorKind = "canceled"
	KindPanic      ErrorKind = "panic"
	KindDependency ErrorKind = "dependency"
)

// StepError is the structured error record of a failed step
type StepError struct {
	Message   string         `json:"message"`
	AgentName string         `json:"agent_name"`
	StepIndex int            `json:"step_index"`
	Kind      ErrorKind      `json:"kind"`
	Details   map[string]any `json:"details,omitempty"`

	cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) %s: %s", e.StepIndex, e.AgentName, e.Kind, e.Message)
}

// Unwrap returns the underlying agent error, if any
func (e *StepError) Unwrap() error { return e.cause }
