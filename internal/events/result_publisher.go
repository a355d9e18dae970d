package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bizagents/internal/adapters/kafka"
	"bizagents/internal/metrics"
	"bizagents/internal/orchestration"
)

// JSONPublisher is the producer surface the result stream needs
type JSONPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// WorkflowCompletedEvent summarises a finished run for downstream consumers
type WorkflowCompletedEvent struct {
	RunID       uuid.UUID     `json:"run_id"`
	Workflow    string        `json:"workflow"`
	Status      string        `json:"status"`
	StepsRun    int           `json:"steps_run"`
	Failures    []StepFailure `json:"failures,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	DurationMs  int64         `json:"duration_ms"`
}

// StepFailure is one error record of the run
type StepFailure struct {
	StepIndex int    `json:"step_index"`
	Agent     string `json:"agent"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// NewWorkflowCompletedEvent builds the event from a result
func NewWorkflowCompletedEvent(r *orchestration.WorkflowResult) WorkflowCompletedEvent {
	ev := WorkflowCompletedEvent{
		RunID:       r.RunID,
		Workflow:    r.Workflow,
		Status:      string(r.Status),
		StepsRun:    len(r.StepOutcomes),
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		DurationMs:  r.Duration().Milliseconds(),
	}
	for _, f := range r.Failures() {
		ev.Failures = append(ev.Failures, StepFailure{
			StepIndex: f.StepIndex,
			Agent:     f.AgentName,
			Kind:      string(f.Kind),
			Message:   f.Message,
		})
	}
	return ev
}

// ResultPublisher publishes every finished run to workflows.completed
type ResultPublisher struct {
	producer JSONPublisher
	topic    string
}

var _ orchestration.ResultHandler = (*ResultPublisher)(nil)

// NewResultPublisher creates the publisher
func NewResultPublisher(producer JSONPublisher) *ResultPublisher {
	return &ResultPublisher{producer: producer, topic: kafka.TopicWorkflowsCompleted}
}

// HandleResult implements orchestration.ResultHandler
func (p *ResultPublisher) HandleResult(ctx context.Context, result *orchestration.WorkflowResult) error {
	err := p.producer.Publish(ctx, p.topic, result.RunID.String(), NewWorkflowCompletedEvent(result))
	metrics.RecordKafkaMessage(p.topic, "out", err)
	return err
}
