package consumers

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"bizagents/internal/adapters/kafka"
	"bizagents/internal/events"
	"bizagents/internal/metrics"
	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// EventTypeWorkflowSubmitted is the envelope type of protobuf submissions
const EventTypeWorkflowSubmitted = "workflow.submitted"

// MessageSource is the consumer surface the workflow consumer reads from
type MessageSource interface {
	ReadMessageWithShutdownCheck(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// Submitter runs a workflow definition to completion
type Submitter interface {
	Submit(ctx context.Context, def orchestration.WorkflowDefinition) (*orchestration.WorkflowResult, error)
}

// WorkflowConsumer executes workflow definitions published to
// workflows.submitted. Each message runs in its own goroutine; at most
// maxInFlight runs are pending at once, after which reading pauses.
type WorkflowConsumer struct {
	source      MessageSource
	submitter   Submitter
	maxInFlight int
	log         *logger.Logger
}

// NewWorkflowConsumer creates the consumer. maxInFlight <= 0 defaults to 16.
func NewWorkflowConsumer(source MessageSource, submitter Submitter, maxInFlight int) *WorkflowConsumer {
	if maxInFlight <= 0 {
		maxInFlight = 16
	}
	return &WorkflowConsumer{
		source:      source,
		submitter:   submitter,
		maxInFlight: maxInFlight,
		log:         logger.Component("workflow_consumer"),
	}
}

// Start consumes until ctx is canceled, then waits for in-flight runs.
// Runs already started are not canceled by shutdown.
func (c *WorkflowConsumer) Start(ctx context.Context) error {
	c.log.Infow("Starting workflow consumer", "topic", kafka.TopicWorkflowsSubmitted, "max_in_flight", c.maxInFlight)

	defer func() {
		if err := c.source.Close(); err != nil {
			c.log.Errorw("Failed to close workflow consumer", "error", err)
		}
	}()

	var g errgroup.Group
	g.SetLimit(c.maxInFlight)
	runCtx := context.WithoutCancel(ctx)

	for {
		msg, err := c.source.ReadMessageWithShutdownCheck(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.Debugw("Failed to read workflow submission", "error", err)
			continue
		}

		def, err := decodeDefinition(msg)
		metrics.RecordKafkaMessage(kafka.TopicWorkflowsSubmitted, "in", err)
		if err != nil {
			c.log.Warnw("Dropping malformed workflow submission",
				"key", string(msg.Key),
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}

		g.Go(func() error {
			c.run(runCtx, def)
			return nil
		})
	}

	c.log.Info("Workflow consumer stopping, waiting for in-flight runs...")
	_ = g.Wait()
	c.log.Info("Workflow consumer stopped")
	return nil
}

func (c *WorkflowConsumer) run(ctx context.Context, def orchestration.WorkflowDefinition) {
	result, err := c.submitter.Submit(ctx, def)
	if err != nil {
		c.log.Warnw("Submitted workflow failed", "workflow", def.Name, "error", err)
		return
	}
	c.log.Infow("Submitted workflow finished",
		"workflow", def.Name,
		"run_id", result.RunID,
		"status", result.Status,
	)
}

// decodeDefinition accepts a JSON definition or a protobuf envelope whose
// payload is the definition, depending on the content-type header.
func decodeDefinition(msg kafkago.Message) (orchestration.WorkflowDefinition, error) {
	var def orchestration.WorkflowDefinition

	switch ct := kafka.ContentType(msg); ct {
	case kafka.ContentTypeJSON:
		if err := json.Unmarshal(msg.Value, &def); err != nil {
			return def, errors.Wrapf(errors.ErrInvalidInput, "decode workflow definition: %v", err)
		}
	case kafka.ContentTypeProtobuf:
		env, err := events.DecodeEnvelope(msg.Value)
		if err != nil {
			return def, err
		}
		if env.Type != EventTypeWorkflowSubmitted {
			return def, errors.Wrapf(errors.ErrInvalidInput, "unexpected event type %q", env.Type)
		}
		if err := env.DecodePayload(&def); err != nil {
			return def, err
		}
	default:
		return def, errors.Wrapf(errors.ErrInvalidInput, "unsupported content type %q", ct)
	}

	if err := def.Validate(); err != nil {
		return def, err
	}
	return def, nil
}
