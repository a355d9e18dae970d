package kafka

import "github.com/segmentio/kafka-go"

// Topic definitions for engine event streaming
const (
	// Every audit entry, keyed by subject
	TopicAuditEvents = "audit.events"

	// Finished workflow results, keyed by run id
	TopicWorkflowsCompleted = "workflows.completed"

	// Workflow definitions submitted for asynchronous execution
	TopicWorkflowsSubmitted = "workflows.submitted"
)

// Message header carrying the payload encoding
const (
	HeaderContentType = "content-type"

	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// ContentType returns the content-type header of a message, JSON when absent
func ContentType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderContentType {
			return string(h.Value)
		}
	}
	return ContentTypeJSON
}
