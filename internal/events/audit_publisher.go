package events

import (
	"context"

	"bizagents/internal/adapters/kafka"
	"bizagents/internal/audit"
	"bizagents/internal/metrics"
)

// BinaryPublisher is the producer surface the audit stream needs
type BinaryPublisher interface {
	PublishBinary(ctx context.Context, topic, key string, data []byte, contentType string) error
}

// AuditPublisher is an audit.Sink streaming every entry to Kafka as a
// protobuf envelope of type "audit.<kind>", keyed by subject so one agent's
// history stays ordered within a partition.
type AuditPublisher struct {
	producer BinaryPublisher
	topic    string
	source   string
}

var _ audit.Sink = (*AuditPublisher)(nil)

// NewAuditPublisher creates the sink. source identifies this process in envelopes.
func NewAuditPublisher(producer BinaryPublisher, source string) *AuditPublisher {
	return &AuditPublisher{
		producer: producer,
		topic:    kafka.TopicAuditEvents,
		source:   source,
	}
}

// Name implements audit.Sink
func (p *AuditPublisher) Name() string {
	return "kafka"
}

// Write implements audit.Sink
func (p *AuditPublisher) Write(ctx context.Context, entry audit.Entry) error {
	data, err := EncodeEnvelope("audit."+entry.Kind.String(), p.source, entry.Timestamp, entry)
	if err != nil {
		return err
	}

	err = p.producer.PublishBinary(ctx, p.topic, entry.Subject, data, kafka.ContentTypeProtobuf)
	metrics.RecordKafkaMessage(p.topic, "out", err)
	return err
}
