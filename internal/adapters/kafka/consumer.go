package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"bizagents/pkg/logger"
)

// MessageReader is the subset of *kafka.Reader the consumer uses
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads messages from one topic within a consumer group
type Consumer struct {
	reader MessageReader
	log    *logger.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6 // 10MB
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		StartOffset: kafka.LastOffset,
	})

	c := NewConsumerWithReader(reader, cfg.Topic)
	c.log.Infow("Kafka consumer created", "brokers", cfg.Brokers, "group_id", cfg.GroupID)
	return c
}

// NewConsumerWithReader wraps an existing reader
func NewConsumerWithReader(reader MessageReader, topic string) *Consumer {
	return &Consumer{
		reader: reader,
		log:    logger.Component("kafka_consumer").With("topic", topic),
	}
}

// MessageHandler processes one message
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// Consume reads messages until ctx is done. Handler errors are logged and
// do not stop the loop.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.log.Info("Starting consumer...")

	for {
		msg, err := c.ReadMessageWithShutdownCheck(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Consumer stopped")
				return ctx.Err()
			}
			c.log.Errorf("Failed to read message: %v", err)
			continue
		}

		c.log.Debugf("Received message: key=%s", string(msg.Key))

		if err := handler(ctx, msg); err != nil {
			c.log.Errorf("Failed to handle message: %v", err)
		}
	}
}

// ReadMessageWithShutdownCheck checks ctx before blocking on the reader so
// a shutdown never waits on broker I/O.
func (c *Consumer) ReadMessageWithShutdownCheck(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	default:
	}

	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return kafka.Message{}, ctx.Err()
		}
		return kafka.Message{}, err
	}
	return msg, nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
