package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// MessageWriter is the subset of *kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON events, one writer per topic
type Producer struct {
	mu        sync.Mutex
	writers   map[string]MessageWriter
	newWriter func(topic string) MessageWriter
	log       *logger.Logger
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	Brokers      []string
	BatchTimeout time.Duration // Default: 50ms
}

// NewProducer creates a producer writing to the given brokers
func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	brokers := cfg.Brokers
	return NewProducerWithWriters(func(topic string) MessageWriter {
		return &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           cfg.BatchTimeout,
			AllowAutoTopicCreation: true,
		}
	})
}

// NewProducerWithWriters builds a producer over a custom writer constructor
func NewProducerWithWriters(newWriter func(topic string) MessageWriter) *Producer {
	return &Producer{
		writers:   make(map[string]MessageWriter),
		newWriter: newWriter,
		log:       logger.Component("kafka_producer"),
	}
}

func (p *Producer) writer(topic string) MessageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := p.newWriter(topic)
	p.writers[topic] = w
	return w
}

// Publish sends a JSON-encoded event to a topic. Messages with the same key
// land on the same partition.
func (p *Producer) Publish(ctx context.Context, topic string, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "marshal event for %s", topic)
	}
	return p.PublishBinary(ctx, topic, key, data, ContentTypeJSON)
}

// PublishBinary sends an already encoded payload tagged with its content type
func (p *Producer) PublishBinary(ctx context.Context, topic string, key string, data []byte, contentType string) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: HeaderContentType, Value: []byte(contentType)},
		},
	}

	if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(errors.ErrUnavailable, "publish to %s: %v", topic, err)
	}

	p.log.Debugf("Published to %s: key=%s size=%d", topic, key, len(data))
	return nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs errors.MultiError
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs.Add(errors.Wrapf(err, "close writer for %s", topic))
		}
	}
	clear(p.writers)
	return errs.ToError()
}
