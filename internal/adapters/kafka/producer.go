package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// Producer handles Kafka message publishing
type Producer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewProducer creates a new Kafka producer for the given topic
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{
		writer: writer,
		log:    logger.Get().With("component", "kafka_producer", "topic", topic),
	}
}

// Publish marshals the payload as JSON and writes it keyed by key.
// Using the message key keeps all events for one contact on one partition,
// which preserves per-contact ordering.
func (p *Producer) Publish(ctx context.Context, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal kafka payload")
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", p.writer.Topic)
	}

	return nil
}

// Close closes the underlying writer
func (p *Producer) Close() error {
	return p.writer.Close()
}
