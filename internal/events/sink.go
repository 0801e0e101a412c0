package events

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/wolfman30/homecare-visits/pkg/logging"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes outbox entries to a Kafka topic keyed by aggregate, so all
// events of one visit land on the same partition in order.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink builds a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Handle(ctx context.Context, entry OutboxEntry) error {
	msg := kafka.Message{
		Key:   []byte(entry.Aggregate),
		Value: entry.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(entry.Type)},
			{Key: "event_id", Value: []byte(entry.ID.String())},
		},
		Time: entry.CreatedAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// LogSink writes outbox entries to the structured log. Used when no broker is configured.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Handle(ctx context.Context, entry OutboxEntry) error {
	s.logger.Info("lifecycle event",
		"event_id", entry.ID,
		"type", entry.Type,
		"aggregate", entry.Aggregate,
		"payload", string(entry.Payload),
	)
	return nil
}
