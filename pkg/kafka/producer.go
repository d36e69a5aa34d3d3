package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/logger"
)

// Event is one message to publish. Key picks the partition, so events for
// the same file stay in order; Value is encoded as JSON.
type Event struct {
	Key   string
	Value any
}

type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func (p *Producer) Topic() string {
	return p.topic
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch encodes every event first and writes them in one call, so a
// value that fails to encode publishes nothing.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := encode(ctx, events)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("publish failed", "count", len(msgs), "error", err)
		return fmt.Errorf("publishing %d message(s) to %s: %w", len(msgs), p.topic, err)
	}
	p.logger.Debug("published", "count", len(msgs))
	return nil
}

func encode(ctx context.Context, events []Event) ([]kafka.Message, error) {
	var headers []kafka.Header
	if id := logger.RequestID(ctx); id != "" {
		headers = []kafka.Header{{Key: requestIDHeader, Value: []byte(id)}}
	}
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		value, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding event %q: %w", e.Key, err)
		}
		msgs[i] = kafka.Message{Key: []byte(e.Key), Value: value, Headers: headers}
	}
	return msgs, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
