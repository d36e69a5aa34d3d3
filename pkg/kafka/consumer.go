// Package kafka carries the engine's queued work over segmentio/kafka-go:
// ingest requests, index.complete notifications and analytics events. Values
// are JSON; the request id that produced a message travels in a header so a
// queued ingest logs under the same id as the HTTP call that enqueued it.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/resilience"
)

// ErrPoison marks a message that can never be processed. The consumer
// commits past it instead of retrying.
var ErrPoison = errors.New("poison message")

const requestIDHeader = "request-id"

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

type consumerOptions struct {
	group string
	start int64
	retry resilience.RetryConfig
}

type ConsumerOption func(*consumerOptions)

// WithGroup overrides the configured consumer group. Broadcast topics use a
// group per replica so every replica sees every message.
func WithGroup(group string) ConsumerOption {
	return func(o *consumerOptions) {
		if group != "" {
			o.group = group
		}
	}
}

// FromEarliest makes a group with no committed offset start at the oldest
// retained message instead of the newest. Work queues want this; replica
// notifications do not, since a new replica rebuilds from the store anyway.
func FromEarliest() ConsumerOption {
	return func(o *consumerOptions) { o.start = kafka.FirstOffset }
}

func WithRetry(r resilience.RetryConfig) ConsumerOption {
	return func(o *consumerOptions) { o.retry = r }
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	o := consumerOptions{
		group: cfg.ConsumerGroup,
		start: kafka.LastOffset,
		retry: resilience.RetryConfig{MaxAttempts: 5},
	}
	for _, opt := range opts {
		opt(&o)
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     o.group,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: o.start,
	})
	return &Consumer{
		reader:  r,
		handler: handler,
		retry:   o.retry,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", o.group),
	}
}

// Start consumes until ctx is cancelled. Poison and validation failures are
// logged and committed. Anything else is retried; once the retry budget is
// spent Start returns without committing so the group redelivers the
// message after a restart.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	fetchBackoff := 100 * time.Millisecond
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("fetch failed", "error", err, "backoff", fetchBackoff)
			select {
			case <-time.After(fetchBackoff):
			case <-ctx.Done():
				return nil
			}
			fetchBackoff = min(fetchBackoff*2, 5*time.Second)
			continue
		}
		fetchBackoff = 100 * time.Millisecond

		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping mid-message", "offset", msg.Offset)
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("commit failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// process returns nil for messages that should be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	if id := headerValue(msg.Headers, requestIDHeader); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}
	log := logger.FromContext(ctx).With("partition", msg.Partition, "offset", msg.Offset)
	log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

	err := resilience.Retry(ctx, "kafka-handler", c.retry, func() error {
		err := c.handler(ctx, msg.Key, msg.Value)
		if errors.Is(err, ErrPoison) {
			return resilience.Permanent(err)
		}
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPoison), apperrors.IsValidation(err):
		log.Warn("skipping unprocessable message", "error", err)
		return nil
	}
	return fmt.Errorf("processing partition %d offset %d: %w", msg.Partition, msg.Offset, err)
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// DecodeJSON unmarshals a message value into T. Undecodable payloads are
// reported as ErrPoison.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: decoding kafka message: %v", ErrPoison, err)
	}
	return result, nil
}
