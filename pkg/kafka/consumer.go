// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON, while the
// consumer decodes them via a pluggable MessageHandler callback.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/resilience"
)

// MessageHandler is a callback invoked for each Kafka message. Returning a
// resilience.Permanent error skips the message without retrying.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  *kafka.Reader
	brokers []string
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})

	return &Consumer{
		reader:  r,
		brokers: cfg.Brokers,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		retry:   resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond},
	}
}

// Start fetches and processes messages until ctx is cancelled. A message is
// committed once its handler succeeds or has failed every retry, so one bad
// message cannot stall the partition.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		err = resilience.Retry(ctx, "handle-message", c.retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("dropping message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// HealthCheck dials the first reachable broker.
func (c *Consumer) HealthCheck() health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		var lastErr error
		for _, addr := range c.brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err == nil {
				conn.Close()
				return health.ComponentHealth{Status: health.StatusUp}
			}
			lastErr = err
		}
		msg := "no brokers configured"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		return health.ComponentHealth{Status: health.StatusDown, Message: msg}
	}
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
