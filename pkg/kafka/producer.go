package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/config"
)

// Event is one verdict batch bound for the verdicts topic. Key is the run
// id; the hash balancer maps a run to one partition, so a run's batches
// arrive in the order they were judged.
type Event struct {
	Key   string
	Value any
}

// Producer writes verdict batches to a single topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "verdict-producer", "topic", topic),
	}
}

// encodeEvent builds the wire message. An empty run id would scatter a run
// across partitions, so it is refused.
func encodeEvent(event Event) (kafka.Message, error) {
	if event.Key == "" {
		return kafka.Message{}, fmt.Errorf("verdict event has no run id")
	}
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding verdicts for run %s: %w", event.Key, err)
	}
	return kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}

// Publish writes one batch and waits for every in-sync replica to ack it.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("verdict publish failed", "run_id", event.Key, "error", err)
		return fmt.Errorf("publishing verdicts for run %s: %w", event.Key, err)
	}
	p.logger.Debug("verdicts published",
		"run_id", event.Key,
		"bytes", len(msg.Value),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
