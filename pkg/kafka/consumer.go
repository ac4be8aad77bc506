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

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// fetchBackoff is the pause after a failed fetch before trying again.
const fetchBackoff = time.Second

// MessageHandler is invoked for each message. A nil return commits the
// offset. An error is retried with backoff, and the partition does not
// advance until the handler succeeds or the consumer stops.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// messageReader is the subset of *kafka.Reader the consume loop needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader         messageReader
	logger         *slog.Logger
	handler        MessageHandler
	retry          resilience.RetryConfig
	handlerTimeout time.Duration
}

// NewConsumer creates a group consumer for topic. New groups start at the
// earliest offset so a fresh engine replays the full post catalogue.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, topic, handler, cfg.HandlerTimeout)
}

func newConsumer(r messageReader, topic string, handler MessageHandler, handlerTimeout time.Duration) *Consumer {
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     30 * time.Second,
		},
		handlerTimeout: handlerTimeout,
	}
}

// Start enters the consume loop until ctx is cancelled.
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
			select {
			case <-time.After(fetchBackoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		if !c.process(ctx, msg) {
			c.logger.Info("consumer stopping with message uncommitted",
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			return nil
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

// process runs the handler until it succeeds. It reports false only when
// ctx ends first, in which case the offset stays uncommitted and the group
// redelivers the message to the next consumer.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	for round := 1; ; round++ {
		err := resilience.Retry(ctx, "handle-message", c.retry, func(ctx context.Context) error {
			return resilience.WithTimeout(ctx, c.handlerTimeout, "handle-message", func(ctx context.Context) error {
				return c.handler(ctx, msg.Key, msg.Value)
			})
		})
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.Error("message still failing, partition held",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"round", round,
			"error", err,
		)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
