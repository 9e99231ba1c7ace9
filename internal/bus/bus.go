// Package bus wraps the Kafka client. Producers key messages by notification
// identifier so a notification's messages land on one partition; consumers
// use consumer groups with manual offset commits after handler success.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes messages to any topic through a single shared writer.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Kafka producer. The hash balancer keeps all messages
// with the same key on the same partition.
func NewProducer(brokers []string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish writes one message to the topic, keyed for partition affinity.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler processes one message. Returning nil commits the offset; returning
// an error keeps the consumer on the same message until it succeeds.
type Handler func(ctx context.Context, msg kafka.Message) error

// messageReader is the subset of kafka.Reader the consumer loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer is a consumer-group reader with manual offset commits.
type Consumer struct {
	reader     messageReader
	logger     *slog.Logger
	retryPause time.Duration
}

// NewConsumer creates a consumer-group reader for one topic.
func NewConsumer(brokers []string, groupID, topic string, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        groupID,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0, // synchronous commits only
		}),
		logger:     logger.With("group", groupID, "topic", topic),
		retryPause: time.Second,
	}
}

// Run fetches messages and feeds them to the handler until ctx is cancelled.
// Offsets are committed only after the handler returns nil. A handler error
// retries the same message in place after a short pause: FetchMessage advances
// the reader past the message regardless of commits, so fetching the next one
// would let its commit mark the failed offset consumed and lose the message.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		for {
			err := handler(ctx, msg)
			if err == nil {
				break
			}
			c.logger.Error("handler failed, retrying message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryPause):
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("failed to commit offset", "error", err)
		}
	}
}

// Close disconnects from the group, flushing pending commits.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
