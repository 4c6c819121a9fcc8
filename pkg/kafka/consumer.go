package kafka

import (
	"context"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler processes one message. Returning nil commits the offset.
type Handler func(ctx context.Context, msg kafkago.Message) error

// Consumer reads a single topic as part of a consumer group.
type Consumer struct {
	r      *kafkago.Reader
	logger *zap.Logger
}

// NewConsumer creates a Consumer with manual commits.
func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) *Consumer {
	return &Consumer{
		r: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:        brokers,
			GroupID:        groupID,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0,
		}),
		logger: logger,
	}
}

// Consume blocks until ctx is cancelled. A failed message is retried after a
// short pause and never committed until h succeeds.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		for attempt := 1; ; attempt++ {
			if err := h(ctx, msg); err == nil {
				break
			} else {
				c.logger.Warn("message handling failed",
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff(attempt)):
			}
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.r.Close()
}

func backoff(attempt int) time.Duration {
	const maxBackoff = 10 * time.Second
	if attempt > 6 {
		return maxBackoff
	}
	d := 200 * time.Millisecond << uint(attempt-1)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
