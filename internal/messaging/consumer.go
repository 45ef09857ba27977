package messaging

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Handler processes a single event. A returned error is retried by the
// group and the message is nacked once retries run out.
type Handler[T any] func(ctx context.Context, event *T) error

// Consumer decodes the messages of one topic into T and hands them to a Handler.
type Consumer[T any] struct {
	name    string
	topic   string
	handler Handler[T]
	logger  *zap.Logger
}

// NewConsumer creates a consumer for a specific event type. The name
// identifies it in logs and must be unique within a ConsumerGroup.
func NewConsumer[T any](name, topic string, handler Handler[T], logger *zap.Logger) *Consumer[T] {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Consumer[T]{
		name:    name,
		topic:   topic,
		handler: handler,
		logger:  logger.With(zap.String("consumer", name), zap.String("topic", topic)),
	}
}

func (c *Consumer[T]) Name() string {
	return c.name
}

// Topic returns the topic this consumer subscribes to.
func (c *Consumer[T]) Topic() string {
	return c.topic
}

// Handle decodes msg and runs the handler with the message context.
func (c *Consumer[T]) Handle(msg *message.Message) error {
	logger := c.logger.With(zap.String("messageId", msg.UUID))

	var event T
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// Redelivery cannot fix a malformed payload.
		logger.Error("dropping malformed event", zap.Error(err))

		return nil
	}

	if err := c.handler(msg.Context(), &event); err != nil {
		logger.Warn("failed to handle event", zap.Error(err))

		return err
	}

	logger.Debug("processed event")

	return nil
}
