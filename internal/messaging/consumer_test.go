package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/serroba/quotaguard/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ctxKey struct{}

func newTestMessage(t *testing.T, event any) *message.Message {
	t.Helper()

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	return message.NewMessage(uuid.NewString(), payload)
}

func TestConsumer(t *testing.T) {
	t.Run("reports its name and topic", func(t *testing.T) {
		consumer := messaging.NewConsumer("test.consumer", "test.topic",
			func(context.Context, *testEvent) error { return nil }, nil)

		assert.Equal(t, "test.consumer", consumer.Name())
		assert.Equal(t, "test.topic", consumer.Topic())
	})
}

func TestConsumer_Handle(t *testing.T) {
	t.Run("decodes the event and passes the message context", func(t *testing.T) {
		var (
			received *testEvent
			value    any
		)

		consumer := messaging.NewConsumer("test.consumer", "test.topic",
			func(ctx context.Context, event *testEvent) error {
				received = event
				value = ctx.Value(ctxKey{})

				return nil
			},
			zap.NewNop(),
		)

		msg := newTestMessage(t, &testEvent{ID: "123", Name: "test"})
		msg.SetContext(context.WithValue(context.Background(), ctxKey{}, "from-message"))

		require.NoError(t, consumer.Handle(msg))
		require.NotNil(t, received)
		assert.Equal(t, "123", received.ID)
		assert.Equal(t, "test", received.Name)
		assert.Equal(t, "from-message", value)
	})

	t.Run("drops malformed payloads", func(t *testing.T) {
		called := false

		consumer := messaging.NewConsumer("test.consumer", "test.topic",
			func(context.Context, *testEvent) error {
				called = true

				return nil
			},
			zap.NewNop(),
		)

		err := consumer.Handle(message.NewMessage(uuid.NewString(), []byte("invalid json")))

		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("returns handler errors", func(t *testing.T) {
		handlerErr := errors.New("handler error")

		consumer := messaging.NewConsumer("test.consumer", "test.topic",
			func(context.Context, *testEvent) error { return handlerErr },
			zap.NewNop(),
		)

		err := consumer.Handle(newTestMessage(t, &testEvent{ID: "123"}))

		assert.ErrorIs(t, err, handlerErr)
	})
}
