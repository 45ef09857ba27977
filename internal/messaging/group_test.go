package messaging_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/serroba/quotaguard/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fastRetry = messaging.RetryConfig{
	MaxRetries:      2,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

type mockSubscriber struct {
	msgChan      chan *message.Message
	subscribeErr error
	closeErr     error
	mu           sync.Mutex
	closed       bool
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{
		msgChan: make(chan *message.Message, 10),
	}
}

func (m *mockSubscriber) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}

	return m.msgChan, nil
}

func (m *mockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.msgChan)
	}

	return m.closeErr
}

func (m *mockSubscriber) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func newGroup(t *testing.T, sub message.Subscriber) *messaging.ConsumerGroup {
	t.Helper()

	group, err := messaging.NewConsumerGroup(sub, fastRetry, zap.NewNop())
	require.NoError(t, err)

	return group
}

func TestConsumerGroup_Start(t *testing.T) {
	t.Run("routes each topic to its consumer", func(t *testing.T) {
		pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
		group := newGroup(t, pubSub)

		var first, second atomic.Int64

		group.Add(messaging.NewConsumer("first", "topic.first",
			func(context.Context, *testEvent) error { first.Add(1); return nil }, nil))
		group.Add(messaging.NewConsumer("second", "topic.second",
			func(context.Context, *testEvent) error { second.Add(1); return nil }, nil))

		require.NoError(t, group.Start(context.Background()))
		t.Cleanup(func() { _ = group.Shutdown() })

		publishFirst := messaging.NewPublishFunc[testEvent](pubSub, "topic.first")
		publishSecond := messaging.NewPublishFunc[testEvent](pubSub, "topic.second")

		require.NoError(t, publishFirst(context.Background(), &testEvent{ID: "1"}))
		require.NoError(t, publishFirst(context.Background(), &testEvent{ID: "2"}))
		require.NoError(t, publishSecond(context.Background(), &testEvent{ID: "3"}))

		require.Eventually(t, func() bool {
			return first.Load() == 2 && second.Load() == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("returns error when subscribe fails", func(t *testing.T) {
		group := newGroup(t, &mockSubscriber{subscribeErr: errors.New("subscribe error")})
		group.Add(messaging.NewConsumer("test", "test.topic",
			func(context.Context, *testEvent) error { return nil }, nil))

		err := group.Start(context.Background())

		assert.ErrorContains(t, err, "subscribe error")
	})
}

func TestConsumerGroup_Retry(t *testing.T) {
	t.Run("retries until the handler succeeds", func(t *testing.T) {
		sub := newMockSubscriber()
		group := newGroup(t, sub)

		var attempts atomic.Int64

		group.Add(messaging.NewConsumer("test", "test.topic",
			func(context.Context, *testEvent) error {
				if attempts.Add(1) < 3 {
					return errors.New("temporary")
				}

				return nil
			}, nil))

		require.NoError(t, group.Start(context.Background()))
		t.Cleanup(func() { _ = group.Shutdown() })

		msg := newTestMessage(t, &testEvent{ID: "1"})
		sub.msgChan <- msg

		select {
		case <-msg.Acked():
			assert.Equal(t, int64(3), attempts.Load())
		case <-msg.Nacked():
			t.Fatal("message was nacked")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for ack")
		}
	})

	t.Run("nacks once retries run out", func(t *testing.T) {
		sub := newMockSubscriber()
		group := newGroup(t, sub)

		group.Add(messaging.NewConsumer("test", "test.topic",
			func(context.Context, *testEvent) error { return errors.New("permanent") }, nil))

		require.NoError(t, group.Start(context.Background()))
		t.Cleanup(func() { _ = group.Shutdown() })

		msg := newTestMessage(t, &testEvent{ID: "1"})
		sub.msgChan <- msg

		select {
		case <-msg.Nacked():
		case <-msg.Acked():
			t.Fatal("message should have been nacked")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for nack")
		}
	})

	t.Run("recovers from a panicking handler", func(t *testing.T) {
		sub := newMockSubscriber()
		group := newGroup(t, sub)

		group.Add(messaging.NewConsumer("test", "test.topic",
			func(context.Context, *testEvent) error { panic("boom") }, nil))

		require.NoError(t, group.Start(context.Background()))
		t.Cleanup(func() { _ = group.Shutdown() })

		msg := newTestMessage(t, &testEvent{ID: "1"})
		sub.msgChan <- msg

		select {
		case <-msg.Nacked():
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for nack")
		}
	})
}

func TestConsumerGroup_Shutdown(t *testing.T) {
	t.Run("closes the subscriber", func(t *testing.T) {
		sub := newMockSubscriber()
		group := newGroup(t, sub)
		group.Add(messaging.NewConsumer("test", "test.topic",
			func(context.Context, *testEvent) error { return nil }, nil))

		require.NoError(t, group.Start(context.Background()))
		require.NoError(t, group.Shutdown())

		assert.True(t, sub.Closed())
	})

	t.Run("returns the subscriber error", func(t *testing.T) {
		sub := newMockSubscriber()
		sub.closeErr = errors.New("close error")

		err := newGroup(t, sub).Shutdown()

		assert.ErrorContains(t, err, "close error")
	})
}
