package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.uber.org/zap"
)

const routerCloseTimeout = 10 * time.Second

var errRouterStopped = errors.New("router stopped before it was running")

// Registration is a consumer a ConsumerGroup routes messages to.
type Registration interface {
	Name() string
	Topic() string
	Handle(msg *message.Message) error
}

// RetryConfig bounds how a failing message is retried before it is nacked.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig retries three times, backing off from 100ms.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:      3,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// ConsumerGroup runs several consumers over one subscriber. Messages pass
// through a watermill router that turns handler panics into errors and
// retries errors with exponential backoff.
type ConsumerGroup struct {
	router     *message.Router
	subscriber message.Subscriber
	logger     *zap.Logger
	names      []string
}

// NewConsumerGroup creates a new consumer group.
func NewConsumerGroup(subscriber message.Subscriber, retry RetryConfig, logger *zap.Logger) (*ConsumerGroup, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := NewZapLogger(logger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: routerCloseTimeout}, adapter)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      retry.MaxRetries,
			InitialInterval: retry.InitialInterval,
			MaxInterval:     retry.MaxInterval,
			Multiplier:      2,
			Logger:          adapter,
		}.Middleware,
	)

	return &ConsumerGroup{
		router:     router,
		subscriber: subscriber,
		logger:     logger,
	}, nil
}

// Add registers a consumer to the group. It must be called before Start.
func (g *ConsumerGroup) Add(consumer Registration) {
	g.router.AddNoPublisherHandler(consumer.Name(), consumer.Topic(), g.subscriber, consumer.Handle)
	g.names = append(g.names, consumer.Name())
}

// Start runs the router in the background and returns once every consumer
// is subscribed. Cancelling ctx stops the group.
func (g *ConsumerGroup) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- g.router.Run(ctx)
	}()

	select {
	case <-g.router.Running():
		g.logger.Info("consumer group started", zap.Strings("consumers", g.names))

		return nil
	case err := <-errCh:
		if err == nil {
			err = errRouterStopped
		}

		return fmt.Errorf("start consumer group: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the router, then closes the subscriber. All errors are returned.
func (g *ConsumerGroup) Shutdown() error {
	g.logger.Info("shutting down consumer group")

	return errors.Join(g.router.Close(), g.subscriber.Close())
}
