package container

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jaevor/go-nanoid"
	"github.com/samber/do"
	"github.com/serroba/quotaguard/internal/analytics"
	analyticsstore "github.com/serroba/quotaguard/internal/analytics/store"
	"github.com/serroba/quotaguard/internal/messaging"
	"go.uber.org/zap"
)

// InstanceID names the process on every event it publishes.
const InstanceID = "instance.id"

const (
	instanceIDLength  = 12
	memoryEventBuffer = 1024
)

// PublisherGroupPackage provides the decision event publisher.
func PublisherGroupPackage(i *do.Injector) {
	do.ProvideNamed(i, InstanceID, func(i *do.Injector) (string, error) {
		generate, err := nanoid.Standard(instanceIDLength)
		if err != nil {
			return "", err
		}

		return generate(), nil
	})

	// The in-process channel is both ends of the memory transport.
	do.Provide(i, func(i *do.Injector) (*gochannel.GoChannel, error) {
		logger := do.MustInvoke[*zap.Logger](i)

		return gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: memoryEventBuffer,
		}, messaging.NewZapLogger(logger)), nil
	})

	do.Provide(i, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		var publisher message.Publisher

		switch opts.Events {
		case BackendMemory:
			publisher = do.MustInvoke[*gochannel.GoChannel](i)
		case BackendRedis:
			p, err := redisstream.NewPublisher(redisstream.PublisherConfig{
				Client:     do.MustInvoke[*Redis](i).Client,
				Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
			}, messaging.NewZapLogger(logger))
			if err != nil {
				return nil, err
			}

			publisher = p
		default:
			return nil, fmt.Errorf("unknown events transport %q", opts.Events)
		}

		return messaging.NewPublisherGroup(publisher), nil
	})

	do.Provide(i, func(i *do.Injector) (*analytics.Publisher, error) {
		group := do.MustInvoke[*messaging.PublisherGroup](i)
		publish := messaging.NewPublishFunc[analytics.DecisionEvent](group.Publisher(), analytics.TopicDecision)

		return analytics.NewPublisher(publish, do.MustInvokeNamed[string](i, InstanceID)), nil
	})
}

// ConsumerGroupPackage provides the consumers that store decision events.
func ConsumerGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (analytics.Store, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		switch opts.AnalyticsStore {
		case "noop":
			return analyticsstore.NewNoop(logger), nil
		case BackendPostgres:
			s := analyticsstore.NewPostgres(do.MustInvoke[*Postgres](i).Pool)

			if err := s.Migrate(context.Background()); err != nil {
				return nil, fmt.Errorf("migrate analytics store: %w", err)
			}

			return s, nil
		default:
			return nil, fmt.Errorf("unknown analytics store %q", opts.AnalyticsStore)
		}
	})

	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		var subscriber message.Subscriber

		switch opts.Events {
		case BackendMemory:
			subscriber = do.MustInvoke[*gochannel.GoChannel](i)
		case BackendRedis:
			s, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        do.MustInvoke[*Redis](i).Client,
				Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
				ConsumerGroup: opts.ConsumerGroup,
			}, messaging.NewZapLogger(logger))
			if err != nil {
				return nil, err
			}

			subscriber = s
		default:
			return nil, fmt.Errorf("unknown events transport %q", opts.Events)
		}

		group, err := messaging.NewConsumerGroup(subscriber, messaging.DefaultRetryConfig, logger)
		if err != nil {
			return nil, err
		}

		group.Add(analytics.NewDecisionConsumer(do.MustInvoke[analytics.Store](i), logger))

		return group, nil
	})
}
