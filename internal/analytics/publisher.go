package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/quotaguard/internal/messaging"
	"github.com/serroba/quotaguard/internal/ratelimit"
)

// Publisher publishes rate limit decisions as events.
type Publisher struct {
	publish    messaging.Publish[DecisionEvent]
	instanceID string
	now        func() time.Time
}

// NewPublisher creates a publisher that stamps every event with instanceID.
func NewPublisher(publish messaging.Publish[DecisionEvent], instanceID string) *Publisher {
	return &Publisher{
		publish:    publish,
		instanceID: instanceID,
		now:        time.Now,
	}
}

// PublishDecision publishes the decision made for key.
func (p *Publisher) PublishDecision(ctx context.Context, key string, d ratelimit.Decision) error {
	return p.publish(ctx, &DecisionEvent{
		ID:         uuid.NewString(),
		InstanceID: p.instanceID,
		Key:        key,
		Allowed:    d.Allowed,
		Reason:     string(d.Reason),
		Limit:      d.Info.Limit,
		Remaining:  d.Info.Remaining,
		Reset:      d.Info.Reset,
		OccurredAt: p.now().UTC(),
	})
}

// Hook returns a decision hook that publishes every decision.
func (p *Publisher) Hook() ratelimit.DecisionHook {
	return p.PublishDecision
}
