package analytics

import (
	"context"

	"github.com/serroba/quotaguard/internal/messaging"
	"go.uber.org/zap"
)

// DecisionConsumerName identifies the decision consumer within a consumer group.
const DecisionConsumerName = "analytics.save-decision"

// NewDecisionConsumer creates a consumer that persists decision events to store.
func NewDecisionConsumer(store Store, logger *zap.Logger) *messaging.Consumer[DecisionEvent] {
	return messaging.NewConsumer(DecisionConsumerName, TopicDecision,
		func(ctx context.Context, event *DecisionEvent) error {
			return store.SaveDecision(ctx, event)
		},
		logger,
	)
}
