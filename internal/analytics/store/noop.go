package store

import (
	"context"

	"github.com/serroba/quotaguard/internal/analytics"
	"go.uber.org/zap"
)

// Noop is a no-op implementation of analytics.Store that logs events.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a new no-op analytics store.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

func (n *Noop) SaveDecision(_ context.Context, event *analytics.DecisionEvent) error {
	n.logger.Info("rate limit decision received",
		zap.String("id", event.ID),
		zap.String("instanceId", event.InstanceID),
		zap.String("key", event.Key),
		zap.Bool("allowed", event.Allowed),
		zap.String("reason", event.Reason),
		zap.Int64("remaining", event.Remaining),
		zap.Time("occurredAt", event.OccurredAt),
	)

	return nil
}
