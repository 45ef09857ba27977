package analytics

import "time"

// TopicDecision is the topic rate limit decisions are published to.
const TopicDecision = "ratelimit.decision"

// DecisionEvent records a single rate limit decision.
type DecisionEvent struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instanceId"`
	Key        string    `json:"key"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason"`
	Limit      int64     `json:"limit"`
	Remaining  int64     `json:"remaining"`
	Reset      time.Time `json:"reset"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventID lets the messaging layer reuse the event ID as the message UUID.
func (e *DecisionEvent) EventID() string {
	return e.ID
}
