package ratelimit

import (
	"fmt"
	"time"
)

// Algorithm selects the admission policy.
type Algorithm string

const (
	// AlgorithmSliding weights the previous window by the time left in the current one.
	AlgorithmSliding Algorithm = "sliding"
	// AlgorithmFixed counts requests in a single aligned window.
	// Up to twice the limit can pass around a window boundary.
	AlgorithmFixed Algorithm = "fixed"
)

// ParseAlgorithm converts a configuration string to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmSliding, AlgorithmFixed:
		return Algorithm(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

// Reason explains how a decision was reached.
type Reason string

const (
	ReasonLimit      Reason = "limit"
	ReasonCacheBlock Reason = "cacheBlock"
	ReasonTimeout    Reason = "timeout"
	ReasonFallback   Reason = "fallback"
)

// Info is the externally visible summary of a decision.
type Info struct {
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// Outcome is what a window algorithm decides.
type Outcome struct {
	Allowed bool
	Info    Info
}

// Decision is the result of Check.
type Decision struct {
	Allowed bool
	Info    Info
	Reason  Reason

	// Pending is closed once background work attached to the decision has finished.
	Pending <-chan struct{}
}

func remaining(limit, used int64) int64 {
	return max(0, limit-used)
}
