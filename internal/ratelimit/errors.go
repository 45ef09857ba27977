package ratelimit

import "errors"

var (
	// ErrInvalidLimit is returned when the limit is not strictly positive.
	ErrInvalidLimit = errors.New("ratelimit: limit must be positive")

	// ErrInvalidWindow is returned when the window is not strictly positive.
	ErrInvalidWindow = errors.New("ratelimit: window must be positive")

	// ErrInvalidCost is returned when a request cost is negative.
	ErrInvalidCost = errors.New("ratelimit: cost must not be negative")

	// ErrNilStore is returned when no primary store is configured.
	ErrNilStore = errors.New("ratelimit: store is required")

	// ErrUnknownAlgorithm is returned for an algorithm name that is not supported.
	ErrUnknownAlgorithm = errors.New("ratelimit: unknown algorithm")

	// ErrRewardUnsupported is returned by Reward when the store cannot decrement.
	ErrRewardUnsupported = errors.New("ratelimit: store does not support decrement")

	// ErrAdjustUnsupported is returned when a composed limiter cannot adjust its primary quota.
	ErrAdjustUnsupported = errors.New("ratelimit: limiter does not support adjustments")
)
