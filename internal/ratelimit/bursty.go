package ratelimit

import (
	"context"
	"errors"
)

// keyAdjuster adjusts the counters of a key outside of a check.
type keyAdjuster interface {
	Penalty(ctx context.Context, key string, points int64) error
	Reward(ctx context.Context, key string, points int64) error
}

type resetter interface {
	Reset(ctx context.Context, key string) error
}

// BurstyLimiter lets a secondary pool absorb overflow once the primary quota
// is exhausted. Callers only ever see the primary quota.
type BurstyLimiter struct {
	primary Checker
	burst   Checker
}

// NewBurstyLimiter composes a primary limiter with a burst pool.
func NewBurstyLimiter(primary, burst Checker) *BurstyLimiter {
	return &BurstyLimiter{
		primary: primary,
		burst:   burst,
	}
}

// Check evaluates the primary limiter and, only when it denies, the burst pool.
// A request admitted by the burst pool is reported with the primary's info.
func (b *BurstyLimiter) Check(ctx context.Context, key string, cost int64) (*Decision, error) {
	primary, err := b.primary.Check(ctx, key, cost)
	if err != nil {
		return nil, err
	}

	if primary.Allowed {
		return primary, nil
	}

	burst, err := b.burst.Check(ctx, key, cost)
	if err != nil {
		return nil, err
	}

	if !burst.Allowed {
		return primary, nil
	}

	admitted := *primary
	admitted.Allowed = true

	return &admitted, nil
}

// Penalty consumes points from the primary quota.
func (b *BurstyLimiter) Penalty(ctx context.Context, key string, points int64) error {
	a, ok := b.primary.(keyAdjuster)
	if !ok {
		return ErrAdjustUnsupported
	}

	return a.Penalty(ctx, key, points)
}

// Reward gives points back to the primary quota.
func (b *BurstyLimiter) Reward(ctx context.Context, key string, points int64) error {
	a, ok := b.primary.(keyAdjuster)
	if !ok {
		return ErrRewardUnsupported
	}

	return a.Reward(ctx, key, points)
}

// Reset clears key in the primary quota and in the burst pool.
func (b *BurstyLimiter) Reset(ctx context.Context, key string) error {
	var errs []error

	for _, c := range []Checker{b.primary, b.burst} {
		if r, ok := c.(resetter); ok {
			errs = append(errs, r.Reset(ctx, key))
		}
	}

	return errors.Join(errs...)
}
