package ratelimit

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Params are the inputs shared by both window algorithms.
type Params struct {
	Store  Store
	Key    string
	Limit  int64
	Window time.Duration
	Cost   int64
	Now    time.Time
	Logger *zap.Logger
}

// degradedKey identifies a store instance and the capability it lacks.
// Stores whose type is not comparable are tracked by type name instead.
type degradedKey struct {
	store      any
	capability string
}

// degradedWarnings remembers which stores have already been reported as
// missing an optional capability.
var degradedWarnings sync.Map

// warnDegraded logs msg once per store and capability. Loggers that drop
// warnings do not count as having reported it.
func warnDegraded(logger *zap.Logger, s Store, capability, msg string) {
	if logger == nil || !logger.Core().Enabled(zap.WarnLevel) {
		return
	}

	storeType := fmt.Sprintf("%T", s)

	key := degradedKey{store: storeType, capability: capability}
	if t := reflect.TypeOf(s); t != nil && t.Comparable() {
		key.store = s
	}

	if _, seen := degradedWarnings.LoadOrStore(key, struct{}{}); seen {
		return
	}

	logger.Warn(msg, zap.String("store", storeType), zap.String("missing", capability))
}

// CheckSlidingWindow decides admission by weighting the previous window's
// count by the fraction of the current window still to run.
func CheckSlidingWindow(ctx context.Context, p Params) (Outcome, error) {
	if p.Window < time.Millisecond {
		return Outcome{}, ErrInvalidWindow
	}

	currentKey, previousKey, start := windowKeys(p.Key, p.Now, p.Window)
	reset := start.Add(p.Window)
	weight := slidingWeight(p.Now, start, p.Window)

	if atomic, ok := p.Store.(AtomicChecker); ok {
		res, err := atomic.CheckAndIncrement(ctx, CheckRequest{
			CurrentKey:  currentKey,
			PreviousKey: previousKey,
			Limit:       p.Limit,
			Window:      p.Window,
			Cost:        p.Cost,
			Now:         p.Now,
		})
		if err != nil {
			return Outcome{}, err
		}

		estimate := weightedCount(res.PreviousCount, weight) + res.Count

		return Outcome{
			Allowed: res.Allowed,
			Info:    Info{Limit: p.Limit, Remaining: remaining(p.Limit, estimate), Reset: reset},
		}, nil
	}

	warnDegraded(p.Logger, p.Store, "CheckAndIncrement",
		"store has no atomic check, denied requests will consume quota")

	current, err := p.Store.Increment(ctx, currentKey, p.Cost)
	if err != nil {
		return Outcome{}, err
	}

	var previousCount int64

	if getter, ok := p.Store.(Getter); ok {
		prev, found, err := getter.Get(ctx, previousKey)
		if err != nil {
			return Outcome{}, err
		}

		if found {
			previousCount = prev.Count
		}
	} else {
		warnDegraded(p.Logger, p.Store, "Get",
			"store cannot read the previous window, sliding window degrades to fixed window")
	}

	estimate := weightedCount(previousCount, weight) + current.Count

	return Outcome{
		Allowed: estimate <= p.Limit,
		Info:    Info{Limit: p.Limit, Remaining: remaining(p.Limit, estimate), Reset: reset},
	}, nil
}

// CheckFixedWindow decides admission from the count of the current aligned window alone.
func CheckFixedWindow(ctx context.Context, p Params) (Outcome, error) {
	if p.Window < time.Millisecond {
		return Outcome{}, ErrInvalidWindow
	}

	currentKey, _, start := windowKeys(p.Key, p.Now, p.Window)
	reset := start.Add(p.Window)

	var (
		allowed bool
		count   int64
	)

	if atomic, ok := p.Store.(AtomicChecker); ok {
		res, err := atomic.CheckAndIncrement(ctx, CheckRequest{
			CurrentKey: currentKey,
			Limit:      p.Limit,
			Window:     p.Window,
			Cost:       p.Cost,
			Now:        p.Now,
		})
		if err != nil {
			return Outcome{}, err
		}

		allowed, count = res.Allowed, res.Count
	} else {
		warnDegraded(p.Logger, p.Store, "CheckAndIncrement",
			"store has no atomic check, denied requests will consume quota")

		entry, err := p.Store.Increment(ctx, currentKey, p.Cost)
		if err != nil {
			return Outcome{}, err
		}

		allowed, count = entry.Count <= p.Limit, entry.Count
	}

	return Outcome{
		Allowed: allowed,
		Info:    Info{Limit: p.Limit, Remaining: remaining(p.Limit, count), Reset: reset},
	}, nil
}

// slidingWeight decays linearly from 1 at the start of the window to 0 at its end.
func slidingWeight(now, start time.Time, window time.Duration) float64 {
	elapsed := now.Sub(start)

	return float64(window-elapsed) / float64(window)
}

// SlidingEstimate is the consumption the sliding window attributes to a key.
// A window shorter than a millisecond counts the previous window in full.
func SlidingEstimate(previousCount, currentCount int64, now time.Time, window time.Duration) int64 {
	if window < time.Millisecond {
		return previousCount + currentCount
	}

	weight := slidingWeight(now, WindowStart(now, window), window)

	return weightedCount(previousCount, weight) + currentCount
}

func weightedCount(count int64, weight float64) int64 {
	return int64(math.Floor(float64(count) * weight))
}

func (a Algorithm) run(ctx context.Context, p Params) (Outcome, error) {
	switch a {
	case AlgorithmFixed:
		return CheckFixedWindow(ctx, p)
	case AlgorithmSliding, "":
		return CheckSlidingWindow(ctx, p)
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
	}
}
