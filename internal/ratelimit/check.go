package ratelimit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DecisionHook runs in the background after a decision has been made.
// Its error is logged and never changes the decision.
type DecisionHook func(ctx context.Context, key string, decision Decision) error

// Options configures a single Check call.
type Options struct {
	// Store is the primary backend. Required.
	Store Store
	// Fallback is tried when the primary store returns an error.
	Fallback Store

	Key    string
	Limit  int64
	Window time.Duration
	// Cost is the number of points the request consumes. Zero means 1.
	Cost int64
	// Algorithm defaults to AlgorithmSliding.
	Algorithm Algorithm

	// Whitelisted keys are always allowed, blacklisted keys always denied,
	// and neither touches the store.
	Whitelist KeyMatcher
	Blacklist KeyMatcher

	// BlockCache short-circuits keys denied earlier. Denied keys are blocked
	// until the window resets, or for BlockDuration when it is set.
	BlockCache    *BlockCache
	BlockDuration time.Duration

	// Timeout bounds the store call. When it fires the request is allowed.
	Timeout time.Duration

	OnDecision DecisionHook
	Logger     *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o *Options) validate() error {
	if o.Limit <= 0 {
		return ErrInvalidLimit
	}

	if o.Window < time.Millisecond {
		return ErrInvalidWindow
	}

	if o.Cost < 0 {
		return ErrInvalidCost
	}

	if o.Store == nil {
		return ErrNilStore
	}

	switch o.Algorithm {
	case "", AlgorithmSliding, AlgorithmFixed:
	default:
		return ErrUnknownAlgorithm
	}

	return nil
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}

	return time.Now()
}

func (o *Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return zap.NewNop()
}

func (o *Options) cost() int64 {
	if o.Cost == 0 {
		return 1
	}

	return o.Cost
}

// Check decides whether the request identified by opts.Key fits in its quota.
//
// Whitelist, blacklist and block cache are consulted first and never reach the
// store. The algorithm then runs against the primary store, falling back to
// opts.Fallback when the primary fails. A quota denial is a value, not an error;
// errors are returned only for invalid options or failing stores.
func Check(ctx context.Context, opts Options) (*Decision, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	logger := opts.logger()
	now := opts.now()
	reset := WindowStart(now, opts.Window).Add(opts.Window)

	if opts.Whitelist != nil && opts.Whitelist.Match(opts.Key) {
		return opts.finish(ctx, logger, Decision{
			Allowed: true,
			Info:    Info{Limit: opts.Limit, Remaining: opts.Limit, Reset: reset},
			Reason:  ReasonLimit,
		}), nil
	}

	if opts.Blacklist != nil && opts.Blacklist.Match(opts.Key) {
		return opts.finish(ctx, logger, Decision{
			Allowed: false,
			Info:    Info{Limit: opts.Limit, Remaining: 0, Reset: reset},
			Reason:  ReasonLimit,
		}), nil
	}

	if opts.BlockCache != nil {
		if until, blocked := opts.BlockCache.BlockedUntil(opts.Key, now); blocked {
			return opts.finish(ctx, logger, Decision{
				Allowed: false,
				Info:    Info{Limit: opts.Limit, Remaining: 0, Reset: until},
				Reason:  ReasonCacheBlock,
			}), nil
		}
	}

	params := Params{
		Store:  opts.Store,
		Key:    opts.Key,
		Limit:  opts.Limit,
		Window: opts.Window,
		Cost:   opts.cost(),
		Now:    now,
		Logger: logger,
	}

	reason := ReasonLimit

	outcome, timedOut, err := runWithTimeout(ctx, opts.Timeout, func(ctx context.Context) (Outcome, error) {
		return opts.Algorithm.run(ctx, params)
	})
	if err != nil {
		if opts.Fallback == nil {
			return nil, err
		}

		logger.Warn("primary store failed, using fallback",
			zap.String("key", opts.Key),
			zap.Error(err),
		)

		params.Store = opts.Fallback
		reason = ReasonFallback

		var fallbackErr error

		outcome, timedOut, fallbackErr = runWithTimeout(ctx, opts.Timeout, func(ctx context.Context) (Outcome, error) {
			return opts.Algorithm.run(ctx, params)
		})
		if fallbackErr != nil {
			return nil, errors.Join(err, fallbackErr)
		}
	}

	if timedOut {
		logger.Warn("rate limit store timed out, allowing request",
			zap.String("key", opts.Key),
			zap.Duration("timeout", opts.Timeout),
		)

		return opts.finish(ctx, logger, Decision{
			Allowed: true,
			Info:    Info{Limit: opts.Limit, Remaining: opts.Limit, Reset: reset},
			Reason:  ReasonTimeout,
		}), nil
	}

	if opts.BlockCache != nil {
		if outcome.Allowed {
			opts.BlockCache.Unblock(opts.Key)
		} else {
			until := outcome.Info.Reset
			if opts.BlockDuration > 0 {
				until = now.Add(opts.BlockDuration)
			}

			opts.BlockCache.Block(opts.Key, until)
		}
	}

	return opts.finish(ctx, logger, Decision{
		Allowed: outcome.Allowed,
		Info:    outcome.Info,
		Reason:  reason,
	}), nil
}

// runWithTimeout races fn against a timer. The losing store call is cancelled
// through its context and its result is dropped.
func runWithTimeout(
	ctx context.Context,
	timeout time.Duration,
	fn func(ctx context.Context) (Outcome, error),
) (Outcome, bool, error) {
	if timeout <= 0 {
		outcome, err := fn(ctx)

		return outcome, false, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		outcome Outcome
		err     error
	}

	// Buffered so the store goroutine never blocks after the timer wins.
	done := make(chan result, 1)

	go func() {
		outcome, err := fn(ctx)
		done <- result{outcome: outcome, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.outcome, false, r.err
	case <-timer.C:
		return Outcome{}, true, nil
	}
}

var closedPending = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)

	return ch
}()

func (o *Options) finish(ctx context.Context, logger *zap.Logger, d Decision) *Decision {
	if o.OnDecision == nil {
		d.Pending = closedPending

		return &d
	}

	pending := make(chan struct{})
	d.Pending = pending

	hook, key, snapshot := o.OnDecision, o.Key, d

	go func() {
		defer close(pending)

		if err := hook(context.WithoutCancel(ctx), key, snapshot); err != nil {
			logger.Error("decision hook failed", zap.String("key", key), zap.Error(err))
		}
	}()

	return &d
}
