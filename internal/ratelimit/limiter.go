package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checker defines the interface for rate limiting.
type Checker interface {
	// Check consumes cost points for key and reports whether the request is allowed.
	Check(ctx context.Context, key string, cost int64) (*Decision, error)
}

// Config is the fixed configuration a Limiter is bound to.
// Field meanings match Options.
type Config struct {
	Store     Store
	Fallback  Store
	Limit     int64
	Window    time.Duration
	Algorithm Algorithm

	Whitelist     KeyMatcher
	Blacklist     KeyMatcher
	BlockCache    *BlockCache
	BlockDuration time.Duration
	Timeout       time.Duration

	OnDecision DecisionHook
	Logger     *zap.Logger
	Now        func() time.Time
}

// Limiter checks keys against a single quota.
type Limiter struct {
	cfg Config

	initMu      sync.Mutex
	initialized bool
}

// NewLimiter validates cfg and creates a limiter bound to it.
func NewLimiter(cfg Config) (*Limiter, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmSliding
	}

	opts := cfg.options("", 1)
	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &Limiter{cfg: cfg}, nil
}

func (c *Config) options(key string, cost int64) Options {
	return Options{
		Store:         c.Store,
		Fallback:      c.Fallback,
		Key:           key,
		Limit:         c.Limit,
		Window:        c.Window,
		Cost:          cost,
		Algorithm:     c.Algorithm,
		Whitelist:     c.Whitelist,
		Blacklist:     c.Blacklist,
		BlockCache:    c.BlockCache,
		BlockDuration: c.BlockDuration,
		Timeout:       c.Timeout,
		OnDecision:    c.OnDecision,
		Logger:        c.Logger,
		Now:           c.Now,
	}
}

func (l *Limiter) now() time.Time {
	if l.cfg.Now != nil {
		return l.cfg.Now()
	}

	return time.Now()
}

// init hands the window to stores that want it. It is retried on the next
// call until it succeeds.
func (l *Limiter) init(ctx context.Context) error {
	l.initMu.Lock()
	defer l.initMu.Unlock()

	if l.initialized {
		return nil
	}

	for _, s := range []Store{l.cfg.Store, l.cfg.Fallback} {
		if i, ok := s.(Initializer); ok {
			if err := i.Init(ctx, l.cfg.Window); err != nil {
				return err
			}
		}
	}

	l.initialized = true

	return nil
}

// Check consumes cost points for key. A cost of zero counts as one.
func (l *Limiter) Check(ctx context.Context, key string, cost int64) (*Decision, error) {
	if err := l.init(ctx); err != nil {
		return nil, err
	}

	return Check(ctx, l.cfg.options(key, cost))
}

// Penalty consumes points from the current window without making a decision.
func (l *Limiter) Penalty(ctx context.Context, key string, points int64) error {
	if points < 0 {
		return ErrInvalidCost
	}

	if points == 0 {
		return nil
	}

	if err := l.init(ctx); err != nil {
		return err
	}

	_, err := l.cfg.Store.Increment(ctx, l.currentKey(key), points)

	return err
}

// Reward gives points back to the current window without making a decision.
func (l *Limiter) Reward(ctx context.Context, key string, points int64) error {
	if points < 0 {
		return ErrInvalidCost
	}

	if points == 0 {
		return nil
	}

	if err := l.init(ctx); err != nil {
		return err
	}

	windowKey := l.currentKey(key)

	switch s := l.cfg.Store.(type) {
	case BulkDecrementer:
		return s.DecrementBy(ctx, windowKey, points)
	case Decrementer:
		for range points {
			if err := s.Decrement(ctx, windowKey); err != nil {
				return err
			}
		}

		return nil
	default:
		return ErrRewardUnsupported
	}
}

// Reset clears the current and previous windows of key and lifts any block on it.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	current, previous, _ := windowKeys(key, l.now(), l.cfg.Window)

	if l.cfg.BlockCache != nil {
		l.cfg.BlockCache.Unblock(key)
	}

	return errors.Join(
		l.cfg.Store.ResetKey(ctx, current),
		l.cfg.Store.ResetKey(ctx, previous),
	)
}

// Store returns the primary store.
func (l *Limiter) Store() Store {
	return l.cfg.Store
}

// Limit returns the configured quota per window.
func (l *Limiter) Limit() int64 {
	return l.cfg.Limit
}

func (l *Limiter) currentKey(key string) string {
	return WindowKey(key, WindowStart(l.now(), l.cfg.Window))
}
