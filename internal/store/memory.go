package store

import (
	"context"
	"sync"
	"time"

	"github.com/serroba/quotaguard/internal/ratelimit"
	"go.uber.org/zap"
)

const defaultWindow = time.Minute

type memoryEntry struct {
	count int64
	// expiresAt is two windows after creation so the entry can still be read
	// as the previous window by the sliding window.
	expiresAt time.Time
	window    time.Duration
}

// MemoryStore is an in-memory implementation of ratelimit.Store.
//
// Entries live in two generations. Every two windows the current generation
// becomes the previous one and a fresh current generation is started, so
// stale keys are dropped in bulk without being visited. Reading a key from
// the previous generation promotes it back into the current one.
type MemoryStore struct {
	mu           sync.Mutex
	current      map[string]*memoryEntry
	previous     map[string]*memoryEntry
	window       time.Duration
	nextRotation time.Time

	now    func() time.Time
	logger *zap.Logger

	reconfigure chan time.Duration
	stop        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithWindow sets the window length used for entry lifetimes. Default is one minute.
// Limiters call Init with their own window, which overrides this.
func WithWindow(window time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithClock replaces time.Now as the store's time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for rotation diagnostics.
func WithLogger(logger *zap.Logger) MemoryOption {
	return func(s *MemoryStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewMemoryStore creates a new in-memory store and starts its rotation loop.
// Call Shutdown to stop it.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		current:     make(map[string]*memoryEntry),
		previous:    make(map[string]*memoryEntry),
		window:      defaultWindow,
		now:         time.Now,
		logger:      zap.NewNop(),
		reconfigure: make(chan time.Duration, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.nextRotation = s.now().Add(s.rotationPeriod())

	go s.rotationLoop(s.rotationPeriod())

	return s
}

// Init sets the window length and restarts the rotation schedule.
func (s *MemoryStore) Init(_ context.Context, window time.Duration) error {
	if window <= 0 {
		return ratelimit.ErrInvalidWindow
	}

	s.mu.Lock()
	s.window = window
	s.nextRotation = s.now().Add(s.rotationPeriod())
	s.mu.Unlock()

	s.reschedule(2 * window)

	return nil
}

// reschedule hands a new rotation period to the rotation loop.
func (s *MemoryStore) reschedule(period time.Duration) {
	// Drop a pending reconfiguration that was never picked up.
	select {
	case <-s.reconfigure:
	default:
	}

	select {
	case s.reconfigure <- period:
	default:
	}
}

func (s *MemoryStore) Increment(ctx context.Context, key string, cost int64) (ratelimit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ratelimit.Entry{}, err
	}

	now := s.now()
	s.rotateIfDue(now)

	return s.increment(key, cost, now, s.window), nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (ratelimit.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.rotateIfDue(now)

	e := s.lookup(key, now)
	if e == nil {
		return ratelimit.Entry{}, false, nil
	}

	return ratelimit.Entry{Count: e.count, Reset: e.expiresAt.Add(-e.window)}, true, nil
}

func (s *MemoryStore) Decrement(ctx context.Context, key string) error {
	return s.DecrementBy(ctx, key, 1)
}

func (s *MemoryStore) DecrementBy(_ context.Context, key string, points int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.rotateIfDue(now)

	if e := s.lookup(key, now); e != nil {
		e.count = max(0, e.count-points)
	}

	return nil
}

// CheckAndIncrement decides admission and only then consumes quota, all under
// one lock, so concurrent callers cannot both take the last slot. Entries
// live for two of the request's windows, and the store widens its rotation
// period when the request window is longer than its own.
func (s *MemoryStore) CheckAndIncrement(ctx context.Context, req ratelimit.CheckRequest) (ratelimit.CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A caller that gave up while waiting for the lock must not consume quota.
	if err := ctx.Err(); err != nil {
		return ratelimit.CheckResult{}, err
	}

	now := req.Now
	if now.IsZero() {
		now = s.now()
	}

	window := req.Window
	if window <= 0 {
		window = s.window
	}

	if window > s.window {
		s.window = window
		s.reschedule(s.rotationPeriod())
	}

	s.rotateIfDue(now)

	var currentCount, previousCount int64

	current := s.lookup(req.CurrentKey, now)
	if current != nil {
		currentCount = current.count
	}

	estimate := currentCount + req.Cost

	if req.PreviousKey != "" {
		if prev := s.lookup(req.PreviousKey, now); prev != nil {
			previousCount = prev.count
		}

		estimate = ratelimit.SlidingEstimate(previousCount, currentCount+req.Cost, now, req.Window)
	}

	result := ratelimit.CheckResult{
		Allowed:       estimate <= req.Limit,
		Count:         currentCount + req.Cost,
		PreviousCount: previousCount,
	}

	switch {
	case result.Allowed:
		result.Reset = s.increment(req.CurrentKey, req.Cost, now, window).Reset
	case current != nil:
		result.Reset = current.expiresAt.Add(-current.window)
	default:
		result.Reset = now.Add(window)
	}

	return result, nil
}

func (s *MemoryStore) ResetKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.current, key)
	delete(s.previous, key)

	return nil
}

func (s *MemoryStore) ResetAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = make(map[string]*memoryEntry)
	s.previous = make(map[string]*memoryEntry)

	return nil
}

// Shutdown stops the rotation loop and waits for it to exit.
func (s *MemoryStore) Shutdown() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	<-s.done

	return nil
}

// Len returns the number of entries held in both generations.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rotateIfDue(s.now())

	return len(s.current) + len(s.previous)
}

// lookup returns the live entry for key, promoting it from the previous
// generation when needed. Callers must hold s.mu.
func (s *MemoryStore) lookup(key string, now time.Time) *memoryEntry {
	if e, ok := s.current[key]; ok {
		if now.Before(e.expiresAt) {
			return e
		}

		delete(s.current, key)

		return nil
	}

	e, ok := s.previous[key]
	if !ok {
		return nil
	}

	delete(s.previous, key)

	if !now.Before(e.expiresAt) {
		return nil
	}

	s.current[key] = e

	return e
}

// increment adds cost to key, creating it with a lifetime of two windows
// when absent. Callers must hold s.mu.
func (s *MemoryStore) increment(key string, cost int64, now time.Time, window time.Duration) ratelimit.Entry {
	e := s.lookup(key, now)
	if e == nil {
		e = &memoryEntry{
			count:     cost,
			expiresAt: now.Add(2 * window),
			window:    window,
		}
		s.current[key] = e

		return ratelimit.Entry{Count: e.count, Reset: now.Add(window)}
	}

	e.count += cost

	return ratelimit.Entry{Count: e.count, Reset: e.expiresAt.Add(-e.window)}
}

func (s *MemoryStore) rotationPeriod() time.Duration {
	return 2 * s.window
}

// rotateIfDue swaps generations when the rotation time has passed. When more
// than a whole period was missed both generations are stale and are dropped.
// Callers must hold s.mu.
func (s *MemoryStore) rotateIfDue(now time.Time) {
	if now.Before(s.nextRotation) {
		return
	}

	period := s.rotationPeriod()

	if now.Sub(s.nextRotation) >= period {
		s.previous = make(map[string]*memoryEntry)
	} else {
		s.previous = s.current
	}

	s.current = make(map[string]*memoryEntry)

	for !now.Before(s.nextRotation) {
		s.nextRotation = s.nextRotation.Add(period)
	}

	s.logger.Debug("memory store rotated",
		zap.Int("previous", len(s.previous)),
		zap.Time("nextRotation", s.nextRotation),
	)
}

func (s *MemoryStore) rotationLoop(period time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.rotateIfDue(s.now())
			s.mu.Unlock()
		case period := <-s.reconfigure:
			ticker.Reset(period)
		case <-s.stop:
			return
		}
	}
}

// Compile-time check.
var (
	_ ratelimit.Store           = (*MemoryStore)(nil)
	_ ratelimit.Initializer     = (*MemoryStore)(nil)
	_ ratelimit.Getter          = (*MemoryStore)(nil)
	_ ratelimit.Decrementer     = (*MemoryStore)(nil)
	_ ratelimit.BulkDecrementer = (*MemoryStore)(nil)
	_ ratelimit.AtomicChecker   = (*MemoryStore)(nil)
)
