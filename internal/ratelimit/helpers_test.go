package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serroba/quotaguard/internal/ratelimit"
	"github.com/serroba/quotaguard/internal/store"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// newFakeClock starts at an instant aligned to every window used in these tests.
func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newMemoryStore(t *testing.T, clock *fakeClock) *store.MemoryStore {
	t.Helper()

	s := store.NewMemoryStore(store.WithClock(clock.Now))
	t.Cleanup(func() { _ = s.Shutdown() })

	return s
}

func newLimiter(t *testing.T, cfg ratelimit.Config) *ratelimit.Limiter {
	t.Helper()

	l, err := ratelimit.NewLimiter(cfg)
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}

	return l
}

// countingStore records every call that reaches the backing store.
type countingStore struct {
	*store.MemoryStore

	calls atomic.Int64
}

func (s *countingStore) Increment(ctx context.Context, key string, cost int64) (ratelimit.Entry, error) {
	s.calls.Add(1)

	return s.MemoryStore.Increment(ctx, key, cost)
}

func (s *countingStore) CheckAndIncrement(ctx context.Context, req ratelimit.CheckRequest) (ratelimit.CheckResult, error) {
	s.calls.Add(1)

	return s.MemoryStore.CheckAndIncrement(ctx, req)
}

// basicStore hides every optional capability of the wrapped store.
type basicStore struct {
	ratelimit.Store
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, int64) (ratelimit.Entry, error) {
	return ratelimit.Entry{}, errBoom
}

func (failingStore) ResetKey(context.Context, string) error { return errBoom }
func (failingStore) ResetAll(context.Context) error         { return errBoom }
func (failingStore) Shutdown() error                        { return nil }

// slowStore blocks until its context is cancelled.
type slowStore struct {
	cancelled chan struct{}
}

func newSlowStore() *slowStore {
	return &slowStore{cancelled: make(chan struct{}, 1)}
}

func (s *slowStore) Increment(ctx context.Context, _ string, _ int64) (ratelimit.Entry, error) {
	<-ctx.Done()
	s.cancelled <- struct{}{}

	return ratelimit.Entry{}, ctx.Err()
}

func (s *slowStore) ResetKey(context.Context, string) error { return nil }
func (s *slowStore) ResetAll(context.Context) error         { return nil }
func (s *slowStore) Shutdown() error                        { return nil }
