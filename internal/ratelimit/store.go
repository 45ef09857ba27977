package ratelimit

import (
	"context"
	"time"
)

// Entry is the counter a store keeps for a single window-aligned key.
//
// Reset is always the logical reset time, one window after the entry was
// created, even when the store keeps the entry alive for two windows so the
// sliding window can still read it as the previous window.
type Entry struct {
	Count int64
	Reset time.Time
}

// Store defines the operations every rate limit backend must provide.
// Implementations must be safe for concurrent use.
type Store interface {
	// Increment adds cost to the counter for key and returns the updated entry.
	// It must be atomic with respect to concurrent callers on the same key.
	Increment(ctx context.Context, key string, cost int64) (Entry, error)

	// ResetKey removes the counter for key.
	ResetKey(ctx context.Context, key string) error

	// ResetAll removes every counter held by the store.
	ResetAll(ctx context.Context) error

	// Shutdown releases timers and connections owned by the store.
	Shutdown() error
}

// Initializer is implemented by stores that need the window length before use.
type Initializer interface {
	Init(ctx context.Context, window time.Duration) error
}

// Getter is implemented by stores that can read a counter without changing it.
// The sliding window needs it to read the previous window.
type Getter interface {
	// Get returns the entry for key and false when the key is absent.
	Get(ctx context.Context, key string) (Entry, bool, error)
}

// Decrementer is implemented by stores that can give back a single unit.
// Counters never go below zero.
type Decrementer interface {
	Decrement(ctx context.Context, key string) error
}

// BulkDecrementer is implemented by stores that can give back several units at once.
type BulkDecrementer interface {
	DecrementBy(ctx context.Context, key string, points int64) error
}

// CheckRequest is the input of an atomic check-and-increment.
type CheckRequest struct {
	CurrentKey string
	// PreviousKey is empty for the fixed window.
	PreviousKey string
	Limit       int64
	Window      time.Duration
	Cost        int64
	Now         time.Time
}

// CheckResult is the outcome of an atomic check-and-increment.
//
// Count is the current window count including Cost whether or not the request
// was allowed, so a denied request always yields zero remaining quota.
type CheckResult struct {
	Allowed       bool
	Count         int64
	Reset         time.Time
	PreviousCount int64
}

// AtomicChecker is implemented by stores that decide admission before
// mutating state, so denied requests never inflate the counter.
type AtomicChecker interface {
	CheckAndIncrement(ctx context.Context, req CheckRequest) (CheckResult, error)
}

// Capabilities is a bitmask of the optional operations a store supports.
type Capabilities uint8

const (
	CapInit Capabilities = 1 << iota
	CapGet
	CapDecrement
	CapBulkDecrement
	CapCheckAndIncrement
)

// Has reports whether all capabilities in c2 are present.
func (c Capabilities) Has(c2 Capabilities) bool {
	return c&c2 == c2
}

// CapabilitiesOf reports which optional operations s implements.
func CapabilitiesOf(s Store) Capabilities {
	var c Capabilities

	if _, ok := s.(Initializer); ok {
		c |= CapInit
	}

	if _, ok := s.(Getter); ok {
		c |= CapGet
	}

	if _, ok := s.(Decrementer); ok {
		c |= CapDecrement
	}

	if _, ok := s.(BulkDecrementer); ok {
		c |= CapBulkDecrement
	}

	if _, ok := s.(AtomicChecker); ok {
		c |= CapCheckAndIncrement
	}

	return c
}
