package ratelimit

import (
	"sync"
	"time"
)

// BlockCache remembers keys that were recently denied so later checks can be
// rejected without touching the store. It is owned by the caller and may be
// shared by several limiters.
type BlockCache struct {
	mu      sync.Mutex
	blocked map[string]time.Time
}

// NewBlockCache creates an empty block cache.
func NewBlockCache() *BlockCache {
	return &BlockCache{blocked: make(map[string]time.Time)}
}

// BlockedUntil returns the time key stays blocked and whether it is blocked at now.
// Entries whose time has passed are removed.
func (c *BlockCache) BlockedUntil(key string, now time.Time) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	until, ok := c.blocked[key]
	if !ok {
		return time.Time{}, false
	}

	if !now.Before(until) {
		delete(c.blocked, key)

		return time.Time{}, false
	}

	return until, true
}

// Block records key as blocked until the given time.
func (c *BlockCache) Block(key string, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocked[key] = until
}

// Unblock removes key from the cache.
func (c *BlockCache) Unblock(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.blocked, key)
}

// Len returns the number of entries, including ones that have expired but not yet been read.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.blocked)
}
