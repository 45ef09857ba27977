package ratelimit

import (
	"strconv"
	"time"
)

// WindowStart returns the epoch-aligned start of the window containing now.
// Windows shorter than a millisecond are not aligned and start at now.
func WindowStart(now time.Time, window time.Duration) time.Time {
	ms := window.Milliseconds()
	if ms <= 0 {
		return now
	}

	start := now.UnixMilli() / ms * ms

	return time.UnixMilli(start)
}

// WindowKey builds the store key for the window starting at start.
func WindowKey(key string, start time.Time) string {
	return key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// windowKeys returns the current and previous window keys for key at now.
func windowKeys(key string, now time.Time, window time.Duration) (current, previous string, start time.Time) {
	start = WindowStart(now, window)

	return WindowKey(key, start), WindowKey(key, start.Add(-window)), start
}
