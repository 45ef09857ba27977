package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/quotaguard/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowStart(t *testing.T) {
	tests := []struct {
		name   string
		now    int64
		window time.Duration
		want   int64
	}{
		{name: "aligned instant", now: 10_000, window: 10 * time.Second, want: 10_000},
		{name: "inside window", now: 15_999, window: 10 * time.Second, want: 10_000},
		{name: "sub-second window", now: 1_234, window: 250 * time.Millisecond, want: 1_000},
		{name: "epoch", now: 0, window: time.Minute, want: 0},
		{name: "sub-millisecond window is not aligned", now: 1_234, window: time.Microsecond, want: 1_234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ratelimit.WindowStart(time.UnixMilli(tt.now), tt.window)

			assert.Equal(t, tt.want, got.UnixMilli())
		})
	}
}

func TestWindowKey(t *testing.T) {
	key := ratelimit.WindowKey("client1", time.UnixMilli(1_700_000_000_000))

	assert.Equal(t, "client1:1700000000000", key)
}

func TestSlidingEstimate(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)

	t.Run("full weight at window start", func(t *testing.T) {
		assert.Equal(t, int64(51), ratelimit.SlidingEstimate(50, 1, start, 10*time.Second))
	})

	t.Run("half weight mid window", func(t *testing.T) {
		now := start.Add(5 * time.Second)

		assert.Equal(t, int64(26), ratelimit.SlidingEstimate(50, 1, now, 10*time.Second))
	})

	t.Run("floors the weighted count", func(t *testing.T) {
		now := start.Add(7 * time.Second)

		// 5 * 0.3 = 1.5
		assert.Equal(t, int64(1), ratelimit.SlidingEstimate(5, 0, now, 10*time.Second))
	})

	t.Run("counts the previous window in full below a millisecond", func(t *testing.T) {
		assert.Equal(t, int64(6), ratelimit.SlidingEstimate(5, 1, start, 0))
	})
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ratelimit.ParseAlgorithm("fixed")
	require.NoError(t, err)
	assert.Equal(t, ratelimit.AlgorithmFixed, a)

	a, err = ratelimit.ParseAlgorithm("sliding")
	require.NoError(t, err)
	assert.Equal(t, ratelimit.AlgorithmSliding, a)

	_, err = ratelimit.ParseAlgorithm("token-bucket")
	assert.ErrorIs(t, err, ratelimit.ErrUnknownAlgorithm)
}

func TestAlgorithms_RejectSubMillisecondWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()

	p := ratelimit.Params{
		Store:  newMemoryStore(t, clock),
		Key:    "client1",
		Limit:  1,
		Window: time.Microsecond,
		Cost:   1,
		Now:    clock.Now(),
	}

	_, err := ratelimit.CheckSlidingWindow(ctx, p)
	require.ErrorIs(t, err, ratelimit.ErrInvalidWindow)

	_, err = ratelimit.CheckFixedWindow(ctx, p)
	assert.ErrorIs(t, err, ratelimit.ErrInvalidWindow)
}
