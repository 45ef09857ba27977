package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/quotaguard/internal/ratelimit"
)

const (
	defaultRedisPrefix = "rl:"
	redisScanCount     = 100
)

// incrementScript adds ARGV[1] to KEYS[1] and sets its expiry (ARGV[2] ms)
// when the key is new. Returns {count, pttl}.
var incrementScript = redis.NewScript(`
local count = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
return {count, ttl}
`)

// decrementScript subtracts up to ARGV[1] from KEYS[1] without going below zero.
var decrementScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current <= 0 then
	return 0
end
local n = math.min(current, tonumber(ARGV[1]))
return redis.call('DECRBY', KEYS[1], n)
`)

// checkAndIncrementScript decides admission before consuming quota.
// KEYS[1] is the current window, KEYS[2] the optional previous window.
// ARGV: limit, cost, expiry ms, previous window weight.
// Returns {allowed, current + cost, previous, pttl}.
var checkAndIncrementScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local cost = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local previous = 0
local estimate = current + cost
if #KEYS > 1 then
	previous = tonumber(redis.call('GET', KEYS[2]) or '0')
	estimate = math.floor(previous * tonumber(ARGV[4])) + current + cost
end
local allowed = 0
local ttl = redis.call('PTTL', KEYS[1])
if estimate <= limit then
	allowed = 1
	redis.call('INCRBY', KEYS[1], cost)
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[3])
		ttl = tonumber(ARGV[3])
	end
end
return {allowed, current + cost, previous, ttl}
`)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Prefix namespaces every key. Default "rl:".
	Prefix string
	// Window is the entry lifetime unit until Init is called. Default one minute.
	Window time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// RedisStore is a Redis implementation of ratelimit.Store.
// Every operation that reads and writes runs as a Lua script, so it is
// atomic across all instances sharing the Redis server. CheckAndIncrement
// sizes key lifetimes from the request window; the other operations use
// the window set by Init.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time

	mu     sync.RWMutex
	window time.Duration
}

// NewRedisStore creates a new Redis-backed rate limit store.
func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultRedisPrefix
	}

	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		now:    cfg.Now,
		window: cfg.Window,
	}
}

// Init sets the window used for entry lifetimes.
func (r *RedisStore) Init(_ context.Context, window time.Duration) error {
	if window <= 0 {
		return ratelimit.ErrInvalidWindow
	}

	r.mu.Lock()
	r.window = window
	r.mu.Unlock()

	return nil
}

func (r *RedisStore) Increment(ctx context.Context, key string, cost int64) (ratelimit.Entry, error) {
	window := r.currentWindow()

	res, err := incrementScript.Run(ctx, r.client, []string{r.key(key)}, cost, (2 * window).Milliseconds()).Int64Slice()
	if err != nil {
		return ratelimit.Entry{}, fmt.Errorf("redis increment %s: %w", key, err)
	}

	if len(res) != 2 {
		return ratelimit.Entry{}, fmt.Errorf("redis increment %s: unexpected reply length %d", key, len(res))
	}

	return ratelimit.Entry{
		Count: res[0],
		Reset: r.logicalReset(r.now(), res[1], window),
	}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (ratelimit.Entry, bool, error) {
	k := r.key(key)

	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return ratelimit.Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	count, err := getCmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ratelimit.Entry{}, false, nil
		}

		return ratelimit.Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	ttl := ttlCmd.Val()

	return ratelimit.Entry{
		Count: count,
		Reset: r.logicalReset(r.now(), ttl.Milliseconds(), r.currentWindow()),
	}, true, nil
}

func (r *RedisStore) Decrement(ctx context.Context, key string) error {
	return r.DecrementBy(ctx, key, 1)
}

func (r *RedisStore) DecrementBy(ctx context.Context, key string, points int64) error {
	if err := decrementScript.Run(ctx, r.client, []string{r.key(key)}, points).Err(); err != nil {
		return fmt.Errorf("redis decrement %s: %w", key, err)
	}

	return nil
}

func (r *RedisStore) CheckAndIncrement(ctx context.Context, req ratelimit.CheckRequest) (ratelimit.CheckResult, error) {
	now := req.Now
	if now.IsZero() {
		now = r.now()
	}

	window := req.Window
	if window <= 0 {
		window = r.currentWindow()
	}

	keys := []string{r.key(req.CurrentKey)}

	weight := 0.0
	if req.PreviousKey != "" {
		keys = append(keys, r.key(req.PreviousKey))
		start := ratelimit.WindowStart(now, req.Window)
		weight = float64(req.Window-now.Sub(start)) / float64(req.Window)
	}

	res, err := checkAndIncrementScript.Run(ctx, r.client, keys,
		req.Limit,
		req.Cost,
		(2 * window).Milliseconds(),
		strconv.FormatFloat(weight, 'f', -1, 64),
	).Int64Slice()
	if err != nil {
		return ratelimit.CheckResult{}, fmt.Errorf("redis check and increment %s: %w", req.CurrentKey, err)
	}

	if len(res) != 4 {
		return ratelimit.CheckResult{}, fmt.Errorf("redis check and increment %s: unexpected reply length %d",
			req.CurrentKey, len(res))
	}

	return ratelimit.CheckResult{
		Allowed:       res[0] == 1,
		Count:         res[1],
		PreviousCount: res[2],
		Reset:         r.logicalReset(now, res[3], window),
	}, nil
}

func (r *RedisStore) ResetKey(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// ResetAll deletes every key under the store prefix.
func (r *RedisStore) ResetAll(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", redisScanCount).Iterator()

	batch := make([]string, 0, redisScanCount)

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())

		if len(batch) == redisScanCount {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}

			batch = batch[:0]
		}
	}

	if err := iter.Err(); err != nil {
		return err
	}

	if len(batch) > 0 {
		return r.client.Del(ctx, batch...).Err()
	}

	return nil
}

// Shutdown is a no-op for RedisStore (client managed externally).
func (r *RedisStore) Shutdown() error {
	return nil
}

func (r *RedisStore) currentWindow() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.window
}

// key prefixes k and wraps the client part in a hash tag so that the
// current and previous windows of a client map to the same cluster slot.
func (r *RedisStore) key(k string) string {
	if i := strings.LastIndexByte(k, ':'); i > 0 {
		return r.prefix + "{" + k[:i] + "}" + k[i:]
	}

	return r.prefix + k
}

// logicalReset turns the remaining lifetime of a key, which spans two
// windows, into the reset time of the window it counts.
func (r *RedisStore) logicalReset(now time.Time, pttlMs int64, window time.Duration) time.Time {
	if pttlMs < 0 {
		return now.Add(window)
	}

	return now.Add(time.Duration(pttlMs) * time.Millisecond).Add(-window)
}

// Compile-time check.
var (
	_ ratelimit.Store           = (*RedisStore)(nil)
	_ ratelimit.Initializer     = (*RedisStore)(nil)
	_ ratelimit.Getter          = (*RedisStore)(nil)
	_ ratelimit.Decrementer     = (*RedisStore)(nil)
	_ ratelimit.BulkDecrementer = (*RedisStore)(nil)
	_ ratelimit.AtomicChecker   = (*RedisStore)(nil)
)
