package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/quotaguard/internal/ratelimit"
	"go.uber.org/zap"
)

const defaultPruneInterval = time.Minute

const createCountersTable = `
	CREATE TABLE IF NOT EXISTS rate_limit_counters (
		key        TEXT PRIMARY KEY,
		count      BIGINT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS rate_limit_counters_expires_at_idx
		ON rate_limit_counters (expires_at);
`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresConfig configures a PostgresStore.
type PostgresConfig struct {
	// Window is the entry lifetime unit until Init is called. Default one minute.
	Window time.Duration
	// PruneInterval is how often expired rows are deleted. Default one minute.
	PruneInterval time.Duration
	// Prefix namespaces the keys of stores sharing the table.
	Prefix string
	Now    func() time.Time
	Logger *zap.Logger
}

// PostgresStore is a PostgreSQL implementation of ratelimit.Store.
// CheckAndIncrement runs in a transaction holding an advisory lock on the
// key, so concurrent instances cannot both take the last slot.
type PostgresStore struct {
	pool   *pgxpool.Pool
	prefix string
	now    func() time.Time
	logger *zap.Logger

	mu     sync.RWMutex
	window time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewPostgresStore creates a new PostgreSQL-backed rate limit store and starts
// pruning expired rows. The table is created by Init.
func NewPostgresStore(pool *pgxpool.Pool, cfg PostgresConfig) *PostgresStore {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}

	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &PostgresStore{
		pool:   pool,
		prefix: cfg.Prefix,
		now:    cfg.Now,
		logger: cfg.Logger,
		window: cfg.Window,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go p.pruneLoop(ctx, cfg.PruneInterval)

	return p
}

// Init creates the counters table when missing and sets the window.
func (p *PostgresStore) Init(ctx context.Context, window time.Duration) error {
	if window <= 0 {
		return ratelimit.ErrInvalidWindow
	}

	if _, err := p.pool.Exec(ctx, createCountersTable); err != nil {
		return fmt.Errorf("create rate_limit_counters: %w", err)
	}

	p.mu.Lock()
	p.window = window
	p.mu.Unlock()

	return nil
}

func (p *PostgresStore) Increment(ctx context.Context, key string, cost int64) (ratelimit.Entry, error) {
	return p.increment(ctx, p.pool, p.prefix+key, cost, p.now(), p.currentWindow())
}

func (p *PostgresStore) Get(ctx context.Context, key string) (ratelimit.Entry, bool, error) {
	count, expiresAt, found, err := p.get(ctx, p.pool, p.prefix+key, p.now())
	if err != nil || !found {
		return ratelimit.Entry{}, found, err
	}

	return ratelimit.Entry{Count: count, Reset: expiresAt.Add(-p.currentWindow())}, true, nil
}

func (p *PostgresStore) Decrement(ctx context.Context, key string) error {
	return p.DecrementBy(ctx, key, 1)
}

func (p *PostgresStore) DecrementBy(ctx context.Context, key string, points int64) error {
	query := `
		UPDATE rate_limit_counters
		SET count = GREATEST(count - $2, 0)
		WHERE key = $1 AND expires_at > $3
	`

	_, err := p.pool.Exec(ctx, query, p.prefix+key, points, p.now())

	return err
}

func (p *PostgresStore) CheckAndIncrement(ctx context.Context, req ratelimit.CheckRequest) (ratelimit.CheckResult, error) {
	now := req.Now
	if now.IsZero() {
		now = p.now()
	}

	window := req.Window
	if window <= 0 {
		window = p.currentWindow()
	}

	currentKey := p.prefix + req.CurrentKey

	var result ratelimit.CheckResult

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", currentKey); err != nil {
			return err
		}

		currentCount, expiresAt, found, err := p.get(ctx, tx, currentKey, now)
		if err != nil {
			return err
		}

		estimate := currentCount + req.Cost

		if req.PreviousKey != "" {
			previousCount, _, _, err := p.get(ctx, tx, p.prefix+req.PreviousKey, now)
			if err != nil {
				return err
			}

			result.PreviousCount = previousCount
			estimate = ratelimit.SlidingEstimate(previousCount, currentCount+req.Cost, now, req.Window)
		}

		result.Allowed = estimate <= req.Limit
		result.Count = currentCount + req.Cost

		switch {
		case result.Allowed:
			entry, err := p.increment(ctx, tx, currentKey, req.Cost, now, window)
			if err != nil {
				return err
			}

			result.Reset = entry.Reset
		case found:
			result.Reset = expiresAt.Add(-window)
		default:
			result.Reset = now.Add(window)
		}

		return nil
	})
	if err != nil {
		return ratelimit.CheckResult{}, fmt.Errorf("postgres check and increment %s: %w", req.CurrentKey, err)
	}

	return result, nil
}

func (p *PostgresStore) ResetKey(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM rate_limit_counters WHERE key = $1", p.prefix+key)

	return err
}

// ResetAll deletes every key under the store prefix.
func (p *PostgresStore) ResetAll(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM rate_limit_counters WHERE starts_with(key, $1)", p.prefix)

	return err
}

// Prune deletes rows whose lifetime has ended and returns how many were removed.
func (p *PostgresStore) Prune(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM rate_limit_counters WHERE expires_at <= $1", p.now())
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

// Shutdown stops pruning. The pool is managed externally.
func (p *PostgresStore) Shutdown() error {
	p.once.Do(p.cancel)
	<-p.done

	return nil
}

func (p *PostgresStore) increment(
	ctx context.Context,
	q querier,
	key string,
	cost int64,
	now time.Time,
	window time.Duration,
) (ratelimit.Entry, error) {
	// An expired row is restarted rather than added to.
	query := `
		INSERT INTO rate_limit_counters AS c (key, count, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE WHEN c.expires_at <= $4 THEN EXCLUDED.count ELSE c.count + EXCLUDED.count END,
			expires_at = CASE WHEN c.expires_at <= $4 THEN EXCLUDED.expires_at ELSE c.expires_at END
		RETURNING count, expires_at
	`

	var (
		count     int64
		expiresAt time.Time
	)

	if err := q.QueryRow(ctx, query, key, cost, now.Add(2*window), now).Scan(&count, &expiresAt); err != nil {
		return ratelimit.Entry{}, fmt.Errorf("postgres increment %s: %w", key, err)
	}

	return ratelimit.Entry{Count: count, Reset: expiresAt.Add(-window)}, nil
}

func (p *PostgresStore) get(ctx context.Context, q querier, key string, now time.Time) (int64, time.Time, bool, error) {
	query := `
		SELECT count, expires_at
		FROM rate_limit_counters
		WHERE key = $1 AND expires_at > $2
	`

	var (
		count     int64
		expiresAt time.Time
	)

	err := q.QueryRow(ctx, query, key, now).Scan(&count, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, time.Time{}, false, nil
		}

		return 0, time.Time{}, false, fmt.Errorf("postgres get %s: %w", key, err)
	}

	return count, expiresAt, true, nil
}

func (p *PostgresStore) currentWindow() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.window
}

func (p *PostgresStore) pruneLoop(ctx context.Context, interval time.Duration) {
	defer close(p.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := p.Prune(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("failed to prune rate limit counters", zap.Error(err))
				}

				continue
			}

			p.logger.Debug("pruned rate limit counters", zap.Int64("rows", n))
		case <-ctx.Done():
			return
		}
	}
}

// Compile-time check.
var (
	_ ratelimit.Store           = (*PostgresStore)(nil)
	_ ratelimit.Initializer     = (*PostgresStore)(nil)
	_ ratelimit.Getter          = (*PostgresStore)(nil)
	_ ratelimit.Decrementer     = (*PostgresStore)(nil)
	_ ratelimit.BulkDecrementer = (*PostgresStore)(nil)
	_ ratelimit.AtomicChecker   = (*PostgresStore)(nil)
)
