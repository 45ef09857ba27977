package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/quotaguard/internal/analytics"
)

const createDecisionsTable = `
	CREATE TABLE IF NOT EXISTS rate_limit_decisions (
		id          UUID PRIMARY KEY,
		instance_id TEXT NOT NULL,
		key         TEXT NOT NULL,
		allowed     BOOLEAN NOT NULL,
		reason      TEXT NOT NULL,
		"limit"     BIGINT NOT NULL,
		remaining   BIGINT NOT NULL,
		reset_at    TIMESTAMPTZ NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS rate_limit_decisions_key_idx
		ON rate_limit_decisions (key, occurred_at);
`

// Postgres persists decision events to PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a new PostgreSQL analytics store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the decisions table when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createDecisionsTable); err != nil {
		return fmt.Errorf("create rate_limit_decisions: %w", err)
	}

	return nil
}

// SaveDecision inserts event. Redelivered events are ignored.
func (p *Postgres) SaveDecision(ctx context.Context, event *analytics.DecisionEvent) error {
	query := `
		INSERT INTO rate_limit_decisions
			(id, instance_id, key, allowed, reason, "limit", remaining, reset_at, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := p.pool.Exec(ctx, query,
		event.ID,
		event.InstanceID,
		event.Key,
		event.Allowed,
		event.Reason,
		event.Limit,
		event.Remaining,
		event.Reset,
		event.OccurredAt,
	)

	return err
}

// CountByKey returns how many decisions were recorded for key, split by outcome.
func (p *Postgres) CountByKey(ctx context.Context, key string) (allowed, denied int64, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE allowed),
			COUNT(*) FILTER (WHERE NOT allowed)
		FROM rate_limit_decisions
		WHERE key = $1
	`

	err = p.pool.QueryRow(ctx, query, key).Scan(&allowed, &denied)

	return allowed, denied, err
}
