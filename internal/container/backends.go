package container

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
)

// Redis owns the Redis client shared by stores, streams and health checks.
type Redis struct {
	Client redis.UniversalClient
}

func (r *Redis) HealthCheck() error {
	return r.Client.Ping(context.Background()).Err()
}

func (r *Redis) Shutdown() error {
	return r.Client.Close()
}

// Postgres owns the connection pool shared by stores and health checks.
type Postgres struct {
	Pool *pgxpool.Pool
}

func (p *Postgres) HealthCheck() error {
	return p.Pool.Ping(context.Background())
}

func (p *Postgres) Shutdown() error {
	p.Pool.Close()

	return nil
}

// RedisPackage provides the Redis client. It connects lazily.
func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*Redis, error) {
		opts := do.MustInvoke[*Options](i)

		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: strings.Split(opts.RedisAddr, ","),
		})

		return &Redis{Client: client}, nil
	})
}

// PostgresPackage provides the PostgreSQL pool.
func PostgresPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*Postgres, error) {
		opts := do.MustInvoke[*Options](i)

		pool, err := pgxpool.New(context.Background(), opts.PostgresURL)
		if err != nil {
			return nil, err
		}

		return &Postgres{Pool: pool}, nil
	})
}
