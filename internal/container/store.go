package container

import (
	"fmt"
	"time"

	"github.com/samber/do"
	"github.com/serroba/quotaguard/internal/ratelimit"
	"github.com/serroba/quotaguard/internal/store"
	"go.uber.org/zap"
)

// Named stores. A store is bound to a single window, so every limiter
// window gets its own instance.
const (
	QuotaStore         = "store.quota"
	QuotaFallbackStore = "store.quota.fallback"
	BurstStore         = "store.burst"
	BurstFallbackStore = "store.burst.fallback"
	APIStore           = "store.api"
	APIFallbackStore   = "store.api.fallback"
)

const (
	quotaKeyPrefix = "quota:"
	burstKeyPrefix = "burst:"
	apiKeyPrefix   = "api:"
)

// StorePackage provides the primary and fallback stores of the quota and API limiters.
func StorePackage(i *do.Injector) {
	provideStore(i, QuotaStore, func(o *Options) string { return o.Store }, func(d durations) time.Duration { return d.window }, quotaKeyPrefix)
	provideStore(i, QuotaFallbackStore, func(o *Options) string { return o.Fallback }, func(d durations) time.Duration { return d.window }, quotaKeyPrefix)
	provideStore(i, BurstStore, func(o *Options) string { return o.Store }, func(d durations) time.Duration { return d.burstWindow }, burstKeyPrefix)
	provideStore(i, BurstFallbackStore, func(o *Options) string { return o.Fallback }, func(d durations) time.Duration { return d.burstWindow }, burstKeyPrefix)
	provideStore(i, APIStore, func(o *Options) string { return o.Store }, func(d durations) time.Duration { return d.apiWindow }, apiKeyPrefix)
	provideStore(i, APIFallbackStore, func(o *Options) string { return o.Fallback }, func(d durations) time.Duration { return d.apiWindow }, apiKeyPrefix)
}

func provideStore(
	i *do.Injector,
	name string,
	backend func(*Options) string,
	window func(durations) time.Duration,
	prefix string,
) {
	do.ProvideNamed(i, name, func(i *do.Injector) (ratelimit.Store, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i).With(zap.String("store", name))

		d, err := opts.durations()
		if err != nil {
			return nil, err
		}

		return newStore(i, backend(opts), window(d), opts.RedisPrefix, prefix, logger)
	})
}

func newStore(
	i *do.Injector,
	backend string,
	window time.Duration,
	redisPrefix, prefix string,
	logger *zap.Logger,
) (ratelimit.Store, error) {
	switch backend {
	case BackendMemory:
		return store.NewMemoryStore(store.WithWindow(window), store.WithLogger(logger)), nil
	case BackendRedis:
		r := do.MustInvoke[*Redis](i)

		return store.NewRedisStore(r.Client, store.RedisConfig{Prefix: redisPrefix + prefix, Window: window}), nil
	case BackendPostgres:
		pg := do.MustInvoke[*Postgres](i)

		return store.NewPostgresStore(pg.Pool, store.PostgresConfig{Window: window, Prefix: prefix, Logger: logger}), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// fallback returns the named fallback store, or nil when none is configured.
func fallback(i *do.Injector, name string) ratelimit.Store {
	if do.MustInvoke[*Options](i).Fallback == BackendNone {
		return nil
	}

	return do.MustInvokeNamed[ratelimit.Store](i, name)
}
