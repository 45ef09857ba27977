package container

import (
	"github.com/samber/do"
	"github.com/serroba/quotaguard/internal/analytics"
	"github.com/serroba/quotaguard/internal/ratelimit"
	"go.uber.org/zap"
)

// RateLimitPackage provides the quota limiter behind the API and the
// per-scope limiters protecting the API itself.
func RateLimitPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*ratelimit.BlockCache, error) {
		return ratelimit.NewBlockCache(), nil
	})

	do.Provide(i, func(i *do.Injector) (*ratelimit.Limiter, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		d, err := opts.durations()
		if err != nil {
			return nil, err
		}

		algorithm, err := ratelimit.ParseAlgorithm(opts.Algorithm)
		if err != nil {
			return nil, err
		}

		var hook ratelimit.DecisionHook
		if opts.Events != BackendNone {
			hook = do.MustInvoke[*analytics.Publisher](i).Hook()
		}

		return ratelimit.NewLimiter(ratelimit.Config{
			Store:         do.MustInvokeNamed[ratelimit.Store](i, QuotaStore),
			Fallback:      fallback(i, QuotaFallbackStore),
			Limit:         int64(opts.Limit),
			Window:        d.window,
			Algorithm:     algorithm,
			Whitelist:     keyList(opts.Whitelist),
			Blacklist:     keyList(opts.Blacklist),
			BlockCache:    do.MustInvoke[*ratelimit.BlockCache](i),
			BlockDuration: d.blockDuration,
			Timeout:       d.timeout,
			OnDecision:    hook,
			Logger:        logger,
		})
	})

	do.Provide(i, func(i *do.Injector) (ratelimit.Checker, error) {
		opts := do.MustInvoke[*Options](i)
		primary := do.MustInvoke[*ratelimit.Limiter](i)

		if opts.BurstLimit <= 0 {
			return primary, nil
		}

		d, err := opts.durations()
		if err != nil {
			return nil, err
		}

		burst, err := ratelimit.NewLimiter(ratelimit.Config{
			Store:     do.MustInvokeNamed[ratelimit.Store](i, BurstStore),
			Fallback:  fallback(i, BurstFallbackStore),
			Limit:     int64(opts.BurstLimit),
			Window:    d.burstWindow,
			Algorithm: ratelimit.AlgorithmFixed,
			Timeout:   d.timeout,
			Logger:    do.MustInvoke[*zap.Logger](i),
		})
		if err != nil {
			return nil, err
		}

		return ratelimit.NewBurstyLimiter(primary, burst), nil
	})

	do.Provide(i, func(i *do.Injector) (*ratelimit.PolicyLimiter, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		d, err := opts.durations()
		if err != nil {
			return nil, err
		}

		limits := map[ratelimit.Scope]int{
			ratelimit.ScopeGlobal: opts.APIGlobalLimit,
			ratelimit.ScopeRead:   opts.APIReadLimit,
			ratelimit.ScopeWrite:  opts.APIWriteLimit,
		}

		cache := ratelimit.NewBlockCache()
		limiters := make(map[ratelimit.Scope]ratelimit.Checker, len(limits))

		for scope, limit := range limits {
			if limit <= 0 {
				continue
			}

			limiter, err := ratelimit.NewLimiter(ratelimit.Config{
				Store:      do.MustInvokeNamed[ratelimit.Store](i, APIStore),
				Fallback:   fallback(i, APIFallbackStore),
				Limit:      int64(limit),
				Window:     d.apiWindow,
				BlockCache: cache,
				Timeout:    d.timeout,
				Logger:     logger.With(zap.String("scope", string(scope))),
			})
			if err != nil {
				return nil, err
			}

			limiters[scope] = limiter
		}

		return ratelimit.NewPolicyLimiter(limiters), nil
	})
}
