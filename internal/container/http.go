package container

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"github.com/serroba/quotaguard/internal/handlers"
	"github.com/serroba/quotaguard/internal/health"
	"github.com/serroba/quotaguard/internal/middleware"
	"github.com/serroba/quotaguard/internal/ratelimit"
	"go.uber.org/zap"
)

// HTTPPackage provides the router and the API with every route registered.
func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		router := do.MustInvoke[*chi.Mux](i)

		api := humachi.New(router, huma.DefaultConfig("Quotaguard", "1.0.0"))

		api.UseMiddleware(middleware.RequestMeta(opts.IPv6Prefix))
		api.UseMiddleware(middleware.PolicyRateLimiter(
			api,
			do.MustInvoke[*ratelimit.PolicyLimiter](i),
			middleware.NewOperationScopeResolver(),
			middleware.NewClientKeyFunc(opts.IPv6Prefix),
			logger,
		))

		health.RegisterRoutes(api, health.NewHandler(healthCheckers(i, opts)))

		// Both the plain and the bursty limiter administer their own keys.
		checker := do.MustInvoke[ratelimit.Checker](i)

		admin, ok := checker.(handlers.KeyAdmin)
		if !ok {
			admin = do.MustInvoke[*ratelimit.Limiter](i)
		}

		handlers.RegisterRoutes(api, handlers.NewQuotaHandler(checker, admin, opts.IPv6Prefix, logger))

		return api, nil
	})
}

func healthCheckers(i *do.Injector, opts *Options) map[string]health.Checker {
	checkers := make(map[string]health.Checker)

	if opts.usesBackend(BackendRedis) {
		checkers[BackendRedis] = health.NewRedisChecker(do.MustInvoke[*Redis](i).Client)
	}

	if opts.usesBackend(BackendPostgres) {
		checkers[BackendPostgres] = health.NewPostgresChecker(do.MustInvoke[*Postgres](i).Pool)
	}

	return checkers
}
