package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/quotaguard/internal/ratelimit"
	"go.uber.org/zap"
)

// RateLimiter returns a huma middleware that applies a single limiter to every request.
func RateLimiter(
	api huma.API,
	limiter ratelimit.Checker,
	key KeyFunc,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		decision, err := limiter.Check(ctx.Context(), key(ctx), 1)
		if err != nil {
			logger.Error("rate limit check failed", zap.String("path", operationPath(ctx)), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		if !decision.Allowed {
			writeLimitExceeded(api, ctx, &ratelimit.LimitExceeded{Scope: ratelimit.ScopeGlobal, Decision: decision}, logger)

			return
		}

		next(ctx)
	}
}

// PolicyRateLimiter returns a huma middleware that checks every scope the
// resolver assigns to the request.
//
// Operations can carry an EndpointConfig under MetadataKey to disable rate
// limiting, pin the scope, or set a per-request cost.
func PolicyRateLimiter(
	api huma.API,
	limiter *ratelimit.PolicyLimiter,
	resolver ScopeResolver,
	key KeyFunc,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		cost := int64(1)

		if cfg := GetEndpointConfig(ctx); cfg != nil {
			if cfg.Disabled {
				logger.Debug("rate limiting disabled for endpoint",
					zap.String("path", operationPath(ctx)), zap.String("method", ctx.Method()))
				next(ctx)

				return
			}

			if cfg.Cost > 0 {
				cost = cfg.Cost
			}
		}

		allowed, exceeded, err := limiter.AllowN(ctx.Context(), key(ctx), resolver.Resolve(ctx), cost)
		if err != nil {
			logger.Error("rate limit check failed", zap.String("path", operationPath(ctx)), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		if !allowed {
			writeLimitExceeded(api, ctx, exceeded, logger)

			return
		}

		next(ctx)
	}
}

// operationPath extracts the route template from the operation, if available.
func operationPath(ctx huma.Context) string {
	if op := ctx.Operation(); op != nil {
		return op.Path
	}

	return ""
}

func writeLimitExceeded(api huma.API, ctx huma.Context, exceeded *ratelimit.LimitExceeded, logger *zap.Logger) {
	msg := "rate limit exceeded"

	if exceeded != nil && exceeded.Decision != nil {
		info := exceeded.Decision.Info
		retryAfter := max(0, time.Until(info.Reset)).Round(time.Second)

		msg = fmt.Sprintf("rate limit exceeded: %s scope allows %d requests, retry in %s",
			exceeded.Scope, info.Limit, retryAfter)

		logger.Warn("rate limit exceeded",
			zap.String("path", operationPath(ctx)),
			zap.String("method", ctx.Method()),
			zap.String("scope", string(exceeded.Scope)),
			zap.String("reason", string(exceeded.Decision.Reason)),
			zap.Int64("limit", info.Limit),
			zap.Time("reset", info.Reset),
			zap.String("client_ip", ClientIP(ctx)),
		)
	}

	_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, msg)
}
