package ratelimit

import (
	"context"
	"fmt"
)

// Scope categorizes a request for rate limiting purposes.
// Different scopes can have different rate limits applied.
type Scope string

const (
	// ScopeGlobal applies to all requests regardless of type.
	ScopeGlobal Scope = "global"
	// ScopeRead applies to read operations (GET, HEAD, OPTIONS).
	ScopeRead Scope = "read"
	// ScopeWrite applies to write operations (POST, PUT, PATCH, DELETE).
	ScopeWrite Scope = "write"
)

// LimitExceeded contains information about which limit was exceeded.
type LimitExceeded struct {
	Scope    Scope
	Decision *Decision
}

// PolicyLimiter enforces one limiter per scope.
type PolicyLimiter struct {
	limiters map[Scope]Checker
}

// NewPolicyLimiter creates a new policy-based rate limiter.
func NewPolicyLimiter(limiters map[Scope]Checker) *PolicyLimiter {
	return &PolicyLimiter{limiters: limiters}
}

// Allow checks every applicable scope in order and stops at the first denial.
// Scopes without a limiter are skipped. The LimitExceeded return value
// describes the denial and is nil when the request is allowed.
func (l *PolicyLimiter) Allow(ctx context.Context, clientKey string, scopes []Scope) (bool, *LimitExceeded, error) {
	return l.AllowN(ctx, clientKey, scopes, 1)
}

// AllowN is Allow for a request that consumes cost points in every scope.
// Scopes checked before a denial keep the points they consumed.
func (l *PolicyLimiter) AllowN(
	ctx context.Context,
	clientKey string,
	scopes []Scope,
	cost int64,
) (bool, *LimitExceeded, error) {
	for _, scope := range scopes {
		limiter, ok := l.limiters[scope]
		if !ok {
			continue
		}

		decision, err := limiter.Check(ctx, buildKey(clientKey, scope), cost)
		if err != nil {
			return false, nil, err
		}

		if !decision.Allowed {
			return false, &LimitExceeded{
				Scope:    scope,
				Decision: decision,
			}, nil
		}
	}

	return true, nil, nil
}

// Limiter returns the checker bound to scope.
func (l *PolicyLimiter) Limiter(scope Scope) (Checker, bool) {
	c, ok := l.limiters[scope]

	return c, ok
}

// buildKey keeps counters for different scopes of the same client apart.
func buildKey(clientKey string, scope Scope) string {
	return fmt.Sprintf("%s:%s", clientKey, scope)
}
