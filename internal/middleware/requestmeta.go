package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/quotaguard/internal/clientkey"
)

type clientInfoKey struct{}

// ClientInfo describes the client behind a request.
type ClientInfo struct {
	// ClientIP is the address as seen by the server, unmasked.
	ClientIP  string
	UserAgent string
	// ClientKey is the rate limit key derived from the masked address and User-Agent.
	ClientKey string
}

// ContextWithClientInfo returns a copy of ctx carrying info.
func ContextWithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFromContext returns the ClientInfo stored by the RequestMeta middleware.
func ClientInfoFromContext(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientInfoKey{}).(ClientInfo)

	return info, ok
}

// KeyFunc derives the rate limit key for a request.
type KeyFunc func(ctx huma.Context) string

// NewClientKeyFunc hashes the client address, masked to prefixLen bits when
// it is IPv6, together with the User-Agent.
func NewClientKeyFunc(prefixLen int) KeyFunc {
	return func(ctx huma.Context) string {
		return hashClientKey(clientkey.MaskIPv6(ClientIP(ctx), prefixLen), ctx.Header("User-Agent"))
	}
}

// RequestMeta is a middleware that adds the client address, user-agent and
// rate limit key to the request context.
func RequestMeta(prefixLen int) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		ip := ClientIP(ctx)
		ua := ctx.Header("User-Agent")

		info := ClientInfo{
			ClientIP:  ip,
			UserAgent: ua,
			ClientKey: hashClientKey(clientkey.MaskIPv6(ip, prefixLen), ua),
		}

		next(huma.WithContext(ctx, ContextWithClientInfo(ctx.Context(), info)))
	}
}

// ClientIP extracts the client address from the request, considering proxies.
func ClientIP(ctx huma.Context) string {
	// The first X-Forwarded-For entry is the original client.
	if xff := ctx.Header("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	if xri := ctx.Header("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	addr := ctx.RemoteAddr()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}

	return host
}

func hashClientKey(ip, userAgent string) string {
	hash := sha256.Sum256([]byte(ip + "|" + userAgent))

	return hex.EncodeToString(hash[:])
}
