package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/quotaguard/internal/middleware"
	"github.com/serroba/quotaguard/internal/ratelimit"
)

// resetCost makes clearing a key count for more than a single write.
const resetCost = 5

// RegisterRoutes registers the quota API with per-endpoint rate limit configuration.
func RegisterRoutes(api huma.API, h *QuotaHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "check-key",
		Method:      http.MethodPost,
		Path:        "/v1/check",
		Summary:     "Check a key",
		Description: "Consumes points for the key and reports whether the request is admitted.",
		Tags:        []string{"Quota"},
		Metadata: map[string]any{
			middleware.MetadataKey: middleware.EndpointConfig{Scope: ratelimit.ScopeRead},
		},
	}, h.Check)

	huma.Register(api, huma.Operation{
		OperationID:   "penalize-key",
		Method:        http.MethodPost,
		Path:          "/v1/keys/{key}/penalty",
		Summary:       "Penalize a key",
		Description:   "Consumes points from the key's current window without a decision.",
		Tags:          []string{"Quota"},
		DefaultStatus: http.StatusNoContent,
		Metadata: map[string]any{
			middleware.MetadataKey: middleware.EndpointConfig{Scope: ratelimit.ScopeWrite},
		},
	}, h.Penalty)

	huma.Register(api, huma.Operation{
		OperationID:   "reward-key",
		Method:        http.MethodPost,
		Path:          "/v1/keys/{key}/reward",
		Summary:       "Reward a key",
		Description:   "Gives points back to the key's current window.",
		Tags:          []string{"Quota"},
		DefaultStatus: http.StatusNoContent,
		Metadata: map[string]any{
			middleware.MetadataKey: middleware.EndpointConfig{Scope: ratelimit.ScopeWrite},
		},
	}, h.Reward)

	huma.Register(api, huma.Operation{
		OperationID:   "reset-key",
		Method:        http.MethodDelete,
		Path:          "/v1/keys/{key}",
		Summary:       "Reset a key",
		Description:   "Clears the key's counters and lifts any block on it.",
		Tags:          []string{"Quota"},
		DefaultStatus: http.StatusNoContent,
		Metadata: map[string]any{
			middleware.MetadataKey: middleware.EndpointConfig{Scope: ratelimit.ScopeWrite, Cost: resetCost},
		},
	}, h.Reset)

	huma.Register(api, huma.Operation{
		OperationID: "mask-address",
		Method:      http.MethodGet,
		Path:        "/v1/mask",
		Summary:     "Mask an address",
		Description: "Shows the subnet an address is grouped into for rate limiting.",
		Tags:        []string{"Quota"},
	}, h.Mask)
}
