package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/quotaguard/internal/clientkey"
	"github.com/serroba/quotaguard/internal/middleware"
	"github.com/serroba/quotaguard/internal/ratelimit"
	"go.uber.org/zap"
)

// KeyAdmin adjusts the counters of a key outside of a check.
type KeyAdmin interface {
	Penalty(ctx context.Context, key string, points int64) error
	Reward(ctx context.Context, key string, points int64) error
	Reset(ctx context.Context, key string) error
}

// QuotaHandler exposes a limiter over HTTP.
type QuotaHandler struct {
	checker   ratelimit.Checker
	admin     KeyAdmin
	prefixLen int
	logger    *zap.Logger
}

// NewQuotaHandler creates a handler that checks keys with checker and
// adjusts them through admin. Keys that are IPv6 addresses are masked to
// prefixLen bits before they reach either.
func NewQuotaHandler(checker ratelimit.Checker, admin KeyAdmin, prefixLen int, logger *zap.Logger) *QuotaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QuotaHandler{
		checker:   checker,
		admin:     admin,
		prefixLen: prefixLen,
		logger:    logger,
	}
}

func (h *QuotaHandler) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	key := clientkey.MaskIPv6(req.Body.Key, h.prefixLen)

	decision, err := h.checker.Check(ctx, key, req.Body.Cost)
	if err != nil {
		return nil, h.toHTTPError("check failed", key, err)
	}

	resp := &CheckResponse{}
	resp.Body.Key = key
	resp.Body.Allowed = decision.Allowed
	resp.Body.Reason = string(decision.Reason)
	resp.Body.Limit = decision.Info.Limit
	resp.Body.Remaining = decision.Info.Remaining
	resp.Body.Reset = decision.Info.Reset

	return resp, nil
}

func (h *QuotaHandler) Penalty(ctx context.Context, req *AdjustRequest) (*struct{}, error) {
	key := clientkey.MaskIPv6(req.Key, h.prefixLen)

	if err := h.admin.Penalty(ctx, key, req.Body.Points); err != nil {
		return nil, h.toHTTPError("penalty failed", key, err)
	}

	return nil, nil
}

func (h *QuotaHandler) Reward(ctx context.Context, req *AdjustRequest) (*struct{}, error) {
	key := clientkey.MaskIPv6(req.Key, h.prefixLen)

	if err := h.admin.Reward(ctx, key, req.Body.Points); err != nil {
		return nil, h.toHTTPError("reward failed", key, err)
	}

	return nil, nil
}

func (h *QuotaHandler) Reset(ctx context.Context, req *ResetRequest) (*struct{}, error) {
	key := clientkey.MaskIPv6(req.Key, h.prefixLen)

	if err := h.admin.Reset(ctx, key); err != nil {
		return nil, h.toHTTPError("reset failed", key, err)
	}

	return nil, nil
}

func (h *QuotaHandler) Mask(ctx context.Context, req *MaskRequest) (*MaskResponse, error) {
	ip := req.IP
	if ip == "" {
		info, ok := middleware.ClientInfoFromContext(ctx)
		if !ok || info.ClientIP == "" {
			return nil, huma.Error400BadRequest("ip is required")
		}

		ip = info.ClientIP
	}

	resp := &MaskResponse{}
	resp.Body.IP = ip
	resp.Body.Masked = clientkey.MaskIPv6(ip, req.Prefix)
	resp.Body.Prefix = req.Prefix

	return resp, nil
}

func (h *QuotaHandler) toHTTPError(msg, key string, err error) error {
	switch {
	case errors.Is(err, ratelimit.ErrInvalidCost):
		return huma.Error400BadRequest("points must not be negative")
	case errors.Is(err, ratelimit.ErrRewardUnsupported):
		return huma.Error501NotImplemented("the configured store cannot give points back")
	case errors.Is(err, ratelimit.ErrAdjustUnsupported):
		return huma.Error501NotImplemented("the configured limiter cannot adjust keys")
	}

	h.logger.Error(msg, zap.String("key", key), zap.Error(err))

	return huma.Error500InternalServerError(msg)
}
