package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/RoiLaboratories/BaseBuddy/internal/blockchain"
	"github.com/RoiLaboratories/BaseBuddy/internal/pools"
	"github.com/RoiLaboratories/BaseBuddy/internal/swap"
	"github.com/RoiLaboratories/BaseBuddy/internal/tokens"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`

	Supported []string `json:"supported,omitempty"`

	// set for insufficient liquidity, in base units
	Required       string  `json:"required,omitempty"`
	Max            string  `json:"max,omitempty"`
	Achievable     string  `json:"achievable,omitempty"`
	ShortfallRatio float64 `json:"shortfall_ratio,omitempty"`
	Pool           string  `json:"pool,omitempty"`
}

// classify maps an error to a status and a response body.
func classify(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error()}

	var (
		unsupported *tokens.UnsupportedTokenError
		noRoute     *swap.NoRouteError
		liquidity   *swap.InsufficientLiquidityError
		zero        *swap.ZeroAmountError
		provider    *blockchain.ProviderError
	)
	switch {
	case errors.As(err, &unsupported):
		resp.Code = "unsupported_token"
		resp.Supported = unsupported.Supported
		return http.StatusNotFound, resp
	case errors.As(err, &noRoute):
		resp.Code = "no_route"
		return http.StatusNotFound, resp
	case errors.As(err, &liquidity):
		resp.Code = "insufficient_liquidity"
		if liquidity.Required != nil {
			resp.Required = liquidity.Required.String()
		}
		if liquidity.Max != nil {
			resp.Max = liquidity.Max.String()
		}
		if liquidity.Achievable != nil {
			resp.Achievable = liquidity.Achievable.String()
		}
		resp.ShortfallRatio = liquidity.ShortfallRatio
		if liquidity.Required == nil {
			resp.Pool = liquidity.Pool.Hex()
		}
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &zero),
		errors.Is(err, errBadRequest),
		errors.Is(err, swap.ErrInvalidSlippage),
		errors.Is(err, swap.ErrSameToken),
		errors.Is(err, swap.ErrDustAmount),
		errors.Is(err, tokens.ErrInvalidAmount),
		errors.Is(err, pools.ErrIdenticalTokens):
		resp.Code = "invalid_request"
		return http.StatusBadRequest, resp
	case errors.As(err, &provider):
		resp.Code = "provider_error"
		return http.StatusBadGateway, resp
	case errors.Is(err, context.DeadlineExceeded):
		resp.Code = "timeout"
		return http.StatusGatewayTimeout, resp
	default:
		resp.Code = "internal"
		return http.StatusInternalServerError, resp
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := classify(err)
	s.cfg.Metrics.RecordError(r.Context(), resp.Code)
	if status >= http.StatusInternalServerError {
		s.logger.LogError(r.Context(), "request failed", err, "path", r.URL.Path, "status", status)
	} else {
		s.logger.LogDebug(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "error", err.Error())
	}
	writeJSON(w, status, resp)
}
