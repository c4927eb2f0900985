package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/RoiLaboratories/BaseBuddy/internal/swap"
	"github.com/RoiLaboratories/BaseBuddy/internal/tokens"
)

type tokenResponse struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Native   bool   `json:"native"`
}

func newTokenResponse(t tokens.Token) tokenResponse {
	return tokenResponse{
		Symbol:   t.Symbol,
		Name:     t.Name,
		Address:  t.Address.Hex(),
		Decimals: t.Decimals,
		Native:   t.Native(),
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	t, err := s.cfg.Tokens.Resolve(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(t))
}

type paramsResponse struct {
	Pool             string `json:"pool"`
	Router           string `json:"router"`
	Recipient        string `json:"recipient"`
	AmountIn         string `json:"amount_in,omitempty"`
	AmountOutMinimum string `json:"amount_out_minimum,omitempty"`
	AmountOut        string `json:"amount_out,omitempty"`
	AmountInMaximum  string `json:"amount_in_maximum,omitempty"`
	Path             string `json:"path"`
	Deadline         int64  `json:"deadline"`
}

type quoteResponse struct {
	Direction     string         `json:"direction"`
	TokenIn       tokenResponse  `json:"token_in"`
	TokenOut      tokenResponse  `json:"token_out"`
	AmountIn      string         `json:"amount_in"`
	AmountOut     string         `json:"amount_out"`
	MinimumOutput string         `json:"minimum_output"`
	MaximumInput  string         `json:"maximum_input,omitempty"`
	PriceImpact   float64        `json:"price_impact_pct"`
	Fee           float64        `json:"fee_pct"`
	Slippage      float64        `json:"slippage_pct"`
	Route         []string       `json:"route"`
	Params        paramsResponse `json:"params"`
}

func rawString(n *big.Int) string {
	if n == nil {
		return ""
	}
	return n.String()
}

func newQuoteResponse(q *swap.Quote) quoteResponse {
	p := q.Params
	return quoteResponse{
		Direction:     q.Direction.String(),
		TokenIn:       newTokenResponse(q.TokenIn),
		TokenOut:      newTokenResponse(q.TokenOut),
		AmountIn:      q.FormattedInput(),
		AmountOut:     q.FormattedOutput(),
		MinimumOutput: q.FormattedMinimum(),
		MaximumInput:  q.FormattedMaximum(),
		PriceImpact:   q.PriceImpact,
		Fee:           q.Fee,
		Slippage:      q.SlippagePct,
		Route:         q.Route,
		Params: paramsResponse{
			Pool:             p.Pool.Hex(),
			Router:           p.Router.Hex(),
			Recipient:        p.Recipient.Hex(),
			AmountIn:         rawString(p.AmountIn),
			AmountOutMinimum: rawString(p.AmountOutMinimum),
			AmountOut:        rawString(p.AmountOut),
			AmountInMaximum:  rawString(p.AmountInMaximum),
			Path:             hexutil.Encode(p.Path),
			Deadline:         p.Deadline.Unix(),
		},
	}
}

// handleQuote serves exact input when amount is set and exact output when
// amountOut and maxIn are set.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in, out := q.Get("in"), q.Get("out")
	if pair := q.Get("pair"); pair != "" && in == "" && out == "" {
		var err error
		if in, out, err = tokens.ParsePair(pair); err != nil {
			s.writeError(w, r, badRequest(err.Error()))
			return
		}
	}
	if in == "" || out == "" {
		s.writeError(w, r, badRequest("in and out are required"))
		return
	}

	slippage := s.cfg.DefaultSlippage
	if raw := q.Get("slippage"); raw != "" {
		v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
		if err != nil {
			s.writeError(w, r, badRequest(fmt.Sprintf("invalid slippage %q", raw)))
			return
		}
		slippage = v
	}

	amount, amountOut, maxIn := q.Get("amount"), q.Get("amountOut"), q.Get("maxIn")
	var (
		quote *swap.Quote
		err   error
	)
	switch {
	case amount != "" && amountOut == "":
		quote, err = s.cfg.Quotes.QuoteExactInput(r.Context(), in, out, amount, slippage)
	case amount == "" && amountOut != "" && maxIn != "":
		quote, err = s.cfg.Quotes.QuoteExactOutput(r.Context(), in, out, amountOut, maxIn, slippage)
	default:
		err = badRequest("set either amount, or amountOut and maxIn")
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(quote))
}

type priceResponse struct {
	Token    tokenResponse `json:"token"`
	PriceUSD float64       `json:"price_usd"`
	// Priced is false when no price policy or pool yields a price.
	Priced bool `json:"priced"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	t, err := s.cfg.Tokens.Resolve(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	price, err := s.cfg.Prices.PriceOf(r.Context(), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{Token: newTokenResponse(t), PriceUSD: price, Priced: price > 0})
}

type balanceEntry struct {
	Symbol   string  `json:"symbol"`
	Address  string  `json:"address"`
	Balance  string  `json:"balance"`
	Raw      string  `json:"raw"`
	USDValue float64 `json:"usd_value"`
}

type balancesResponse struct {
	Owner    string         `json:"owner"`
	Entries  []balanceEntry `json:"entries"`
	Skipped  []string       `json:"skipped,omitempty"`
	TotalUSD string         `json:"total_usd"`
	ReadAt   time.Time      `json:"read_at"`
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		s.writeError(w, r, badRequest(fmt.Sprintf("invalid address %q", raw)))
		return
	}
	p, err := s.cfg.Balances.AllBalances(r.Context(), common.HexToAddress(raw))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := balancesResponse{
		Owner:    p.Owner.Hex(),
		Entries:  make([]balanceEntry, len(p.Entries)),
		Skipped:  p.Skipped,
		TotalUSD: p.TotalUSD().String(),
		ReadAt:   p.ReadAt,
	}
	for i, e := range p.Entries {
		resp.Entries[i] = balanceEntry{
			Symbol:   e.Symbol,
			Address:  e.Token.Address.Hex(),
			Balance:  e.Balance,
			Raw:      e.Raw.String(),
			USDValue: e.USDValue,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status     string `json:"status"`
	Chain      string `json:"chain"`
	ChainError string `json:"chain_error,omitempty"`
	Price      any    `json:"price"`
}

// handleHealth reports "degraded" when the native price is coming from a
// fallback stage and "unhealthy" when the chain probe fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Chain: "ok"}
	status := http.StatusOK

	if s.cfg.Prices != nil {
		h := s.cfg.Prices.Health()
		resp.Price = h
		if h.Degraded() {
			resp.Status = "degraded"
		}
	}
	if s.cfg.Chain != nil {
		if err := s.cfg.Chain.Health(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Chain = "down"
			resp.ChainError = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Chain != nil {
		if err := s.cfg.Chain.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", errBadRequest, msg)
}
