package swap

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/RoiLaboratories/BaseBuddy/internal/pools"
	"github.com/RoiLaboratories/BaseBuddy/internal/tokens"
)

// Direction is which side of a quote is fixed.
type Direction int

const (
	// ExactInput fixes the amount sold.
	ExactInput Direction = iota
	// ExactOutput fixes the amount bought.
	ExactOutput
)

func (d Direction) String() string {
	if d == ExactOutput {
		return "exact_output"
	}
	return "exact_input"
}

// MarshalJSON implements JSON marshaling for Direction
func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Hop is one pool of a route.
type Hop struct {
	Pool     *pools.Pool
	TokenIn  tokens.Token
	TokenOut tokens.Token
}

// SwapParams are the router arguments for a quote. Calldata encoding is
// left to the caller.
type SwapParams struct {
	// Pool is the first hop's pool.
	Pool      common.Address `json:"pool"`
	Router    common.Address `json:"router"`
	Recipient common.Address `json:"recipient"`

	// Exact input
	AmountIn         *big.Int `json:"amount_in,omitempty"`
	AmountOutMinimum *big.Int `json:"amount_out_minimum,omitempty"`

	// Exact output
	AmountOut       *big.Int `json:"amount_out,omitempty"`
	AmountInMaximum *big.Int `json:"amount_in_maximum,omitempty"`

	// Path is the packed router path, reversed for exact output.
	Path     []byte    `json:"path"`
	Deadline time.Time `json:"deadline"`
}

// Quote is a priced swap. It is computed per request and never stored.
type Quote struct {
	Direction Direction    `json:"direction"`
	TokenIn   tokens.Token `json:"token_in"`
	TokenOut  tokens.Token `json:"token_out"`

	AmountIn      *big.Int `json:"amount_in"`
	AmountOut     *big.Int `json:"amount_out"`
	MinimumOutput *big.Int `json:"minimum_output"`
	// MaximumInput is set for exact output only.
	MaximumInput *big.Int `json:"maximum_input,omitempty"`

	SlippagePct float64 `json:"slippage_pct"`
	// PriceImpact is a percentage.
	PriceImpact float64 `json:"price_impact"`
	// Fee is the summed fee percentage of all hops.
	Fee float64 `json:"fee"`

	Route  []string   `json:"route"`
	Hops   []Hop      `json:"-"`
	Params SwapParams `json:"params"`
}

// FormattedInput returns AmountIn in whole tokens.
func (q *Quote) FormattedInput() string {
	return q.TokenIn.FormatAmount(q.AmountIn)
}

// FormattedOutput returns AmountOut in whole tokens.
func (q *Quote) FormattedOutput() string {
	return q.TokenOut.FormatAmount(q.AmountOut)
}

// FormattedMinimum returns MinimumOutput in whole tokens.
func (q *Quote) FormattedMinimum() string {
	return q.TokenOut.FormatAmount(q.MinimumOutput)
}

// FormattedMaximum returns MaximumInput in whole tokens, or "" for exact
// input quotes.
func (q *Quote) FormattedMaximum() string {
	if q.MaximumInput == nil {
		return ""
	}
	return q.TokenIn.FormatAmount(q.MaximumInput)
}

// RouteString joins the route symbols, e.g. "PUMP -> WETH -> USDC".
func (q *Quote) RouteString() string {
	return strings.Join(q.Route, " -> ")
}

// FormatCompact returns a single-line summary for logs and the CLI.
func (q *Quote) FormatCompact() string {
	if q.Direction == ExactOutput {
		return fmt.Sprintf("[%s] %s %s for %s %s (max %s) | impact %.4f%% | fee %g%% | %s",
			q.Direction, q.FormattedInput(), q.TokenIn.Symbol,
			q.FormattedOutput(), q.TokenOut.Symbol, q.FormattedMaximum(),
			q.PriceImpact, q.Fee, q.RouteString(),
		)
	}
	return fmt.Sprintf("[%s] %s %s -> %s %s (min %s) | impact %.4f%% | fee %g%% | %s",
		q.Direction, q.FormattedInput(), q.TokenIn.Symbol,
		q.FormattedOutput(), q.TokenOut.Symbol, q.FormattedMinimum(),
		q.PriceImpact, q.Fee, q.RouteString(),
	)
}
