package pricing

import "time"

// PriceSource names where the native price was last taken from.
type PriceSource string

const (
	SourcePool     PriceSource = "pool"
	SourceCbETH    PriceSource = "cbeth"
	SourceConstant PriceSource = "constant"
)

// OracleHealth is the state of native price derivation. It is reported by
// the /health endpoint.
type OracleHealth struct {
	// Source is the stage that produced the last native price
	Source PriceSource `json:"source"`

	// ETHPrice is the last native price handed out
	ETHPrice float64 `json:"eth_price"`

	// LastSuccess is when the pool stage last succeeded
	LastSuccess time.Time `json:"last_success,omitempty"`

	// LastFallback is when a fallback stage was last used
	LastFallback time.Time `json:"last_fallback,omitempty"`

	LastError string `json:"last_error,omitempty"`

	// ConsecutiveFallbacks counts native price reads since the pool stage
	// last worked
	ConsecutiveFallbacks int `json:"consecutive_fallbacks"`
}

// Degraded reports whether the native price is not coming from the primary
// pool.
func (h OracleHealth) Degraded() bool {
	return h.Source != "" && h.Source != SourcePool
}
