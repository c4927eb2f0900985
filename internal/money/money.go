// Package money provides fixed-point amounts for display totals.
// Dollar values are held as int64 cents so that sums do not drift.
package money

import (
	"fmt"
	"math"
)

const (
	USDScale int64 = 100   // $1.00 = 100
	BPSScale int64 = 10000 // 100% = 10000
)

// USD represents US dollars in cents.
type USD int64

// BPS represents basis points (1 bps = 0.01%).
type BPS int64

// NewUSD creates USD from a dollar amount, rounded to the nearest cent.
func NewUSD(dollars float64) USD {
	if math.IsNaN(dollars) || math.IsInf(dollars, 0) {
		return 0
	}
	return USD(math.Round(dollars * float64(USDScale)))
}

// NewUSDFromCents creates USD from cents.
func NewUSDFromCents(cents int64) USD {
	return USD(cents)
}

// Zero returns zero USD.
func Zero() USD {
	return USD(0)
}

// Add returns a + b.
func (a USD) Add(b USD) USD {
	return a + b
}

// Sub returns a - b.
func (a USD) Sub(b USD) USD {
	return a - b
}

// IsZero returns true if == 0.
func (a USD) IsZero() bool {
	return a == 0
}

// Float64 converts to float64 for display.
func (a USD) Float64() float64 {
	return float64(a) / float64(USDScale)
}

// Cents returns the raw cent value.
func (a USD) Cents() int64 {
	return int64(a)
}

// String returns formatted string like "$123.45" or "-$45.00".
func (a USD) String() string {
	if a < 0 {
		return fmt.Sprintf("-$%d.%02d", int64(-a)/USDScale, int64(-a)%USDScale)
	}
	return fmt.Sprintf("$%d.%02d", int64(a)/USDScale, int64(a)%USDScale)
}

// MarshalText renders the same string as String.
func (a USD) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// NewBPSFromInt creates BPS directly from basis points.
func NewBPSFromInt(bps int64) BPS {
	return BPS(bps)
}

// Float64 returns the percentage as float (e.g., 30 bps = 0.3).
func (a BPS) Float64() float64 {
	return float64(a) / 100.0
}

// Percent returns as percentage string (e.g., "0.30%").
func (a BPS) Percent() string {
	return fmt.Sprintf("%.2f%%", a.Float64())
}

// String returns basis points as string (e.g., "30 bps").
func (a BPS) String() string {
	return fmt.Sprintf("%d bps", a)
}

// Int64 returns raw basis points value.
func (a BPS) Int64() int64 {
	return int64(a)
}
