package tokens

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// WETHAddress is the wrapped native asset on Base. It is a predeploy, so it
// never changes.
var WETHAddress = common.HexToAddress("0x4200000000000000000000000000000000000006")

// ErrInvalidAmount is returned for amounts that do not parse as decimals.
var ErrInvalidAmount = errors.New("invalid amount")

// Token is an ERC-20 or the native asset. The native asset uses the zero
// address.
type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Name     string         `json:"name"`
}

// Native reports whether t is the chain's native asset.
func (t Token) Native() bool {
	return t.Address == (common.Address{})
}

// PoolAddress is the address used for pool lookups: WETH for the native
// asset, the token itself otherwise.
func (t Token) PoolAddress() common.Address {
	if t.Native() {
		return WETHAddress
	}
	return t.Address
}

// SamePoolToken reports whether a and b trade as the same pool token,
// e.g. ETH and WETH.
func SamePoolToken(a, b Token) bool {
	return a.PoolAddress() == b.PoolAddress()
}

func (t Token) String() string {
	return t.Symbol
}

// maxAmountDigits bounds the decimal exponent accepted by ParseAmount.
// 2^256 has 78 digits, so nothing past that can be a valid amount.
const maxAmountDigits = 78

// ParseAmount converts a human decimal amount into base units. Digits
// beyond the token's precision are truncated toward zero. Amounts that do
// not fit a uint256 are rejected.
func (t Token) ParseAmount(amount string) (*big.Int, error) {
	d, err := ParseDecimal(amount)
	if err != nil {
		return nil, err
	}
	if d.IsZero() {
		return new(big.Int), nil
	}
	// scaling cost grows with the exponent, so bound it before shifting
	if exp := d.Exponent(); exp > maxAmountDigits || exp < -(int32(t.Decimals)+maxAmountDigits) {
		return nil, fmt.Errorf("%w %q: out of range", ErrInvalidAmount, amount)
	}
	raw := d.Shift(int32(t.Decimals)).Truncate(0).BigInt()
	if _, overflow := uint256.FromBig(raw); overflow {
		return nil, fmt.Errorf("%w %q: exceeds uint256", ErrInvalidAmount, amount)
	}
	return raw, nil
}

// ParseDecimal parses a human decimal amount without scaling it.
func ParseDecimal(amount string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w %q: %v", ErrInvalidAmount, amount, err)
	}
	return d, nil
}

// FormatAmount renders base units as a decimal string with trailing zeros
// trimmed.
func (t Token) FormatAmount(raw *big.Int) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw, -int32(t.Decimals)).String()
}

// Units returns raw as a decimal in whole-token units.
func (t Token) Units(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(t.Decimals))
}
