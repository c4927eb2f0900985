package pricing

import "math/big"

const floatPrec = 256

// pow10 returns 10^decimals as *big.Int
func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// RawToFloat converts base units into whole-token units.
func RawToFloat(raw *big.Int, decimals uint8) *big.Float {
	if raw == nil {
		return new(big.Float).SetPrec(floatPrec)
	}
	val := new(big.Float).SetPrec(floatPrec).SetInt(raw)
	scale := new(big.Float).SetPrec(floatPrec).SetInt(pow10(decimals))
	return val.Quo(val, scale)
}
