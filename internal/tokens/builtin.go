package tokens

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Builtin returns the supported tokens on Base mainnet, native asset first.
func Builtin() []Token {
	return []Token{
		{
			Symbol:   "ETH",
			Address:  common.Address{},
			Decimals: 18,
			Name:     "Ethereum",
		},
		{
			Symbol:   "WETH",
			Address:  WETHAddress,
			Decimals: 18,
			Name:     "Wrapped Ether",
		},
		{
			Symbol:   "USDC",
			Address:  common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
			Decimals: 6,
			Name:     "USD Coin",
		},
		{
			Symbol:   "USDbC",
			Address:  common.HexToAddress("0xd9aAEc86B65D86f6A7B5B1b0c42FFA531710b6CA"),
			Decimals: 6,
			Name:     "USD Base Coin",
		},
		{
			Symbol:   "cbETH",
			Address:  common.HexToAddress("0x2Ae3F1Ec7F1F5012CFEab0185bfc7aa3cf0DEc22"),
			Decimals: 18,
			Name:     "Coinbase Wrapped Staked ETH",
		},
		{
			Symbol:   "PUMP",
			Address:  common.HexToAddress("0x32c43d8D7245924f9232D69200fbE139aC05227B"),
			Decimals: 18,
			Name:     "Pump",
		},
		{
			Symbol:   "ENB",
			Address:  common.HexToAddress("0xF73978B3A7D1d4974abAE11f696c1b4408c027A0"),
			Decimals: 18,
			Name:     "Everybody Needs Base",
		},
	}
}

// ParsePair splits a pair string like "ETH-USDC" or "PUMP/WETH" into its
// input and output sides. Either side may be a symbol or an address.
//
// Example: ParsePair("ETH-USDC") returns ("ETH", "USDC", nil).
func ParsePair(pair string) (in, out string, err error) {
	sep := "-"
	if strings.Contains(pair, "/") {
		sep = "/"
	}
	parts := strings.Split(pair, sep)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid pair format: %s (expected IN-OUT like ETH-USDC)", pair)
	}

	in, out = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if in == "" || out == "" {
		return "", "", fmt.Errorf("invalid pair format: %s (empty side)", pair)
	}
	if strings.EqualFold(in, out) {
		return "", "", fmt.Errorf("input and output tokens must be different: %s", pair)
	}
	return in, out, nil
}
