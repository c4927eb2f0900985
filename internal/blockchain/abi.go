package blockchain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const poolABIJSON = `[
  {"inputs": [], "name": "token0", "outputs": [{"type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "token1", "outputs": [{"type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "fee", "outputs": [{"type": "uint24"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "liquidity", "outputs": [{"type": "uint128"}], "stateMutability": "view", "type": "function"},
  {
    "inputs": [],
    "name": "slot0",
    "outputs": [
      {"name": "sqrtPriceX96", "type": "uint160"},
      {"name": "tick", "type": "int24"},
      {"name": "observationIndex", "type": "uint16"},
      {"name": "observationCardinality", "type": "uint16"},
      {"name": "observationCardinalityNext", "type": "uint16"},
      {"name": "feeProtocol", "type": "uint8"},
      {"name": "unlocked", "type": "bool"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

const erc20ABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

// Some older tokens return symbol() as bytes32.
const erc20Bytes32ABIJSON = `[
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

const multicall3ABIJSON = `[
  {
    "inputs": [
      {
        "components": [
          {"name": "target", "type": "address"},
          {"name": "allowFailure", "type": "bool"},
          {"name": "callData", "type": "bytes"}
        ],
        "name": "calls",
        "type": "tuple[]"
      }
    ],
    "name": "aggregate3",
    "outputs": [
      {
        "components": [
          {"name": "success", "type": "bool"},
          {"name": "returnData", "type": "bytes"}
        ],
        "name": "returnData",
        "type": "tuple[]"
      }
    ],
    "stateMutability": "payable",
    "type": "function"
  }
]`

var (
	poolABI         = mustParseABI("pool", poolABIJSON)
	erc20ABI        = mustParseABI("erc20", erc20ABIJSON)
	erc20Bytes32ABI = mustParseABI("erc20 bytes32", erc20Bytes32ABIJSON)
	multicall3ABI   = mustParseABI("multicall3", multicall3ABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse %s ABI: %v", name, err))
	}
	return parsed
}

func packBalanceOf(owner common.Address) []byte {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		panic(fmt.Sprintf("pack balanceOf: %v", err))
	}
	return data
}
