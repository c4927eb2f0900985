package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MulticallCall is one call inside a Multicall3 aggregate3 batch.
type MulticallCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// MulticallResult is the outcome of one batched call.
type MulticallResult struct {
	Success    bool
	ReturnData []byte
}

// Multicall executes calls in a single eth_call through Multicall3.
func (p *Provider) Multicall(ctx context.Context, calls []MulticallCall) ([]MulticallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	payload, err := multicall3ABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3: %w", err)
	}

	results, err := contractCall(ctx, p, "multicall", p.multicall, payload, decodeAggregate3)
	if err != nil {
		return nil, err
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("%w: aggregate3 returned %d results for %d calls", ErrUnexpectedOutput, len(results), len(calls))
	}
	return results, nil
}

func decodeAggregate3(data []byte) ([]MulticallResult, error) {
	var out struct {
		ReturnData []MulticallResult
	}
	if err := multicall3ABI.UnpackIntoInterface(&out, "aggregate3", data); err != nil {
		return nil, fmt.Errorf("%w: aggregate3: %v", ErrUnexpectedOutput, err)
	}
	return out.ReturnData, nil
}

// TokenBalances reads owner's balance of every token in one multicall.
// If the batch itself fails the balances are read one by one. A token
// whose read fails gets a nil entry.
func (p *Provider) TokenBalances(ctx context.Context, owner common.Address, tokens []common.Address) ([]*big.Int, error) {
	balances := make([]*big.Int, len(tokens))
	if len(tokens) == 0 {
		return balances, nil
	}

	calls := make([]MulticallCall, len(tokens))
	data := packBalanceOf(owner)
	for i, token := range tokens {
		calls[i] = MulticallCall{Target: token, AllowFailure: true, CallData: data}
	}

	results, err := p.Multicall(ctx, calls)
	if err == nil {
		for i, r := range results {
			if !r.Success {
				continue
			}
			if bal, derr := unpackSingle[*big.Int]("balanceOf", erc20ABI.Unpack, r.ReturnData); derr == nil {
				balances[i] = bal
			}
		}
		return balances, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	p.logger.LogWarn(ctx, "multicall balance read failed, falling back to single reads",
		"owner", owner.Hex(), "tokens", len(tokens), "error", err.Error())
	for i, token := range tokens {
		bal, berr := p.BalanceOf(ctx, token, owner)
		if berr != nil {
			if ctx.Err() != nil {
				return nil, berr
			}
			p.logger.LogWarn(ctx, "balance read failed", "token", token.Hex(), "error", berr.Error())
			continue
		}
		balances[i] = bal
	}
	return balances, nil
}
