package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the subset of ethclient.Client the provider reads through.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// Dialer opens a fresh connection to endpoint.
type Dialer func(ctx context.Context, endpoint string) (Backend, error)

// HTTPDialer returns a Dialer backed by ethclient. HTTP endpoints share one
// http.Client with the given timeout; ws and ipc endpoints ignore it.
func HTTPDialer(timeout time.Duration) Dialer {
	httpClient := &http.Client{Timeout: timeout}
	return func(ctx context.Context, endpoint string) (Backend, error) {
		rc, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(httpClient))
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", redactEndpoint(endpoint), err)
		}
		return ethclient.NewClient(rc), nil
	}
}
