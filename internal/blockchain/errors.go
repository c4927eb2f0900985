package blockchain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/RoiLaboratories/BaseBuddy/internal/platform/resilience"
)

// JSON-RPC error codes nodes use for throttling.
const (
	codeLimitExceeded    = -32005 // EIP-1474 "limit exceeded"
	codeRateLimited      = -32016 // Base public RPC, some hosted providers
	codeExecutionReverts = 3      // geth "execution reverted" with revert data
)

// ErrUnexpectedOutput is returned when a contract call succeeds but its
// return data cannot be decoded, which is what calling a non-contract or
// a contract without the method looks like.
var ErrUnexpectedOutput = errors.New("unexpected contract output")

// ProviderError is the error a caller sees after the retry layer gave up.
type ProviderError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("rpc %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a node throttling response.
func IsRateLimited(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeLimitExceeded, codeRateLimited:
			return true
		}
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return false
}

// IsReverted reports whether err is a contract revert, an answer from a
// healthy node that retrying cannot change.
func IsReverted(err error) bool {
	if IsRateLimited(err) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeExecutionReverts {
		return true
	}
	var dataErr rpc.DataError
	return errors.As(err, &dataErr) && dataErr.ErrorData() != nil
}

// IsContractAbsent reports whether err means the address holds no
// contract implementing the called method.
func IsContractAbsent(err error) bool {
	return IsReverted(err) || errors.Is(err, ErrUnexpectedOutput)
}

// classifier builds the retry classification for one call. parent is the
// caller's context: a deadline hit by a per-attempt timeout is transient
// while parent is still alive.
func classifier(parent context.Context) func(error) resilience.ErrorClass {
	return func(err error) resilience.ErrorClass {
		switch {
		case parent.Err() != nil:
			return resilience.ClassPermanent
		case IsRateLimited(err):
			return resilience.ClassRateLimited
		case errors.Is(err, resilience.ErrCircuitOpen),
			errors.Is(err, ErrUnexpectedOutput),
			errors.Is(err, context.Canceled),
			IsReverted(err):
			return resilience.ClassPermanent
		default:
			return resilience.ClassTransient
		}
	}
}

// countsAgainstBreaker keeps reverts and throttling from opening the
// circuit; the adaptive limiter handles throttling.
func countsAgainstBreaker(err error) bool {
	return !IsReverted(err) && !IsRateLimited(err) && !errors.Is(err, ErrUnexpectedOutput)
}
