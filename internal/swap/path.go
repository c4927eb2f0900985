package swap

import (
	"errors"
	"fmt"
)

const (
	addrSize = 20
	feeSize  = 3
)

var errEmptyRoute = errors.New("empty route")

// EncodePath packs a route as token(20) fee(3) token(20)... in trade
// order. Exact-output paths run from the output back to the input.
func EncodePath(hops []Hop, exactOutput bool) ([]byte, error) {
	if len(hops) == 0 {
		return nil, errEmptyRoute
	}
	for i := 1; i < len(hops); i++ {
		if hops[i-1].TokenOut.PoolAddress() != hops[i].TokenIn.PoolAddress() {
			return nil, fmt.Errorf("hop %d starts at %s, previous ends at %s", i, hops[i].TokenIn, hops[i-1].TokenOut)
		}
	}

	path := make([]byte, 0, addrSize+len(hops)*(feeSize+addrSize))
	appendFee := func(fee uint32) {
		path = append(path, byte(fee>>16), byte(fee>>8), byte(fee))
	}

	if !exactOutput {
		path = append(path, hops[0].TokenIn.PoolAddress().Bytes()...)
		for _, h := range hops {
			appendFee(uint32(h.Pool.Fee))
			path = append(path, h.TokenOut.PoolAddress().Bytes()...)
		}
		return path, nil
	}

	last := hops[len(hops)-1]
	path = append(path, last.TokenOut.PoolAddress().Bytes()...)
	for i := len(hops) - 1; i >= 0; i-- {
		appendFee(uint32(hops[i].Pool.Fee))
		path = append(path, hops[i].TokenIn.PoolAddress().Bytes()...)
	}
	return path, nil
}
