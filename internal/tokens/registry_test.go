package tokens

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoiLaboratories/BaseBuddy/internal/blockchain/chaintest"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/cache"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/observability"
)

var degen = common.HexToAddress("0x4ed4E862860beD51a9570b96d89aF5E1B0Efefed")

func newRegistry(t *testing.T, reader MetadataReader, c cache.Cache) *Registry {
	t.Helper()
	r, err := NewRegistry(Config{Reader: reader, Cache: c})
	require.NoError(t, err)
	return r
}

func TestResolve_Builtin(t *testing.T) {
	r := newRegistry(t, nil, nil)

	tests := []struct {
		input    string
		symbol   string
		decimals uint8
	}{
		{"ETH", "ETH", 18},
		{"eth", "ETH", 18},
		{"usdbc", "USDbC", 6},
		{" USDC ", "USDC", 6},
		{"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", "USDC", 6},
		{"0x4200000000000000000000000000000000000006", "WETH", 18},
		{"ENB", "ENB", 18},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tok, err := r.Resolve(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.symbol, tok.Symbol)
			assert.Equal(t, tt.decimals, tok.Decimals)
		})
	}
}

func TestResolve_NativeAndWrappedSharePoolAddress(t *testing.T) {
	r := newRegistry(t, nil, nil)
	eth, err := r.Resolve(context.Background(), "ETH")
	require.NoError(t, err)
	weth, err := r.Resolve(context.Background(), "WETH")
	require.NoError(t, err)

	assert.True(t, eth.Native())
	assert.False(t, weth.Native())
	assert.NotEqual(t, eth.Symbol, weth.Symbol)
	assert.Equal(t, eth.PoolAddress(), weth.PoolAddress())
	assert.True(t, SamePoolToken(eth, weth))
}

func TestResolve_Unsupported(t *testing.T) {
	r := newRegistry(t, nil, nil)

	for _, input := range []string{"DOGE", "", "0x1234", degen.Hex()} {
		_, err := r.Resolve(context.Background(), input)
		var uerr *UnsupportedTokenError
		require.ErrorAs(t, err, &uerr, input)
		assert.Equal(t, input, uerr.Input)
		assert.Contains(t, uerr.Supported, "ETH")
		assert.Contains(t, err.Error(), "USDbC")
	}
}

func TestResolve_OnChainAddressIsCached(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddToken(degen, "DEGEN", 18)
	mem := cache.NewMemoryCache(16)
	defer mem.Close()
	r := newRegistry(t, chain, mem)

	tok, err := r.Resolve(context.Background(), degen.Hex())
	require.NoError(t, err)
	assert.Equal(t, Token{Symbol: "DEGEN", Address: degen, Decimals: 18, Name: "DEGEN"}, tok)

	again, err := r.Resolve(context.Background(), degen.Hex())
	require.NoError(t, err)
	assert.Equal(t, tok, again)
	assert.Equal(t, 1, chain.Calls("TokenDecimals"))

	// synthesized tokens are not symbol-resolvable
	_, err = r.Resolve(context.Background(), "DEGEN")
	var uerr *UnsupportedTokenError
	assert.ErrorAs(t, err, &uerr)
}

func TestResolve_OnChainThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(context.Background(), cache.RedisConfig{Addr: mr.Addr(), Prefix: "basebuddy:"})
	require.NoError(t, err)
	defer rc.Close()

	chain := chaintest.NewReader()
	chain.AddToken(degen, "DEGEN", 18)

	first := newRegistry(t, chain, rc)
	_, err = first.Resolve(context.Background(), degen.Hex())
	require.NoError(t, err)

	// a second process sharing the Redis tier does not hit the chain
	second := newRegistry(t, chain, rc)
	tok, err := second.Resolve(context.Background(), degen.Hex())
	require.NoError(t, err)
	assert.Equal(t, "DEGEN", tok.Symbol)
	assert.Equal(t, 1, chain.Calls("TokenSymbol"))
}

func TestResolve_ProviderErrorPropagates(t *testing.T) {
	chain := chaintest.NewReader()
	chain.Fail("TokenDecimals", chaintest.ErrRPCDown)
	r := newRegistry(t, chain, nil)

	_, err := r.Resolve(context.Background(), degen.Hex())
	require.Error(t, err)
	assert.True(t, errors.Is(err, chaintest.ErrRPCDown))
}

func TestResolve_ConcurrentLookupsShareCalls(t *testing.T) {
	chain := chaintest.NewReader()
	chain.AddToken(degen, "DEGEN", 18)
	r := newRegistry(t, chain, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := r.Resolve(context.Background(), degen.Hex())
			assert.NoError(t, err)
			assert.Equal(t, "DEGEN", tok.Symbol)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, chain.Calls("TokenDecimals"), 16)
}

// gatedReader holds TokenDecimals until release is closed, or until the
// call's own context ends.
type gatedReader struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	calls   int
}

func newGatedReader() *gatedReader {
	return &gatedReader{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedReader) TokenDecimals(ctx context.Context, _ common.Address) (uint8, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return 18, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (g *gatedReader) TokenSymbol(context.Context, common.Address) (string, error) {
	return "DEGEN", nil
}

func TestResolve_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	gate := newGatedReader()
	r := newRegistry(t, gate, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(firstCtx, degen.Hex())
		firstErr <- err
	}()
	<-gate.entered

	type result struct {
		tok Token
		err error
	}
	second := make(chan result, 1)
	go func() {
		tok, err := r.Resolve(context.Background(), degen.Hex())
		second <- result{tok, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gate.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "DEGEN", got.tok.Symbol)

	gate.mu.Lock()
	defer gate.mu.Unlock()
	assert.Equal(t, 1, gate.calls, "the second caller joins the first lookup")
}

func TestRegister_RoundTrip(t *testing.T) {
	r := newRegistry(t, nil, nil)
	want := Token{Symbol: "DEGEN", Address: degen, Decimals: 18, Name: "Degen"}
	require.NoError(t, r.Register(want))

	bySymbol, err := r.Resolve(context.Background(), "degen")
	require.NoError(t, err)
	byAddress, err := r.Resolve(context.Background(), degen.Hex())
	require.NoError(t, err)

	assert.Equal(t, want, bySymbol)
	assert.Equal(t, bySymbol, byAddress)
	assert.Equal(t, "DEGEN", r.Supported()[len(r.Supported())-1].Symbol)
}

func TestRegister_SymbolConflict(t *testing.T) {
	r := newRegistry(t, nil, nil)
	err := r.Register(Token{Symbol: "usdc", Address: degen, Decimals: 6})
	assert.ErrorIs(t, err, ErrSymbolConflict)

	err = r.Register(Token{Symbol: "", Address: degen})
	assert.Error(t, err)
}

func TestRegister_ReplaceByAddress(t *testing.T) {
	r := newRegistry(t, nil, nil)
	pump := common.HexToAddress("0x32c43d8D7245924f9232D69200fbE139aC05227B")
	require.NoError(t, r.Register(Token{Symbol: "PUMPIT", Address: pump, Decimals: 18}))

	_, ok := r.BySymbol("PUMP")
	assert.False(t, ok)
	tok, ok := r.BySymbol("pumpit")
	require.True(t, ok)
	assert.Equal(t, pump, tok.Address)
	assert.Len(t, r.Supported(), len(Builtin()))
}

func TestSupported_TableOrder(t *testing.T) {
	r := newRegistry(t, nil, nil)
	assert.Equal(t, []string{"ETH", "WETH", "USDC", "USDbC", "cbETH", "PUMP", "ENB"}, r.Symbols())
}

func TestWarmup_ReportsMismatchAndErrors(t *testing.T) {
	chain := chaintest.NewReader()
	for _, tok := range Builtin() {
		if !tok.Native() {
			chain.AddToken(tok.Address, tok.Symbol, tok.Decimals)
		}
	}
	r := newRegistry(t, chain, nil)
	require.NoError(t, r.Warmup(context.Background()))
	assert.Equal(t, "tokens", r.Name())

	chain.Fail("TokenDecimals", chaintest.ErrRPCDown)
	err := r.Warmup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USDC")
}

func TestWarmup_ThroughWarmer(t *testing.T) {
	chain := chaintest.NewReader()
	r := newRegistry(t, chain, nil)

	w := cache.NewWarmer(observability.NewNopLogger(), time.Second)
	w.Register(r)
	results := w.Warmup(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, "tokens", results[0].Provider)
	assert.Error(t, results[0].Err, "tokens missing from the fake chain fail warmup")
}

func TestParseAmountAndFormat(t *testing.T) {
	usdc := Token{Symbol: "USDC", Decimals: 6}

	raw, err := usdc.ParseAmount("1.2345678")
	require.NoError(t, err)
	assert.Equal(t, "1234567", raw.String(), "extra digits truncate")
	assert.Equal(t, "1.234567", usdc.FormatAmount(raw))
	assert.Equal(t, "2.5", usdc.FormatAmount(big.NewInt(2_500_000)))
	assert.Equal(t, "0", usdc.FormatAmount(nil))

	raw, err = usdc.ParseAmount("0.0000001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), raw.Int64())

	_, err = usdc.ParseAmount("abc")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseAmount_Bounds(t *testing.T) {
	const maxUint256 = "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	raw0 := Token{Symbol: "RAW", Decimals: 0}
	weth := Token{Symbol: "WETH", Decimals: 18}

	raw, err := raw0.ParseAmount(maxUint256)
	require.NoError(t, err)
	assert.Equal(t, maxUint256, raw.String())

	raw, err = weth.ParseAmount("1e59")
	require.NoError(t, err)
	assert.Equal(t, 78, len(raw.String()))

	raw, err = weth.ParseAmount("0e200000000")
	require.NoError(t, err)
	assert.Zero(t, raw.Sign())

	tests := []struct {
		name   string
		token  Token
		amount string
	}{
		{"one past uint256", raw0, "115792089237316195423570985008687907853269984665640564039457584007913129639936"},
		{"scaled past uint256", weth, "1e60"},
		{"huge exponent", Token{Decimals: 6}, "1e20000000"},
		{"huge negative exponent", Token{Decimals: 6}, "1e-20000000"},
		{"exponent overflow", weth, "1e2147483647"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			_, err := tt.token.ParseAmount(tt.amount)
			assert.ErrorIs(t, err, ErrInvalidAmount)
			assert.Less(t, time.Since(start), 100*time.Millisecond)
		})
	}
}

func TestParsePair(t *testing.T) {
	tests := []struct {
		pair    string
		in, out string
		wantErr bool
	}{
		{"ETH-USDC", "ETH", "USDC", false},
		{"PUMP/WETH", "PUMP", "WETH", false},
		{"ETH", "", "", true},
		{"ETH-eth", "", "", true},
		{"-USDC", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.pair, func(t *testing.T) {
			in, out, err := ParsePair(tt.pair)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.in, in)
			assert.Equal(t, tt.out, out)
		})
	}
}
