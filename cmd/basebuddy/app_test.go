package main

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoiLaboratories/BaseBuddy/internal/platform/config"
	"github.com/RoiLaboratories/BaseBuddy/internal/platform/resilience"
	"github.com/RoiLaboratories/BaseBuddy/internal/pools"
)

func TestRetryConfig_DefaultsStretchRateLimits(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	rc := retryConfig(cfg.Retry)
	assert.Equal(t, 2.0, rc.RateLimitMultiplier)

	rc.Jitter = 0
	for attempt := 1; attempt < rc.MaxAttempts; attempt++ {
		transient := rc.Backoff(attempt, resilience.ClassTransient)
		limited := rc.Backoff(attempt, resilience.ClassRateLimited)
		assert.Equal(t, 2*transient, limited, "attempt %d", attempt)
	}
	assert.Equal(t, 2*time.Second, rc.Backoff(1, resilience.ClassRateLimited))
}

func TestFeeTiers(t *testing.T) {
	assert.Equal(t, []pools.FeeTier{pools.FeeLow, pools.FeeHigh}, feeTiers([]uint32{500, 10000}))
	assert.Empty(t, feeTiers(nil))
}

func TestKnownPools(t *testing.T) {
	assert.Nil(t, knownPools(nil), "empty config keeps the resolver defaults")

	got := knownPools([]config.KnownPoolConfig{{
		TokenA:  "0x4ed4E862860beD51a9570b96d89aF5E1B0Efefed",
		TokenB:  "0x4200000000000000000000000000000000000006",
		Address: "0xc9034c3E7F58003E6ae0C8438e7c8f4598d5ACAA",
		Fee:     3000,
	}})
	require.Len(t, got, 1)
	assert.Equal(t, common.HexToAddress("0xc9034c3E7F58003E6ae0C8438e7c8f4598d5ACAA"), got[0].Address)
	assert.Equal(t, pools.FeeMedium, got[0].Fee)
}

func TestPriceConfigs(t *testing.T) {
	assert.Nil(t, priceConfigs(nil))

	got := priceConfigs(map[string]config.TokenPriceConfig{
		"degen": {UsePool: true, PairWith: "WETH", Fee: 3000},
		"pump":  {StaticPrice: 0.002},
	})
	require.Len(t, got, 2)
	assert.True(t, got["degen"].UsePool)
	assert.Equal(t, pools.FeeMedium, got["degen"].Fee)
	assert.Equal(t, 0.002, got["pump"].StaticPrice)
}
