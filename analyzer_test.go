package flasharb

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstate-labs/flasharbgo/pkg/ammmath"
)

func baseAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		MinProfitThreshold: big.NewInt(1),
		MaxSlippage:        decimal.NewFromFloat(0.0005),
		DefaultInputAmount: big.NewInt(1_000),
		GasPriceGwei:       decimal.NewFromInt(0),
		GasPerSwap:         big.NewInt(0),
		ProviderFeeBps:     0,
		BaseTokenDecimals:  18,
		Optimizer:          DefaultOptimizerConfig(),
	}
}

func v2Snapshot(id string, token0, token1 common.Address, reserve0, reserve1 *big.Int, price decimal.Decimal) *PriceSnapshot {
	return &PriceSnapshot{
		Descriptor:   &PoolDescriptor{ID: id, Family: ammmath.ConstantProductV2, Token0: token0, Token1: token1, Decimals0: 18, Decimals1: 18},
		Price:        price,
		InversePrice: decimal.NewFromInt(1).Div(price),
		AcquiredAt:   time.Now(),
		Reserve0:     reserve0,
		Reserve1:     reserve1,
	}
}

// TestAnalyzerEmitsOpportunityForProfitableV2Spread reproduces scenario S1:
// a clear spread between two deep v2 pools sized through the Optimizer.
func TestAnalyzerEmitsOpportunityForProfitableV2Spread(t *testing.T) {
	weth := common.HexToAddress("0x01")
	usdc := common.HexToAddress("0x02")

	cheap := v2Snapshot("pool-a", weth, usdc, big.NewInt(1_000_000_000), big.NewInt(2_000_000_000_000), decimal.NewFromInt(2000))
	expensive := v2Snapshot("pool-b", weth, usdc, big.NewInt(1_000_000_000), big.NewInt(2_100_000_000_000), decimal.NewFromInt(2100))

	delta := PriceDelta{BuyPool: cheap, SellPool: expensive, DeltaPercent: decimal.NewFromFloat(0.05), Timestamp: time.Now()}

	cfg := baseAnalyzerConfig()
	cfg.Optimizer.MaxAmount = big.NewInt(10_000_000)

	events := make(chan Event, 8)
	a := NewAnalyzer(cfg, events, nil)

	opp := a.Analyze(&delta)
	require.NotNil(t, opp)
	assert.True(t, opp.NetProfit.Sign() > 0)
	assert.NotNil(t, opp.Optimization)
	assert.Len(t, opp.Path.Steps, 2)
	assert.Equal(t, weth, opp.Path.BaseToken)

	close(events)
	var found bool
	for e := range events {
		if e.Kind == EventOpportunityFound {
			found = true
		}
	}
	assert.True(t, found)
}

// TestAnalyzerFallsBackToDefaultInputWithoutReserves reproduces scenario S2:
// pools that never surfaced virtual reserves (e.g. a bin-book venue's
// direction with no reserve concept) fall back to defaultInputAmount and
// skip the Optimizer entirely.
func TestAnalyzerFallsBackToDefaultInputWithoutReserves(t *testing.T) {
	weth := common.HexToAddress("0x01")
	usdc := common.HexToAddress("0x02")

	buy := &PriceSnapshot{
		Descriptor:   &PoolDescriptor{ID: "bin-a", Family: ammmath.DiscreteBinLiquidityBook, Token0: weth, Token1: usdc, Decimals0: 18, Decimals1: 18, BinStepBps: 10},
		Price:        decimal.NewFromInt(2000),
		InversePrice: decimal.NewFromFloat(0.0005),
		AcquiredAt:   time.Now(),
		ActiveID:     100,
	}
	sell := &PriceSnapshot{
		Descriptor:   &PoolDescriptor{ID: "bin-b", Family: ammmath.DiscreteBinLiquidityBook, Token0: weth, Token1: usdc, Decimals0: 18, Decimals1: 18, BinStepBps: 10},
		Price:        decimal.NewFromInt(2200),
		InversePrice: decimal.NewFromFloat(1.0 / 2200),
		AcquiredAt:   time.Now(),
		ActiveID:     140,
	}
	delta := PriceDelta{BuyPool: buy, SellPool: sell, DeltaPercent: decimal.NewFromFloat(0.1), Timestamp: time.Now()}

	cfg := baseAnalyzerConfig()
	cfg.DefaultInputAmount = big.NewInt(5_000)

	events := make(chan Event, 8)
	a := NewAnalyzer(cfg, events, nil)

	opp := a.Analyze(&delta)
	require.NotNil(t, opp)
	assert.Nil(t, opp.Optimization)
	assert.Equal(t, big.NewInt(5_000), opp.InputAmount)
}

// TestAnalyzerRejectsDiscreteBinBelowStricterThreshold reproduces scenario
// S5: a spread that would clear the plain profit threshold is rejected
// because the discrete-bin venue policy's 1.33x multiplier raises the bar.
func TestAnalyzerRejectsDiscreteBinBelowStricterThreshold(t *testing.T) {
	weth := common.HexToAddress("0x01")
	usdc := common.HexToAddress("0x02")

	cheapBin := &PriceSnapshot{
		Descriptor:   &PoolDescriptor{ID: "bin-a", Family: ammmath.DiscreteBinLiquidityBook, Token0: weth, Token1: usdc, Decimals0: 18, Decimals1: 18, BinStepBps: 10},
		Price:        decimal.NewFromInt(2000),
		InversePrice: decimal.NewFromFloat(0.0005),
		AcquiredAt:   time.Now(),
	}
	expensiveV2 := v2Snapshot("pool-v2", weth, usdc, big.NewInt(1_000_000_000), big.NewInt(2_100_000_000_000), decimal.NewFromInt(2100))

	delta := PriceDelta{BuyPool: cheapBin, SellPool: expensiveV2, DeltaPercent: decimal.NewFromFloat(0.05), Timestamp: time.Now()}

	cfg := baseAnalyzerConfig()
	cfg.DefaultInputAmount = big.NewInt(100_000)
	// netProfit lands close to 4.7% of the input (5% spread less the v2
	// pool's 0.3% fee): a plain 1x threshold at this size would clear it,
	// but discrete-bin's 1.33x multiplier does not.
	cfg.MinProfitThreshold = big.NewInt(4_000)

	events := make(chan Event, 8)
	a := NewAnalyzer(cfg, events, nil)

	opp := a.Analyze(&delta)
	assert.Nil(t, opp)

	close(events)
	var rejection *Event
	for e := range events {
		if e.Kind == EventOpportunityRejected {
			ev := e
			rejection = &ev
		}
	}
	require.NotNil(t, rejection)
	assert.Contains(t, rejection.Reason, "1.33")
}

// TestAnalyzerRejectsNonPositiveNetProfit covers invariant 6: opportunities
// whose net profit never clears zero are never emitted.
func TestAnalyzerRejectsNonPositiveNetProfit(t *testing.T) {
	weth := common.HexToAddress("0x01")
	usdc := common.HexToAddress("0x02")

	cheap := v2Snapshot("pool-a", weth, usdc, big.NewInt(1_000_000_000), big.NewInt(2_000_000_000_000), decimal.NewFromInt(2000))
	expensive := v2Snapshot("pool-b", weth, usdc, big.NewInt(1_000_000_000), big.NewInt(2_000_100_000_000), decimal.NewFromInt(2000.1))

	delta := PriceDelta{BuyPool: cheap, SellPool: expensive, DeltaPercent: decimal.NewFromFloat(0.00005), Timestamp: time.Now()}

	cfg := baseAnalyzerConfig()
	cfg.ProviderFeeBps = 9
	cfg.DefaultInputAmount = big.NewInt(100)
	cfg.Optimizer.MaxAmount = big.NewInt(1_000)

	events := make(chan Event, 8)
	a := NewAnalyzer(cfg, events, nil)

	opp := a.Analyze(&delta)
	assert.Nil(t, opp)
}

// TestAnalyzerOpportunityIDsAreUnique covers invariant 7: each emitted
// opportunity gets a distinct identifier even across repeated calls on
// identical input.
func TestAnalyzerOpportunityIDsAreUnique(t *testing.T) {
	weth := common.HexToAddress("0x01")
	usdc := common.HexToAddress("0x02")

	makeDelta := func() *PriceDelta {
		cheap := v2Snapshot("pool-a", weth, usdc, big.NewInt(1_000_000_000), big.NewInt(2_000_000_000_000), decimal.NewFromInt(2000))
		expensive := v2Snapshot("pool-b", weth, usdc, big.NewInt(1_000_000_000), big.NewInt(2_100_000_000_000), decimal.NewFromInt(2100))
		return &PriceDelta{BuyPool: cheap, SellPool: expensive, DeltaPercent: decimal.NewFromFloat(0.05), Timestamp: time.Now()}
	}

	cfg := baseAnalyzerConfig()
	cfg.Optimizer.MaxAmount = big.NewInt(10_000_000)

	events := make(chan Event, 16)
	a := NewAnalyzer(cfg, events, nil)

	opp1 := a.Analyze(makeDelta())
	opp2 := a.Analyze(makeDelta())
	require.NotNil(t, opp1)
	require.NotNil(t, opp2)
	assert.NotEqual(t, opp1.ID, opp2.ID)
}
