// Package flasharb is the core opportunity pipeline: snapshot pools, detect
// cross-venue deltas, size and cost each one, and dispatch through one of
// three executor modes. Everything CPU-bound here is synchronous and
// allocation-light by design (§5); the only suspension points are the ones
// named in engine.go's Run loop.
package flasharb

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/flowstate-labs/flasharbgo/pkg/ammmath"
)

// PoolDescriptor is static, startup-configured, and shared read-only across
// every component that touches it (§3).
type PoolDescriptor struct {
	ID        string
	Family    ammmath.VenueFamily
	Address   common.Address
	Token0    common.Address
	Token1    common.Address
	Decimals0 uint8
	Decimals1 uint8

	// FeeParam's unit depends on Family: hundredths-of-a-basis-point for the
	// v3 families, basis points for discrete-bin's base fee; unused for v2.
	FeeParam int64

	// BinStepBps is mandatory for DiscreteBinLiquidityBook; zero there is a
	// configuration error caught at snapshot time (§4.A).
	BinStepBps int64

	DynamicFee bool
}

// poolState projects a PoolDescriptor plus a round's raw reads into the
// narrow shape pkg/ammmath operates on.
func (d *PoolDescriptor) poolState(reserve0, reserve1, liquidity, sqrtPriceX96 *big.Int, activeID int64) ammmath.PoolState {
	return ammmath.PoolState{
		Family:       d.Family,
		Decimals0:    d.Decimals0,
		Decimals1:    d.Decimals1,
		Reserve0:     reserve0,
		Reserve1:     reserve1,
		Liquidity:    liquidity,
		SqrtPriceX96: sqrtPriceX96,
		FeeTier:      d.FeeParam,
		ActiveID:     activeID,
		BinStepBps:   d.BinStepBps,
		BaseFeeBps:   d.FeeParam,
	}
}

// PriceSnapshot is produced per pool per polling round and owned exclusively
// by the Snapshotter (§3, §5).
type PriceSnapshot struct {
	Descriptor   *PoolDescriptor
	BlockNumber  uint64
	AcquiredAt   time.Time
	Price        decimal.Decimal
	InversePrice decimal.Decimal

	// Stale marks a snapshot the Detector must not consume. The Snapshotter
	// never sets it (nor FailureReason): a failed read yields an error event
	// instead of a snapshot, and a pool whose breaker is open after more than
	// maxRetries consecutive failures is not read at all.
	Stale         bool
	FailureReason string

	// Family-specific raw fields, populated per §4.A's per-family read.
	Reserve0     *big.Int
	Reserve1     *big.Int
	Liquidity    *big.Int
	SqrtPriceX96 *big.Int
	ActiveID     int64
}

// Age reports how long ago this snapshot was acquired, relative to now.
func (s *PriceSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.AcquiredAt)
}

// poolState rebuilds the ammmath.PoolState this snapshot was derived from,
// for reuse by the Analyzer when it builds SwapSteps.
func (s *PriceSnapshot) poolState() ammmath.PoolState {
	return s.Descriptor.poolState(s.Reserve0, s.Reserve1, s.Liquidity, s.SqrtPriceX96, s.ActiveID)
}

// PriceDelta is an ordered (buy, sell) pair on the same token pair where
// SellPool's price exceeds BuyPool's (§3).
type PriceDelta struct {
	BuyPool        *PriceSnapshot
	SellPool       *PriceSnapshot
	DeltaPercent   decimal.Decimal
	Timestamp      time.Time
	ReferenceBlock uint64
}

// SwapStep is one hop of an arbitrage path (§3). FeeRate is the venue's
// fee_rate with any Analyzer venue-policy buffer already applied (§4.C,
// §4.E); VirtualReserveIn mirrors what pkg/ammmath.VirtualReserveIn returned
// for this step's direction, nil when unavailable.
type SwapStep struct {
	Family           ammmath.VenueFamily
	PoolAddress      common.Address
	TokenIn          common.Address
	TokenOut         common.Address
	DecimalsIn       uint8
	DecimalsOut      uint8
	ReferencePrice   decimal.Decimal
	FeeRate          decimal.Decimal
	VirtualReserveIn *big.Int
	TokenInIsToken0  bool
	state            ammmath.PoolState
}

// OutputForInput runs this step's swap through the math kernel.
func (s SwapStep) OutputForInput(amountIn *big.Int) (*big.Int, error) {
	return ammmath.OutputForInput(s.state, amountIn, s.TokenInIsToken0, s.FeeRate, s.ReferencePrice, s.DecimalsIn, s.DecimalsOut)
}

// SwapPath is an ordered sequence of ≥1 SwapStep that starts and ends in
// BaseToken (§3).
type SwapPath struct {
	Steps     []SwapStep
	BaseToken common.Address
	Label     string
}

// OutputForInput threads amountIn through every step in order, each step's
// output becoming the next step's input.
func (p SwapPath) OutputForInput(amountIn *big.Int) (*big.Int, error) {
	amount := amountIn
	for _, step := range p.Steps {
		out, err := step.OutputForInput(amount)
		if err != nil {
			return nil, err
		}
		amount = out
	}
	return amount, nil
}

// FallbackReason explains why an OptimizationResult didn't converge (§4.D).
type FallbackReason string

const (
	FallbackNone             FallbackReason = ""
	FallbackTimeout          FallbackReason = "timeout"
	FallbackMaxIterations    FallbackReason = "max_iterations"
	FallbackNoProfitableSize FallbackReason = "no_profitable_size"
)

// OptimizationResult is the Optimizer's output (§3, §4.D).
type OptimizationResult struct {
	OptimalAmount  *big.Int
	ExpectedProfit *big.Int
	Iterations     int
	DurationMs     int64
	Converged      bool
	FallbackReason FallbackReason
}

// CostBreakdown is the Analyzer's cost model output (§4.E).
type CostBreakdown struct {
	FlashBorrowFee *big.Int
	GasCost        *big.Int
	SlippageCost   *big.Int
	TotalCost      *big.Int
}

// ArbitrageOpportunity is what the Analyzer emits and the Executor consumes
// (§3). Optimization is nil exactly when at least one step could not supply
// virtual_reserve_in and the Analyzer fell back to defaultInputAmount.
type ArbitrageOpportunity struct {
	ID               string
	Path             SwapPath
	InputAmount      *big.Int
	Optimization     *OptimizationResult
	GrossProfit      *big.Int
	Costs            CostBreakdown
	NetProfit        *big.Int
	NetProfitPercent decimal.Decimal
	ReferenceBlock   uint64

	// Timestamp is the staleness gate's reference point (§4.F): wall clock at
	// analysis completion, deliberately not snapshot block time.
	Timestamp time.Time
}

// EventKind tags the variant carried by an Event (§6, §9).
type EventKind string

const (
	EventPriceUpdate         EventKind = "priceUpdate"
	EventError               EventKind = "error"
	EventDelta               EventKind = "delta"
	EventOpportunityFound    EventKind = "opportunityFound"
	EventOpportunityRejected EventKind = "opportunityRejected"
	EventSubmitted           EventKind = "submitted"
	EventConfirmed           EventKind = "confirmed"
	EventReverted            EventKind = "reverted"
)

// Event is the tagged-union replacement for the teacher's dynamic,
// string-keyed emitter (§9): one struct, one Kind, only the fields that
// Kind implies are populated.
type Event struct {
	Kind EventKind

	PoolID      string
	Snapshot    *PriceSnapshot
	Delta       *PriceDelta
	Opportunity *ArbitrageOpportunity
	Reason      string
	TxHash      common.Hash
	Err         error
}
