package flasharb

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/flowstate-labs/flasharbgo/pkg/ammmath"
)

// VenuePolicy is one entry of the venue policy table (§4.E): a fee-rate
// buffer applied inside the math kernel and a profit-threshold multiplier
// applied by the Analyzer.
type VenuePolicy struct {
	FeeBuffer           decimal.Decimal
	ThresholdMultiplier decimal.Decimal
}

// defaultVenuePolicies is the table from spec §4.E. Keyed by VenueFamily so
// adding a venue family is a data change, not a code change.
func defaultVenuePolicies() map[ammmath.VenueFamily]VenuePolicy {
	return map[ammmath.VenueFamily]VenuePolicy{
		ammmath.DiscreteBinLiquidityBook: {
			FeeBuffer:           decimal.NewFromFloat(1.5),
			ThresholdMultiplier: decimal.NewFromFloat(1.33),
		},
		ammmath.ConcentratedLiquidityV3TickedFee: {
			FeeBuffer:           decimal.NewFromInt(1),
			ThresholdMultiplier: decimal.NewFromInt(2),
		},
	}
}

var unchangedPolicy = VenuePolicy{FeeBuffer: decimal.NewFromInt(1), ThresholdMultiplier: decimal.NewFromInt(1)}

func policyFor(policies map[ammmath.VenueFamily]VenuePolicy, family ammmath.VenueFamily) VenuePolicy {
	if p, ok := policies[family]; ok {
		return p
	}
	return unchangedPolicy
}

// AnalyzerConfig holds spec §6's Detector/Analyzer configuration surface
// plus the optimizer settings the Analyzer drives.
type AnalyzerConfig struct {
	MinProfitThreshold *big.Int // base token smallest units
	MaxSlippage        decimal.Decimal
	DefaultInputAmount *big.Int
	GasPriceGwei       decimal.Decimal
	GasPerSwap         *big.Int
	ProviderFeeBps     int64
	BaseTokenDecimals  uint8
	OptimizerCeiling   *big.Int
	VenuePolicies      map[ammmath.VenueFamily]VenuePolicy
	Optimizer          OptimizerConfig
}

// Analyzer is component E.
type Analyzer struct {
	cfg    AnalyzerConfig
	events chan<- Event
	nextID func() string
}

// NewAnalyzer builds an Analyzer publishing opportunityFound/
// opportunityRejected events to events. nextID generates opportunity
// identifiers; pass nil to use a simple counter.
func NewAnalyzer(cfg AnalyzerConfig, events chan<- Event, nextID func() string) *Analyzer {
	if cfg.VenuePolicies == nil {
		cfg.VenuePolicies = defaultVenuePolicies()
	}
	if nextID == nil {
		counter := 0
		nextID = func() string {
			counter++
			return fmt.Sprintf("opp-%d", counter)
		}
	}
	return &Analyzer{cfg: cfg, events: events, nextID: nextID}
}

// Analyze builds the two-step path for delta, sizes it via the Optimizer
// (or the configured fallback amount), and emits opportunityFound or
// opportunityRejected. It returns the opportunity when emitted, nil when
// rejected.
func (a *Analyzer) Analyze(delta *PriceDelta) *ArbitrageOpportunity {
	path, err := a.buildPath(delta)
	if err != nil {
		a.events <- Event{Kind: EventError, Err: fmt.Errorf("analyzer: build path: %w", err)}
		return nil
	}

	effectiveMultiplier := decimal.NewFromInt(1)
	for _, step := range path.Steps {
		policy := policyFor(a.cfg.VenuePolicies, step.Family)
		if policy.ThresholdMultiplier.GreaterThan(effectiveMultiplier) {
			effectiveMultiplier = policy.ThresholdMultiplier
		}
	}

	costOf := func(amount *big.Int) CostBreakdown {
		return a.costBreakdown(amount, len(path.Steps))
	}

	netProfitOf := func(amount *big.Int) (*big.Int, error) {
		out, err := path.OutputForInput(amount)
		if err != nil {
			return nil, err
		}
		gross := new(big.Int).Sub(out, amount)
		costs := costOf(amount)
		return new(big.Int).Sub(gross, costs.TotalCost), nil
	}

	allStepsHaveReserves := true
	for _, step := range path.Steps {
		if step.VirtualReserveIn == nil {
			allStepsHaveReserves = false
			break
		}
	}

	var inputAmount *big.Int
	var optimization *OptimizationResult

	if allStepsHaveReserves {
		profitFn := func(amount *big.Int) *big.Int {
			net, err := netProfitOf(amount)
			if err != nil {
				return big.NewInt(-1)
			}
			return net
		}
		optCfg := a.cfg.Optimizer
		if a.cfg.OptimizerCeiling != nil && optCfg.MaxAmount.Cmp(a.cfg.OptimizerCeiling) > 0 {
			optCfg.MaxAmount = a.cfg.OptimizerCeiling
		}
		result := Optimize(profitFn, optCfg)
		inputAmount = result.OptimalAmount
		optimization = &result
	} else {
		inputAmount = a.cfg.DefaultInputAmount
	}

	out, err := path.OutputForInput(inputAmount)
	if err != nil {
		a.events <- Event{Kind: EventError, Err: fmt.Errorf("analyzer: price path at chosen size: %w", err)}
		return nil
	}
	grossProfit := new(big.Int).Sub(out, inputAmount)
	costs := costOf(inputAmount)
	netProfit := new(big.Int).Sub(grossProfit, costs.TotalCost)

	effectiveThreshold := decimal.NewFromBigInt(a.cfg.MinProfitThreshold, 0).Mul(effectiveMultiplier).Truncate(0).BigInt()

	opp := &ArbitrageOpportunity{
		ID:             a.nextID(),
		Path:           path,
		InputAmount:    inputAmount,
		Optimization:   optimization,
		GrossProfit:    grossProfit,
		Costs:          costs,
		NetProfit:      netProfit,
		ReferenceBlock: delta.ReferenceBlock,
		Timestamp:      time.Now(),
	}
	if inputAmount.Sign() > 0 {
		opp.NetProfitPercent = decimal.NewFromBigInt(netProfit, 0).Div(decimal.NewFromBigInt(inputAmount, 0))
	}

	if netProfit.Sign() <= 0 || netProfit.Cmp(effectiveThreshold) < 0 {
		reason := fmt.Sprintf("net profit below %sx threshold for %s venue", effectiveMultiplier.String(), dominantFamily(path))
		a.events <- Event{Kind: EventOpportunityRejected, Opportunity: opp, Reason: reason}
		return nil
	}

	a.events <- Event{Kind: EventOpportunityFound, Opportunity: opp}
	return opp
}

func dominantFamily(path SwapPath) string {
	for _, step := range path.Steps {
		if step.Family == ammmath.DiscreteBinLiquidityBook || step.Family == ammmath.ConcentratedLiquidityV3TickedFee {
			return step.Family.String()
		}
	}
	if len(path.Steps) > 0 {
		return path.Steps[0].Family.String()
	}
	return "unknown"
}

func (a *Analyzer) costBreakdown(amount *big.Int, numSteps int) CostBreakdown {
	amountDec := decimal.NewFromBigInt(amount, 0)

	flashBorrowFee := amountDec.
		Mul(decimal.NewFromInt(a.cfg.ProviderFeeBps)).
		Div(decimal.NewFromInt(10_000)).
		Truncate(0).BigInt()

	gasCost := decimal.NewFromBigInt(a.cfg.GasPerSwap, 0).
		Mul(decimal.NewFromInt(int64(numSteps))).
		Mul(a.cfg.GasPriceGwei).
		Mul(decimal.New(1, -9)).
		Mul(decimal.New(1, int32(a.cfg.BaseTokenDecimals))).
		Truncate(0).BigInt()

	slippageCost := amountDec.Mul(a.cfg.MaxSlippage).Truncate(0).BigInt()

	total := new(big.Int).Add(flashBorrowFee, gasCost)
	total.Add(total, slippageCost)

	return CostBreakdown{
		FlashBorrowFee: flashBorrowFee,
		GasCost:        gasCost,
		SlippageCost:   slippageCost,
		TotalCost:      total,
	}
}

// buildPath constructs the baseToken -> otherToken -> baseToken path from a
// PriceDelta, per §4.E: the base token is worth more (per unit of the other
// token) on SellPool than on BuyPool, so step 1 sells the base token into
// SellPool first, and step 2 buys it back from BuyPool.
func (a *Analyzer) buildPath(delta *PriceDelta) (SwapPath, error) {
	base, other, err := canonicalPair(delta.BuyPool.Descriptor)
	if err != nil {
		return SwapPath{}, err
	}

	step1, err := stepFromSnapshot(delta.SellPool, base, other, a.cfg.VenuePolicies)
	if err != nil {
		return SwapPath{}, err
	}
	step2, err := stepFromSnapshot(delta.BuyPool, other, base, a.cfg.VenuePolicies)
	if err != nil {
		return SwapPath{}, err
	}

	return SwapPath{
		Steps:     []SwapStep{step1, step2},
		BaseToken: base,
		Label:     fmt.Sprintf("%s->%s->%s", shortAddr(base), shortAddr(other), shortAddr(base)),
	}, nil
}

func shortAddr(a common.Address) string {
	h := a.Hex()
	if len(h) <= 8 {
		return h
	}
	return h[:8]
}

// canonicalPair picks a stable (base, other) ordering for a pool's token
// pair, matching the ordering newPairKey uses to group pools by pair.
func canonicalPair(d *PoolDescriptor) (base, other common.Address, err error) {
	if d.Token0 == (common.Address{}) || d.Token1 == (common.Address{}) {
		return common.Address{}, common.Address{}, fmt.Errorf("analyzer: pool %s missing token pair", d.ID)
	}
	if string(d.Token0.Bytes()) < string(d.Token1.Bytes()) {
		return d.Token0, d.Token1, nil
	}
	return d.Token1, d.Token0, nil
}

func stepFromSnapshot(s *PriceSnapshot, tokenIn, tokenOut common.Address, policies map[ammmath.VenueFamily]VenuePolicy) (SwapStep, error) {
	d := s.Descriptor
	tokenInIsToken0 := tokenIn == d.Token0

	var decimalsIn, decimalsOut uint8
	var referencePrice decimal.Decimal
	if tokenInIsToken0 {
		decimalsIn, decimalsOut = d.Decimals0, d.Decimals1
		referencePrice = s.Price
	} else {
		decimalsIn, decimalsOut = d.Decimals1, d.Decimals0
		referencePrice = s.InversePrice
	}

	state := s.poolState()
	policy := policyFor(policies, d.Family)
	feeRate := ammmath.FeeRate(state, policy.FeeBuffer)

	var virtualReserveIn *big.Int
	if vr, ok := ammmath.VirtualReserveIn(state, tokenInIsToken0); ok {
		virtualReserveIn = vr
	}

	return SwapStep{
		Family:           d.Family,
		PoolAddress:      d.Address,
		TokenIn:          tokenIn,
		TokenOut:         tokenOut,
		DecimalsIn:       decimalsIn,
		DecimalsOut:      decimalsOut,
		ReferencePrice:   referencePrice,
		FeeRate:          feeRate,
		VirtualReserveIn: virtualReserveIn,
		TokenInIsToken0:  tokenInIsToken0,
		state:            state,
	}, nil
}
