// Package ammmath is the pure AMM math kernel (spec component C): price
// derivation, swap output sizing, and virtual-reserve estimation across the
// three supported venue families. Every function here is deterministic, has
// no I/O, and touches no global state, so the Optimizer (component D) can
// call it from inside its cancellation-free hot loop.
package ammmath

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

func init() {
	// 18-decimal tokens paired with 6-decimal stablecoins need headroom well
	// past the shopspring default (16 significant digits) to avoid silently
	// truncating a sqrtPriceX96-derived price; see spec §9's numeric-precision
	// note. This is a package-level setting because decimal.Decimal carries
	// no precision field of its own.
	decimal.DivisionPrecision = 32
}

// VenueFamily identifies the AMM invariant a pool implements.
type VenueFamily int

const (
	ConstantProductV2 VenueFamily = iota
	ConcentratedLiquidityV3
	ConcentratedLiquidityV3TickedFee
	DiscreteBinLiquidityBook
)

func (f VenueFamily) String() string {
	switch f {
	case ConstantProductV2:
		return "constant-product-v2"
	case ConcentratedLiquidityV3:
		return "concentrated-liquidity-v3"
	case ConcentratedLiquidityV3TickedFee:
		return "concentrated-liquidity-v3-with-ticked-fee"
	case DiscreteBinLiquidityBook:
		return "discrete-bin-liquidity-book"
	default:
		return "unknown"
	}
}

// PoolState is the narrow, family-specific numeric state the kernel needs.
// It deliberately does not carry identity fields (address, token symbols) —
// those live on the domain types in the root package, which builds a
// PoolState before calling into this package.
type PoolState struct {
	Family VenueFamily

	Decimals0 uint8
	Decimals1 uint8

	// v2
	Reserve0 *big.Int
	Reserve1 *big.Int

	// v3 / v3-ticked-fee
	Liquidity    *big.Int
	SqrtPriceX96 *big.Int
	FeeTier      int64 // hundredths-of-a-basis-point, e.g. 500 == 0.05%

	// discrete-bin-liquidity-book
	ActiveID   int64
	BinStepBps int64 // mandatory for this family; 0 is a configuration error
	BaseFeeBps int64
}

// PriceFromPoolState computes (price, inverse) where price is token1 per
// token0, decimal-adjusted for the pair's decimals. Returns an error for
// configuration problems (e.g. a bin pool with BinStepBps unset) rather than
// panicking, per spec §7's "configuration errors fail fast" rule — the
// caller (Snapshotter) turns this into a per-pool read failure.
func PriceFromPoolState(s PoolState) (price, inverse decimal.Decimal, err error) {
	switch s.Family {
	case ConstantProductV2:
		price, err = priceV2(s)
	case ConcentratedLiquidityV3, ConcentratedLiquidityV3TickedFee:
		price, err = priceV3(s)
	case DiscreteBinLiquidityBook:
		price, err = priceBin(s)
	default:
		err = fmt.Errorf("ammmath: unknown venue family %v", s.Family)
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if price.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ammmath: non-positive price computed")
	}
	return price, decimal.NewFromInt(1).Div(price), nil
}

func decimalScale(decimals0, decimals1 uint8) *big.Float {
	diff := int(decimals0) - int(decimals1)
	return new(big.Float).SetPrec(192).SetFloat64(math.Pow10(diff))
}

func priceV2(s PoolState) (decimal.Decimal, error) {
	if s.Reserve0 == nil || s.Reserve1 == nil {
		return decimal.Zero, fmt.Errorf("ammmath: v2 pool missing reserves")
	}
	if s.Reserve0.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("ammmath: v2 pool has non-positive reserve0")
	}
	r0 := decimal.NewFromBigInt(s.Reserve0, 0)
	r1 := decimal.NewFromBigInt(s.Reserve1, 0)
	scale := decimal.New(1, int32(int(s.Decimals0)-int(s.Decimals1)))
	return r1.Div(r0).Mul(scale), nil
}

// priceV3 follows spec §4.A's "numerically safe path": scale sqrtPriceX96
// down by 2^96 at high fixed-width precision, square once, then apply the
// decimal scaling — never squaring the raw, unscaled integer.
func priceV3(s PoolState) (decimal.Decimal, error) {
	if s.SqrtPriceX96 == nil || s.SqrtPriceX96.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("ammmath: v3 pool missing sqrtPriceX96")
	}
	const prec = 256
	sqrtP := new(big.Float).SetPrec(prec).SetInt(s.SqrtPriceX96)
	q96 := new(big.Float).SetPrec(prec).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	sqrtP.Quo(sqrtP, q96)
	p := new(big.Float).SetPrec(prec).Mul(sqrtP, sqrtP)
	p.Mul(p, decimalScale(s.Decimals0, s.Decimals1))
	return bigFloatToDecimal(p)
}

// priceBin follows spec §4.A's mandatory log-domain formula to avoid
// overflow on large |activeId - anchor| exponents.
func priceBin(s PoolState) (decimal.Decimal, error) {
	if s.BinStepBps <= 0 {
		return decimal.Zero, fmt.Errorf("ammmath: discrete-bin pool missing binStep")
	}
	const anchor = 1 << 23
	delta := float64(s.ActiveID - anchor)
	base := 1 + float64(s.BinStepBps)/10000.0
	logPrice := delta * math.Log(base)
	raw := math.Exp(logPrice)
	scaled := raw * math.Pow10(int(s.Decimals0)-int(s.Decimals1))
	if math.IsInf(scaled, 0) || math.IsNaN(scaled) {
		return decimal.Zero, fmt.Errorf("ammmath: discrete-bin price overflowed")
	}
	return decimal.NewFromFloat(scaled), nil
}

func bigFloatToDecimal(f *big.Float) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(f.Text('f', 40))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ammmath: convert price to decimal: %w", err)
	}
	return d, nil
}

// VirtualReserveIn returns the family's notion of "reserve on tokenIn's side"
// for use by the optimizer and cost model as a constant-product stand-in.
// The second return is false when the pool's data can't support it (spec
// §4.C: "Returns 'none' when liquidity is zero or data is absent").
func VirtualReserveIn(s PoolState, tokenInIsToken0 bool) (*big.Int, bool) {
	switch s.Family {
	case ConstantProductV2:
		if tokenInIsToken0 {
			if s.Reserve0 == nil || s.Reserve0.Sign() <= 0 {
				return nil, false
			}
			return new(big.Int).Set(s.Reserve0), true
		}
		if s.Reserve1 == nil || s.Reserve1.Sign() <= 0 {
			return nil, false
		}
		return new(big.Int).Set(s.Reserve1), true

	case ConcentratedLiquidityV3, ConcentratedLiquidityV3TickedFee:
		if s.Liquidity == nil || s.Liquidity.Sign() <= 0 || s.SqrtPriceX96 == nil || s.SqrtPriceX96.Sign() <= 0 {
			return nil, false
		}
		const prec = 256
		l := new(big.Float).SetPrec(prec).SetInt(s.Liquidity)
		sqrtP := new(big.Float).SetPrec(prec).SetInt(s.SqrtPriceX96)
		q96 := new(big.Float).SetPrec(prec).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
		sqrtP.Quo(sqrtP, q96)

		var reserve *big.Float
		if tokenInIsToken0 {
			// virtual reserve0 = L / sqrtP
			reserve = new(big.Float).SetPrec(prec).Quo(l, sqrtP)
		} else {
			// virtual reserve1 = L * sqrtP
			reserve = new(big.Float).SetPrec(prec).Mul(l, sqrtP)
		}
		out, _ := reserve.Int(nil)
		if out.Sign() <= 0 {
			return nil, false
		}
		return out, true

	default:
		// Discrete-bin pools expose only the active bin id on the hot path
		// (spec §4.A); there is no reserve-shaped figure to hand back.
		return nil, false
	}
}

// FeeRate returns the venue's swap fee as a fraction of input, with the
// caller-supplied volatility buffer already applied (spec §4.C: discrete-bin
// is "baseFee · venueVolatilityBuffer where venueVolatilityBuffer ≥ 1",
// looked up by the Analyzer's venue policy table and passed through here so
// the kernel stays free of policy knowledge). Pass decimal.Decimal(1) (or
// the zero value) for venues without a buffer.
func FeeRate(s PoolState, volatilityBuffer decimal.Decimal) decimal.Decimal {
	if volatilityBuffer.IsZero() {
		volatilityBuffer = decimal.NewFromInt(1)
	}
	switch s.Family {
	case ConstantProductV2:
		return decimal.NewFromFloat(0.003).Mul(volatilityBuffer)
	case ConcentratedLiquidityV3, ConcentratedLiquidityV3TickedFee:
		return decimal.NewFromInt(s.FeeTier).Div(decimal.NewFromInt(1_000_000)).Mul(volatilityBuffer)
	case DiscreteBinLiquidityBook:
		return decimal.NewFromInt(s.BaseFeeBps).Div(decimal.NewFromInt(10_000)).Mul(volatilityBuffer)
	default:
		return decimal.Zero
	}
}

// rationalOf decomposes a non-negative decimal into an exact num/den pair of
// big.Ints so downstream integer math (OutputForInput) can reproduce a fee
// multiplication without ever rounding until the formula's single final
// division — required for the bit-exact equality in spec §8 invariant 4.
func rationalOf(d decimal.Decimal) (num, den *big.Int) {
	coeff := d.Coefficient()
	exp := d.Exponent()
	if exp >= 0 {
		return new(big.Int).Mul(coeff, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)), big.NewInt(1)
	}
	return new(big.Int).Set(coeff), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-exp)), nil)
}

// OutputForInput computes the amount of tokenOut received for amountIn of
// tokenIn. When the pool can supply virtual reserves on both sides it uses
// the exact constant-product formula (spec §8 invariant 4's canonical form,
// matched term-for-term against the classic Uniswap-v2 getAmountOut shape so
// the single floor division is the only rounding point). Otherwise it falls
// back to a linear, no-slippage quote from price and fee — the same
// approximation the Analyzer needs when virtual_reserve_in was unavailable
// and it still must score a fixed-size trade (spec §4.E "fall back to
// defaultInputAmount").
func OutputForInput(pool PoolState, amountIn *big.Int, tokenInIsToken0 bool, fee, price decimal.Decimal, decimalsIn, decimalsOut uint8) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("ammmath: amountIn must be positive")
	}

	reserveIn, okIn := VirtualReserveIn(pool, tokenInIsToken0)
	reserveOut, okOut := VirtualReserveIn(pool, !tokenInIsToken0)

	if okIn && okOut {
		feeNum, feeDen := rationalOf(fee)
		keepNum := new(big.Int).Sub(feeDen, feeNum)
		if keepNum.Sign() < 0 {
			return nil, fmt.Errorf("ammmath: fee rate exceeds 1.0")
		}

		amountInWithFee := new(big.Int).Mul(amountIn, keepNum)
		numerator := new(big.Int).Mul(reserveOut, amountInWithFee)
		denominator := new(big.Int).Mul(reserveIn, feeDen)
		denominator.Add(denominator, amountInWithFee)
		if denominator.Sign() == 0 {
			return nil, fmt.Errorf("ammmath: zero denominator computing output")
		}
		return new(big.Int).Quo(numerator, denominator), nil
	}

	return linearOutput(amountIn, fee, price, decimalsIn, decimalsOut)
}

// linearOutput prices amountIn at the pool's quoted price net of fee,
// ignoring slippage — used only when no reserve-shaped liquidity data is
// available (discrete-bin pools, or any family mid-failure).
func linearOutput(amountIn *big.Int, fee, price decimal.Decimal, decimalsIn, decimalsOut uint8) (*big.Int, error) {
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("ammmath: non-positive price for linear quote")
	}
	amountInDec := decimal.NewFromBigInt(amountIn, 0).Div(decimal.New(1, int32(decimalsIn)))
	keep := decimal.NewFromInt(1).Sub(fee)
	amountOutDec := amountInDec.Mul(price).Mul(keep).Mul(decimal.New(1, int32(decimalsOut)))
	return amountOutDec.Truncate(0).BigInt(), nil
}

// TickToSqrtPriceX96 converts a tick index to the Q64.96 sqrt-price
// representation used by concentrated-liquidity pools: sqrtPriceX96 =
// sqrt(1.0001^tick) * 2^96, computed in the log domain to stay stable across
// the full signed-tick range.
func TickToSqrtPriceX96(tick int) *big.Int {
	const prec = 256
	logBase := math.Log(1.0001)
	sqrtPrice := math.Exp(float64(tick) * logBase / 2)

	f := new(big.Float).SetPrec(prec).SetFloat64(sqrtPrice)
	q96 := new(big.Float).SetPrec(prec).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	f.Mul(f, q96)

	out, _ := f.Int(nil)
	return out
}

// SqrtPriceToPrice converts a Q64.96 sqrtPriceX96 value into a raw
// (token1/token0) price, undoing only the fixed-point scaling — callers
// apply decimal adjustment separately, matching the teacher's two-step
// convention of keeping the raw conversion and the decimal scaling
// independently inspectable.
func SqrtPriceToPrice(sqrtPriceX96 *big.Int) *big.Float {
	const prec = 256
	s := new(big.Float).SetPrec(prec).SetInt(sqrtPriceX96)
	q96 := new(big.Float).SetPrec(prec).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	s.Quo(s, q96)
	return s.Mul(s, s)
}
