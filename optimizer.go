package flasharb

import (
	"math/big"
	"time"
)

// OptimizerConfig holds the ternary-search tunables from spec §6/§4.D.
type OptimizerConfig struct {
	MaxIterations        int
	Timeout              time.Duration
	MinAmount            *big.Int
	MaxAmount            *big.Int
	ConvergenceThreshold *big.Int
	FallbackAmount       *big.Int
}

// DefaultOptimizerConfig returns the defaults spec §4.D names explicitly.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		MaxIterations:        20,
		Timeout:              100 * time.Millisecond,
		MinAmount:            big.NewInt(1),
		MaxAmount:            big.NewInt(1000),
		ConvergenceThreshold: big.NewInt(1),
		FallbackAmount:       big.NewInt(10),
	}
}

// ProfitFunc is the caller-supplied pure closure the optimizer maximizes.
// It MUST be callable on the stack with no suspension (§5, §9): no channel
// operations, no context threaded through it, no I/O.
type ProfitFunc func(amount *big.Int) *big.Int

// Optimize runs bounded ternary search to maximize profitFn over
// [cfg.MinAmount, cfg.MaxAmount] (§4.D). It never suspends itself; profitFn
// is expected to be equally non-suspending, since the Optimizer's wall-time
// bound is measured without yielding (§5).
func Optimize(profitFn ProfitFunc, cfg OptimizerConfig) OptimizationResult {
	start := time.Now()

	lo := new(big.Int).Set(cfg.MinAmount)
	hi := new(big.Int).Set(cfg.MaxAmount)

	bestAmount := new(big.Int).Set(lo)
	bestProfit := profitFn(bestAmount)

	iterations := 0

	for {
		if time.Since(start) > cfg.Timeout {
			return finalizeResult(bestAmount, bestProfit, iterations, start, false, FallbackTimeout, cfg)
		}
		if iterations >= cfg.MaxIterations {
			if bestProfit.Sign() > 0 {
				return finalizeResult(bestAmount, bestProfit, iterations, start, false, FallbackMaxIterations, cfg)
			}
			return finalizeResult(bestAmount, bestProfit, iterations, start, false, FallbackNoProfitableSize, cfg)
		}
		width := new(big.Int).Sub(hi, lo)
		if width.Cmp(cfg.ConvergenceThreshold) < 0 {
			return finalizeResult(bestAmount, bestProfit, iterations, start, true, FallbackNone, cfg)
		}

		third := new(big.Int).Div(width, big.NewInt(3))
		if third.Sign() == 0 && width.Sign() > 0 {
			// Below a width of 3 the integer third is 0; step by one unit so
			// the interval keeps shrinking down to a single amount.
			third.SetInt64(1)
		}
		m1 := new(big.Int).Add(lo, third)
		m2 := new(big.Int).Sub(hi, third)

		p1 := profitFn(m1)
		p2 := profitFn(m2)

		if p1.Cmp(bestProfit) > 0 {
			bestAmount, bestProfit = m1, p1
		}
		if p2.Cmp(bestProfit) > 0 {
			bestAmount, bestProfit = m2, p2
		}

		if p1.Cmp(p2) >= 0 {
			hi = m2
		} else {
			lo = m1
		}
		iterations++
	}
}

func finalizeResult(bestAmount, bestProfit *big.Int, iterations int, start time.Time, converged bool, reason FallbackReason, cfg OptimizerConfig) OptimizationResult {
	durationMs := time.Since(start).Milliseconds()

	// §4.D's fallback-output rule: when a non-convergent path never observed
	// positive profit, report the fixed fallback amount with zero profit
	// rather than whatever non-positive best-seen value happened to win.
	if !converged && bestProfit.Sign() <= 0 {
		return OptimizationResult{
			OptimalAmount:  new(big.Int).Set(cfg.FallbackAmount),
			ExpectedProfit: big.NewInt(0),
			Iterations:     iterations,
			DurationMs:     durationMs,
			Converged:      false,
			FallbackReason: reason,
		}
	}

	return OptimizationResult{
		OptimalAmount:  bestAmount,
		ExpectedProfit: bestProfit,
		Iterations:     iterations,
		DurationMs:     durationMs,
		Converged:      converged,
		FallbackReason: reason,
	}
}
