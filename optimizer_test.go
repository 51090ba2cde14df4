package flasharb

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOptimizeConvergesOnConcaveProfit exercises the ordinary case: a
// concave profit curve with a clear interior maximum near 500.
func TestOptimizeConvergesOnConcaveProfit(t *testing.T) {
	profitFn := func(amount *big.Int) *big.Int {
		// profit(x) = -(x-500)^2 + 10000, peak at x=500
		diff := new(big.Int).Sub(amount, big.NewInt(500))
		sq := new(big.Int).Mul(diff, diff)
		return new(big.Int).Sub(big.NewInt(10000), sq)
	}

	cfg := DefaultOptimizerConfig()
	result := Optimize(profitFn, cfg)

	require.True(t, result.Converged)
	assert.Equal(t, FallbackNone, result.FallbackReason)
	assert.LessOrEqual(t, result.Iterations, cfg.MaxIterations)
	diff := new(big.Int).Sub(result.OptimalAmount, big.NewInt(500))
	assert.LessOrEqual(t, new(big.Int).Abs(diff).Int64(), int64(10))
	assert.True(t, result.ExpectedProfit.Sign() > 0)
}

// TestOptimizeTimesOutWithSlowProfitFn reproduces scenario S6.
func TestOptimizeTimesOutWithSlowProfitFn(t *testing.T) {
	profitFn := func(amount *big.Int) *big.Int {
		time.Sleep(20 * time.Millisecond)
		return amount
	}

	cfg := DefaultOptimizerConfig()
	cfg.Timeout = 100 * time.Millisecond
	cfg.MaxIterations = 1000 // ensure timeout trips first

	result := Optimize(profitFn, cfg)

	assert.False(t, result.Converged)
	assert.Equal(t, FallbackTimeout, result.FallbackReason)
	assert.GreaterOrEqual(t, result.DurationMs, int64(100))
}

// TestOptimizeReportsNoProfitableSizeWhenProfitNeverPositive exercises the
// max_iterations path where bestProfit never clears zero.
func TestOptimizeReportsNoProfitableSizeWhenProfitNeverPositive(t *testing.T) {
	profitFn := func(amount *big.Int) *big.Int {
		return new(big.Int).Neg(amount) // always a loss
	}

	cfg := DefaultOptimizerConfig()
	cfg.ConvergenceThreshold = big.NewInt(0) // never satisfied, forces max_iterations

	result := Optimize(profitFn, cfg)

	assert.False(t, result.Converged)
	assert.Equal(t, FallbackNoProfitableSize, result.FallbackReason)
	assert.Equal(t, cfg.FallbackAmount, result.OptimalAmount)
	assert.Equal(t, int64(0), result.ExpectedProfit.Int64())
	assert.Equal(t, cfg.MaxIterations, result.Iterations)
}

// TestOptimizeReportsMaxIterationsWithPositiveBestProfit exercises the
// max_iterations path where bestProfit IS positive: the best-seen value is
// kept rather than substituted with the fallback amount.
func TestOptimizeReportsMaxIterationsWithPositiveBestProfit(t *testing.T) {
	profitFn := func(amount *big.Int) *big.Int {
		return new(big.Int).Set(amount) // monotonically increasing, never converges
	}

	cfg := DefaultOptimizerConfig()
	cfg.ConvergenceThreshold = big.NewInt(0)

	result := Optimize(profitFn, cfg)

	assert.False(t, result.Converged)
	assert.Equal(t, FallbackMaxIterations, result.FallbackReason)
	assert.True(t, result.ExpectedProfit.Sign() > 0)
	assert.NotEqual(t, cfg.FallbackAmount, result.OptimalAmount)
}

func TestOptimizeRespectsIterationBound(t *testing.T) {
	profitFn := func(amount *big.Int) *big.Int { return big.NewInt(0) }
	cfg := DefaultOptimizerConfig()
	cfg.MaxIterations = 5
	cfg.ConvergenceThreshold = big.NewInt(0)

	result := Optimize(profitFn, cfg)
	assert.Equal(t, 5, result.Iterations)
}
