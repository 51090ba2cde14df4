// Package configs is the YAML configuration surface loader (spec §6's
// "process-level configuration surface"), shaped the way the teacher's own
// configs/config.go is: a single YAML-unmarshaled DTO plus To*Config()
// adapters that translate it into the domain config structs each component
// actually takes.
package configs

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	flasharb "github.com/flowstate-labs/flasharbgo"
	"github.com/flowstate-labs/flasharbgo/pkg/ammmath"
)

// Config is the entire configuration structure read from config.yml.
type Config struct {
	RPC               string `yaml:"rpc"`
	Mode              string `yaml:"mode"`
	DataDir           string `yaml:"dataDir"`
	MySQLDSN          string `yaml:"mysqlDsn"`          // empty disables the internal/db mirror
	AggregatorABIPath string `yaml:"aggregatorAbiPath"` // Hardhat artifact for txbuilder.FlashAggregatorBuilder

	PollIntervalMs int64 `yaml:"pollIntervalMs"`
	MaxRetries     int   `yaml:"maxRetries"`
	// DeltaThresholdPercent is a percent literal (e.g. 0.5 means 0.5%), not the
	// fraction flasharb.DetectorConfig compares against; ToDetectorConfig
	// divides by 100 on the way in.
	DeltaThresholdPercent float64 `yaml:"deltaThresholdPercent"`
	MinLiquidityFloor     string  `yaml:"minLiquidityFloor"` // empty disables the floor check
	StalenessHorizonMs    int64   `yaml:"stalenessHorizonMs"`

	Optimizer OptimizerYAMLData `yaml:"optimizer"`
	Analyzer  AnalyzerYAMLData  `yaml:"analyzer"`
	Executor  ExecutorYAMLData  `yaml:"executor"`

	Pools               []PoolYAMLData                 `yaml:"pools"`
	FlashBorrowProvider map[string]string              `yaml:"flashBorrowProviders"` // name -> address
	ActiveFlashProvider string                         `yaml:"activeFlashProvider"`
	Signer              SignerYAMLData                 `yaml:"signer"`
	VenuePolicies       map[string]VenuePolicyYAMLData `yaml:"venuePolicies"`
}

type OptimizerYAMLData struct {
	MaxIterations        int    `yaml:"maxIterations"`
	TimeoutMs            int64  `yaml:"timeoutMs"`
	MinAmount            string `yaml:"minAmount"`
	MaxAmount            string `yaml:"maxAmount"`
	ConvergenceThreshold string `yaml:"convergenceThreshold"`
	FallbackAmount       string `yaml:"fallbackAmount"`
}

type AnalyzerYAMLData struct {
	MinProfitThreshold string  `yaml:"minProfitThreshold"`
	MaxSlippage        float64 `yaml:"maxSlippage"`
	DefaultInputAmount string  `yaml:"defaultInputAmount"`
	GasPriceGwei       float64 `yaml:"gasPriceGwei"`
	GasPerSwap         string  `yaml:"gasPerSwap"`
	ProviderFeeBps     int64   `yaml:"providerFeeBps"`
	BaseTokenDecimals  int     `yaml:"baseTokenDecimals"`
	OptimizerCeiling   string  `yaml:"optimizerCeiling"`
}

type ExecutorYAMLData struct {
	StalenessMs       int64  `yaml:"stalenessMs"`       // default 200
	PendingTimeoutMs  int64  `yaml:"pendingTimeoutMs"`  // default 300000
	AggregatorAddress string `yaml:"aggregatorAddress"`
	ChainID           int64  `yaml:"chainId"`
	GasLimit          uint64 `yaml:"gasLimit"`
	GasPriceGwei      string `yaml:"gasPriceGwei"`
	GasTipCapGwei     string `yaml:"gasTipCapGwei"`
	GasFeeCapGwei     string `yaml:"gasFeeCapGwei"`
	TxDeadlineMs      int64  `yaml:"txDeadlineMs"`
	ReceiptTimeoutMs  int64  `yaml:"receiptTimeoutMs"`
}

type PoolYAMLData struct {
	ID         string `yaml:"id"`
	Family     string `yaml:"family"`
	Address    string `yaml:"address"`
	Token0     string `yaml:"token0"`
	Token1     string `yaml:"token1"`
	Decimals0  uint8  `yaml:"decimals0"`
	Decimals1  uint8  `yaml:"decimals1"`
	FeeParam   int64  `yaml:"feeParam"`
	BinStepBps int64  `yaml:"binStepBps"`
	DynamicFee bool   `yaml:"dynamicFee"`
}

type SignerYAMLData struct {
	EncryptedKeyEnv string `yaml:"encryptedKeyEnv"` // env var holding the encrypted key material
	KeyEnv          string `yaml:"keyEnv"`          // env var holding the decryption key
}

type VenuePolicyYAMLData struct {
	FeeBuffer           float64 `yaml:"feeBuffer"`
	ThresholdMultiplier float64 `yaml:"thresholdMultiplier"`
}

// LoadConfig reads and parses path into a Config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configs: read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("configs: parse config yaml: %w", err)
	}
	return &cfg, nil
}

func parseBigInt(s string, fallback int64) (*big.Int, error) {
	if s == "" {
		return big.NewInt(fallback), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("configs: invalid integer %q", s)
	}
	return v, nil
}

// ToSnapshotterConfig builds the Pool Price Snapshotter's tunables.
func (c *Config) ToSnapshotterConfig() flasharb.SnapshotterConfig {
	return flasharb.SnapshotterConfig{
		PollInterval: time.Duration(c.PollIntervalMs) * time.Millisecond,
		MaxRetries:   c.MaxRetries,
	}
}

// ToDetectorConfig builds the Delta Detector's tunables. DeltaThresholdPercent
// is read as a percent (0.5 means 0.5%) and converted to the fraction
// DetectorConfig compares deltaPercent against.
func (c *Config) ToDetectorConfig() (flasharb.DetectorConfig, error) {
	cfg := flasharb.DetectorConfig{
		DeltaThresholdPercent: decimal.NewFromFloat(c.DeltaThresholdPercent).Div(decimal.NewFromInt(100)),
		StalenessHorizon:      time.Duration(c.StalenessHorizonMs) * time.Millisecond,
	}
	if c.MinLiquidityFloor != "" {
		floor, err := decimal.NewFromString(c.MinLiquidityFloor)
		if err != nil {
			return flasharb.DetectorConfig{}, fmt.Errorf("configs: minLiquidityFloor: %w", err)
		}
		cfg.MinLiquidityFloor = &floor
	}
	return cfg, nil
}

// ToOptimizerConfig builds the Input Optimizer's tunables.
func (c *Config) ToOptimizerConfig() (flasharb.OptimizerConfig, error) {
	def := flasharb.DefaultOptimizerConfig()
	minAmount, err := parseBigInt(c.Optimizer.MinAmount, def.MinAmount.Int64())
	if err != nil {
		return flasharb.OptimizerConfig{}, err
	}
	maxAmount, err := parseBigInt(c.Optimizer.MaxAmount, def.MaxAmount.Int64())
	if err != nil {
		return flasharb.OptimizerConfig{}, err
	}
	convergence, err := parseBigInt(c.Optimizer.ConvergenceThreshold, def.ConvergenceThreshold.Int64())
	if err != nil {
		return flasharb.OptimizerConfig{}, err
	}
	fallback, err := parseBigInt(c.Optimizer.FallbackAmount, def.FallbackAmount.Int64())
	if err != nil {
		return flasharb.OptimizerConfig{}, err
	}

	maxIterations := c.Optimizer.MaxIterations
	if maxIterations <= 0 {
		maxIterations = def.MaxIterations
	}
	timeout := time.Duration(c.Optimizer.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = def.Timeout
	}

	return flasharb.OptimizerConfig{
		MaxIterations:        maxIterations,
		Timeout:              timeout,
		MinAmount:            minAmount,
		MaxAmount:            maxAmount,
		ConvergenceThreshold: convergence,
		FallbackAmount:       fallback,
	}, nil
}

// ToAnalyzerConfig builds the Opportunity Analyzer's tunables, including the
// venue policy table when the config overrides it.
func (c *Config) ToAnalyzerConfig() (flasharb.AnalyzerConfig, error) {
	optimizerCfg, err := c.ToOptimizerConfig()
	if err != nil {
		return flasharb.AnalyzerConfig{}, err
	}

	minProfit, err := parseBigInt(c.Analyzer.MinProfitThreshold, 0)
	if err != nil {
		return flasharb.AnalyzerConfig{}, fmt.Errorf("configs: minProfitThreshold: %w", err)
	}
	defaultInput, err := parseBigInt(c.Analyzer.DefaultInputAmount, 0)
	if err != nil {
		return flasharb.AnalyzerConfig{}, fmt.Errorf("configs: defaultInputAmount: %w", err)
	}
	gasPerSwap, err := parseBigInt(c.Analyzer.GasPerSwap, 0)
	if err != nil {
		return flasharb.AnalyzerConfig{}, fmt.Errorf("configs: gasPerSwap: %w", err)
	}

	var optimizerCeiling *big.Int
	if c.Analyzer.OptimizerCeiling != "" {
		optimizerCeiling, err = parseBigInt(c.Analyzer.OptimizerCeiling, 0)
		if err != nil {
			return flasharb.AnalyzerConfig{}, fmt.Errorf("configs: optimizerCeiling: %w", err)
		}
	}

	cfg := flasharb.AnalyzerConfig{
		MinProfitThreshold: minProfit,
		MaxSlippage:        decimal.NewFromFloat(c.Analyzer.MaxSlippage),
		DefaultInputAmount: defaultInput,
		GasPriceGwei:       decimal.NewFromFloat(c.Analyzer.GasPriceGwei),
		GasPerSwap:         gasPerSwap,
		ProviderFeeBps:     c.Analyzer.ProviderFeeBps,
		BaseTokenDecimals:  uint8(c.Analyzer.BaseTokenDecimals),
		OptimizerCeiling:   optimizerCeiling,
		Optimizer:          optimizerCfg,
	}

	if len(c.VenuePolicies) > 0 {
		cfg.VenuePolicies = make(map[ammmath.VenueFamily]flasharb.VenuePolicy, len(c.VenuePolicies))
		for name, p := range c.VenuePolicies {
			family, err := parseVenueFamily(name)
			if err != nil {
				return flasharb.AnalyzerConfig{}, err
			}
			cfg.VenuePolicies[family] = flasharb.VenuePolicy{
				FeeBuffer:           decimal.NewFromFloat(p.FeeBuffer),
				ThresholdMultiplier: decimal.NewFromFloat(p.ThresholdMultiplier),
			}
		}
	}

	return cfg, nil
}

// ToExecutorConfig builds the Executor's tunables.
func (c *Config) ToExecutorConfig() (flasharb.ExecutorConfig, error) {
	stalenessMs := c.Executor.StalenessMs
	if stalenessMs <= 0 {
		stalenessMs = 200
	}
	pendingTimeoutMs := c.Executor.PendingTimeoutMs
	if pendingTimeoutMs <= 0 {
		pendingTimeoutMs = 300_000
	}

	gasPrice, err := parseGweiBigInt(c.Executor.GasPriceGwei)
	if err != nil {
		return flasharb.ExecutorConfig{}, fmt.Errorf("configs: executor.gasPriceGwei: %w", err)
	}
	gasTipCap, err := parseGweiBigInt(c.Executor.GasTipCapGwei)
	if err != nil {
		return flasharb.ExecutorConfig{}, fmt.Errorf("configs: executor.gasTipCapGwei: %w", err)
	}
	gasFeeCap, err := parseGweiBigInt(c.Executor.GasFeeCapGwei)
	if err != nil {
		return flasharb.ExecutorConfig{}, fmt.Errorf("configs: executor.gasFeeCapGwei: %w", err)
	}

	var flashProvider common.Address
	if addr, ok := c.FlashBorrowProvider[c.ActiveFlashProvider]; ok {
		flashProvider = common.HexToAddress(addr)
	}

	return flasharb.ExecutorConfig{
		Mode:              flasharb.Mode(c.Mode),
		StalenessBudget:   time.Duration(stalenessMs) * time.Millisecond,
		AggregatorAddress: common.HexToAddress(c.Executor.AggregatorAddress),
		FlashProvider:     flashProvider,
		ChainID:           big.NewInt(c.Executor.ChainID),
		GasLimit:          c.Executor.GasLimit,
		GasPrice:          gasPrice,
		GasTipCap:         gasTipCap,
		GasFeeCap:         gasFeeCap,
		TxDeadline:        time.Duration(c.Executor.TxDeadlineMs) * time.Millisecond,
		ReceiptTimeout:    time.Duration(c.Executor.ReceiptTimeoutMs) * time.Millisecond,
	}, nil
}

// EncryptedKeyEnv is the environment variable holding the encrypted signer
// key, defaulting to ENC_PK when the config is silent.
func (c *Config) EncryptedKeyEnv() string {
	if c.Signer.EncryptedKeyEnv != "" {
		return c.Signer.EncryptedKeyEnv
	}
	return "ENC_PK"
}

// KeyEnv is the environment variable holding the symmetric decryption key,
// defaulting to KEY when the config is silent.
func (c *Config) KeyEnv() string {
	if c.Signer.KeyEnv != "" {
		return c.Signer.KeyEnv
	}
	return "KEY"
}

// PendingTimeout is the State Keeper's configured pending-tx timeout.
func (c *Config) PendingTimeout() time.Duration {
	ms := c.Executor.PendingTimeoutMs
	if ms <= 0 {
		ms = 300_000
	}
	return time.Duration(ms) * time.Millisecond
}

// ToPoolDescriptors builds the static pool list, erroring on the same
// configuration-fatal condition the Snapshotter would otherwise only catch
// at the first poll: a discrete-bin pool missing its mandatory bin step.
func (c *Config) ToPoolDescriptors() ([]*flasharb.PoolDescriptor, error) {
	descriptors := make([]*flasharb.PoolDescriptor, 0, len(c.Pools))
	for _, p := range c.Pools {
		family, err := parseVenueFamily(p.Family)
		if err != nil {
			return nil, fmt.Errorf("configs: pool %s: %w", p.ID, err)
		}
		if family == ammmath.DiscreteBinLiquidityBook && p.BinStepBps <= 0 {
			return nil, fmt.Errorf("configs: pool %s: discrete-bin-liquidity-book requires binStepBps", p.ID)
		}
		descriptors = append(descriptors, &flasharb.PoolDescriptor{
			ID:         p.ID,
			Family:     family,
			Address:    common.HexToAddress(p.Address),
			Token0:     common.HexToAddress(p.Token0),
			Token1:     common.HexToAddress(p.Token1),
			Decimals0:  p.Decimals0,
			Decimals1:  p.Decimals1,
			FeeParam:   p.FeeParam,
			BinStepBps: p.BinStepBps,
			DynamicFee: p.DynamicFee,
		})
	}
	return descriptors, nil
}

func parseVenueFamily(name string) (ammmath.VenueFamily, error) {
	switch name {
	case "constant-product-v2":
		return ammmath.ConstantProductV2, nil
	case "concentrated-liquidity-v3":
		return ammmath.ConcentratedLiquidityV3, nil
	case "concentrated-liquidity-v3-with-ticked-fee":
		return ammmath.ConcentratedLiquidityV3TickedFee, nil
	case "discrete-bin-liquidity-book":
		return ammmath.DiscreteBinLiquidityBook, nil
	default:
		return 0, fmt.Errorf("unknown venue family %q", name)
	}
}

func parseGweiBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	gwei, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return gwei.Mul(decimal.New(1, 9)).Truncate(0).BigInt(), nil
}
