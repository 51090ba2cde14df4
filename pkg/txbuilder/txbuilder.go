// Package txbuilder turns an arbitrage opportunity's swap path into a signed,
// broadcast-ready transaction. It knows nothing about the domain model in
// the flasharb package — callers translate an ArbitrageOpportunity into a
// BuildRequest, keeping this package's only dependencies the chain-facing
// ones (ABI encoding, RLP signing), the same separation the teacher draws
// between its swap-param structs and its signing code in blackhole.go.
package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	chaintypes "github.com/flowstate-labs/flasharbgo/pkg/types"
)

// SwapLeg is one hop of the arbitrage path, pool-address-addressed so the
// on-chain aggregator contract resolves venue-specific routing itself.
type SwapLeg struct {
	PoolAddress common.Address
	TokenIn     common.Address
	TokenOut    common.Address
}

// BuildRequest is everything the aggregator contract's entrypoint needs,
// already decided by the Analyzer/Executor — this package only encodes it.
type BuildRequest struct {
	AggregatorAddress common.Address
	FlashProvider     common.Address
	BorrowToken       common.Address
	BorrowAmount      *big.Int
	MinProfit         *big.Int
	Legs              []SwapLeg
	Deadline          time.Time
}

// Builder packs a BuildRequest into contract calldata.
type Builder interface {
	Build(req BuildRequest) (to common.Address, data []byte, err error)
}

// FlashAggregatorBuilder packs calldata for an "executeArbitrage" entrypoint
// on a flash-borrow aggregator contract.
type FlashAggregatorBuilder struct {
	abi abi.ABI
}

// NewFlashAggregatorBuilder builds a FlashAggregatorBuilder against the
// aggregator contract's parsed ABI (loaded via internal/util).
func NewFlashAggregatorBuilder(contractABI abi.ABI) *FlashAggregatorBuilder {
	return &FlashAggregatorBuilder{abi: contractABI}
}

func (b *FlashAggregatorBuilder) Build(req BuildRequest) (common.Address, []byte, error) {
	if len(req.Legs) == 0 {
		return common.Address{}, nil, fmt.Errorf("txbuilder: build request has no swap legs")
	}
	if req.BorrowAmount == nil || req.BorrowAmount.Sign() <= 0 {
		return common.Address{}, nil, fmt.Errorf("txbuilder: borrow amount must be positive")
	}

	pools := make([]common.Address, len(req.Legs))
	for i, leg := range req.Legs {
		pools[i] = leg.PoolAddress
	}

	minProfit := req.MinProfit
	if minProfit == nil {
		minProfit = big.NewInt(0)
	}

	data, err := b.abi.Pack(
		"executeArbitrage",
		req.FlashProvider,
		req.BorrowToken,
		req.BorrowAmount,
		minProfit,
		pools,
		big.NewInt(req.Deadline.Unix()),
	)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("txbuilder: pack executeArbitrage: %w", err)
	}
	return req.AggregatorAddress, data, nil
}

// Signer produces a signed transaction from calldata plus the gas triple the
// Executor already decided on. Real traffic uses PrivateKeySigner; tests
// substitute a fake that never touches key material.
type Signer interface {
	Address() common.Address
	SignTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gas chaintypes.GasFields, chainID *big.Int) (chaintypes.SignedTx, error)
}

// PrivateKeySigner signs with an in-memory ECDSA key, decrypted at startup
// via internal/util.Decrypt and held only for the process lifetime.
type PrivateKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewPrivateKeySigner derives the signer's address from key.
func NewPrivateKeySigner(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *PrivateKeySigner) Address() common.Address { return s.address }

func (s *PrivateKeySigner) SignTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gas chaintypes.GasFields, chainID *big.Int) (chaintypes.SignedTx, error) {
	var rawTx *types.Transaction
	if gas.GasFeeCap != nil && gas.GasTipCap != nil {
		rawTx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     gas.Nonce,
			GasTipCap: gas.GasTipCap,
			GasFeeCap: gas.GasFeeCap,
			Gas:       gas.GasLimit,
			To:        &to,
			Value:     valueOrZero(value),
			Data:      data,
		})
	} else {
		rawTx = types.NewTx(&types.LegacyTx{
			Nonce:    gas.Nonce,
			GasPrice: gas.GasPrice,
			Gas:      gas.GasLimit,
			To:       &to,
			Value:    valueOrZero(value),
			Data:     data,
		})
	}

	signer := types.LatestSignerForChainID(chainID)
	signed, err := types.SignTx(rawTx, signer, s.key)
	if err != nil {
		return chaintypes.SignedTx{}, fmt.Errorf("txbuilder: sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return chaintypes.SignedTx{}, fmt.Errorf("txbuilder: marshal signed transaction: %w", err)
	}

	return chaintypes.SignedTx{Raw: raw, Hash: signed.Hash()}, nil
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
