// Package types holds wire-level types shared by the chain-facing
// collaborators (contractclient, chain, txlistener, txbuilder). They mirror
// what a JSON-RPC provider actually returns, not the domain model in the
// flasharb package.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxType selects how a transaction's gas fields are populated when sent.
type TxType int

const (
	// Standard lets the provider estimate gas and use legacy pricing.
	Standard TxType = iota
	// DynamicFee uses EIP-1559 fee fields (maxFeePerGas / maxPriorityFeePerGas).
	DynamicFee
)

// TxReceipt is the subset of an eth_getTransactionReceipt result this module
// needs. Numeric fields arrive as hex strings, matching what providers
// return over JSON-RPC; callers that need math convert explicitly, which
// keeps the line between "bytes off the wire" and "decoded domain value"
// visible at the call site.
type TxReceipt struct {
	TxHash            common.Hash    `json:"transactionHash"`
	BlockNumber       string         `json:"blockNumber"`
	Status            string         `json:"status"` // "0x1" success, "0x0" revert
	GasUsed           string         `json:"gasUsed"`
	EffectiveGasPrice string         `json:"effectiveGasPrice"`
	ContractAddress   common.Address `json:"contractAddress"`
	Logs              []Log          `json:"logs"`
}

// Log is a decoded-enough event log entry for downstream event parsing.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    []byte         `json:"data"`
}

// Succeeded reports whether the receipt reflects an on-chain success.
func (r *TxReceipt) Succeeded() bool {
	return r != nil && r.Status == "0x1"
}

// BlockNumberUint64 parses BlockNumber, returning 0 if unset/invalid.
func (r *TxReceipt) BlockNumberUint64() uint64 {
	if r == nil || r.BlockNumber == "" {
		return 0
	}
	n, err := hexutil.DecodeUint64(r.BlockNumber)
	if err != nil {
		return 0
	}
	return n
}

// GasUsedInt parses GasUsed into a big.Int, returning nil if unset/invalid.
func (r *TxReceipt) GasUsedInt() *big.Int {
	if r == nil || r.GasUsed == "" {
		return nil
	}
	v := new(big.Int)
	if _, ok := v.SetString(r.GasUsed, 0); !ok {
		return nil
	}
	return v
}

// EffectiveGasPriceInt parses EffectiveGasPrice into a big.Int.
func (r *TxReceipt) EffectiveGasPriceInt() *big.Int {
	if r == nil || r.EffectiveGasPrice == "" {
		return nil
	}
	v := new(big.Int)
	if _, ok := v.SetString(r.EffectiveGasPrice, 0); !ok {
		return nil
	}
	return v
}

// GasCost returns GasUsed * EffectiveGasPrice, or nil if either is unparsable.
func (r *TxReceipt) GasCost() *big.Int {
	used, price := r.GasUsedInt(), r.EffectiveGasPriceInt()
	if used == nil || price == nil {
		return nil
	}
	return new(big.Int).Mul(used, price)
}

// SignedTx is an opaque, provider-ready transaction payload produced by the
// Transaction Builder collaborator (spec §6) and accepted by the Chain
// Transport's broadcast verb.
type SignedTx struct {
	Raw  []byte      `json:"raw"`  // RLP-encoded signed transaction
	Hash common.Hash `json:"hash"` // precomputed tx hash, for listener correlation
}

// GasFields carries the triple the Transaction Builder needs: nonce plus a
// gas price/limit estimate supplied by the caller (the Executor, which reads
// current conditions from configuration/the chain before building).
type GasFields struct {
	Nonce     uint64
	GasLimit  uint64
	GasPrice  *big.Int // legacy gas price, wei
	GasTipCap *big.Int // EIP-1559 priority fee, wei (optional)
	GasFeeCap *big.Int // EIP-1559 fee cap, wei (optional)
}
