// Package txlistener polls an RPC endpoint for a transaction's receipt,
// giving the Executor a single suspension point to wait out confirmation
// instead of threading polling logic through every caller. Shape and
// functional-option naming follow the teacher's TxListener.
package txlistener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	chaintypes "github.com/flowstate-labs/flasharbgo/pkg/types"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultTimeout      = 2 * time.Minute
)

// TxListener waits for transactions to be mined, converting the provider's
// receipt shape into this module's chaintypes.TxReceipt.
type TxListener struct {
	client       *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a TxListener at construction.
type Option func(*TxListener)

// WithPollInterval overrides the default receipt-polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(l *TxListener) { l.pollInterval = d }
}

// WithTimeout overrides how long WaitForTransaction waits before giving up.
func WithTimeout(d time.Duration) Option {
	return func(l *TxListener) { l.timeout = d }
}

// NewTxListener builds a TxListener bound to client, applying any options.
func NewTxListener(client *ethclient.Client, opts ...Option) *TxListener {
	l := &TxListener{
		client:       client,
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction blocks until hash's receipt is available or the
// listener's timeout elapses. This is one of the Executor's named
// suspension points (spec §5): it may block on I/O, but it never holds a
// lock and never touches the Optimizer's hot path.
func (l *TxListener) WaitForTransaction(ctx context.Context, hash common.Hash) (*chaintypes.TxReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return convertReceipt(receipt), nil
		case errors.Is(err, ethereum.NotFound):
			// not yet mined, keep polling
		default:
			return nil, fmt.Errorf("txlistener: fetch receipt %s: %w", hash, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("txlistener: timed out waiting for %s: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func convertReceipt(r *gethtypes.Receipt) *chaintypes.TxReceipt {
	status := "0x0"
	if r.Status == gethtypes.ReceiptStatusSuccessful {
		status = "0x1"
	}

	logs := make([]chaintypes.Log, 0, len(r.Logs))
	for _, lg := range r.Logs {
		logs = append(logs, chaintypes.Log{
			Address: lg.Address,
			Topics:  lg.Topics,
			Data:    lg.Data,
		})
	}

	return &chaintypes.TxReceipt{
		TxHash:            r.TxHash,
		BlockNumber:       fmt.Sprintf("0x%x", r.BlockNumber),
		Status:            status,
		GasUsed:           fmt.Sprintf("0x%x", r.GasUsed),
		EffectiveGasPrice: fmt.Sprintf("0x%x", r.EffectiveGasPrice),
		ContractAddress:   r.ContractAddress,
		Logs:              logs,
	}
}
