// Package chain is the Executor's one gateway to the network: batched state
// reads for the Snapshotter, a non-broadcasting simulate call, transaction
// broadcast, nonce queries, and receipt waiting. Bundling these behind one
// interface keeps every suspension point named in spec §5 ("Snapshotter's
// batched read", "Executor's simulate/broadcast/receipt-wait", "State
// Keeper's nonce query") behind a single seam that tests can fake.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	chaintypes "github.com/flowstate-labs/flasharbgo/pkg/types"
)

// Call is one contract read to include in a batched request.
type Call struct {
	To   common.Address
	Data []byte
}

// CallResult is one batched call's outcome. Err is set if that specific
// call failed; a failure in one element never discards the rest of the
// batch (spec §4.A: a single pool's read failure trips only that pool's
// circuit breaker).
type CallResult struct {
	Result []byte
	Err    error
}

// BatchResult is one polling round's outcome: every call's result plus the
// block the reads were evaluated against (spec §6 chain transport
// collaborator verb (a): "a block number and timestamp").
type BatchResult struct {
	Results     []CallResult
	BlockNumber uint64
	BlockTime   time.Time
}

// Transport is everything the Executor and Snapshotter need from the chain.
// Real traffic goes through EVMTransport; tests substitute a fake.
type Transport interface {
	// BatchCall performs every call in one JSON-RPC batch request (spec §4.A:
	// "one batched request per polling tick, not N individual calls"),
	// together with the latest block header whose number and timestamp it
	// returns. Each call is evaluated at "latest" on its own; the calls are
	// not pinned to that header's block number.
	BatchCall(ctx context.Context, calls []Call) (BatchResult, error)

	// Simulate dry-runs a transaction via eth_call at the latest block,
	// without spending gas or mutating state — the Executor's "simulate" mode.
	Simulate(ctx context.Context, from common.Address, to common.Address, data []byte) ([]byte, error)

	// Broadcast submits a signed, RLP-encoded transaction and returns its hash.
	Broadcast(ctx context.Context, signed chaintypes.SignedTx) (common.Hash, error)

	// NonceAt returns the next nonce to use for address, including pending
	// transactions — the figure the State Keeper reconciles against its
	// persisted NonceRecord at startup.
	NonceAt(ctx context.Context, address common.Address) (uint64, error)

	// WaitReceipt blocks until hash is mined or timeout elapses.
	WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*chaintypes.TxReceipt, error)
}

// EVMTransport is the real Transport, backed by an RPC endpoint.
type EVMTransport struct {
	rpcClient *gethrpc.Client
	waiter    receiptWaiter
}

// receiptWaiter is the narrow slice of *txlistener.TxListener EVMTransport
// depends on; defined here (not imported) to avoid a chain<->txlistener
// import cycle, since txlistener has no need to know about chain.
type receiptWaiter interface {
	WaitForTransaction(ctx context.Context, hash common.Hash) (*chaintypes.TxReceipt, error)
}

// NewEVMTransport builds an EVMTransport over an already-dialed RPC client.
// waiter is typically a *txlistener.TxListener constructed against the same
// endpoint.
func NewEVMTransport(rpcClient *gethrpc.Client, waiter receiptWaiter) *EVMTransport {
	return &EVMTransport{rpcClient: rpcClient, waiter: waiter}
}

// blockHeader captures just the fields BatchCall needs from
// eth_getBlockByNumber, bundled into the same batch request as the pool
// reads so the whole round stays a single JSON-RPC round trip.
type blockHeader struct {
	Number    string `json:"number"`
	Timestamp string `json:"timestamp"`
}

func (t *EVMTransport) BatchCall(ctx context.Context, calls []Call) (BatchResult, error) {
	if len(calls) == 0 {
		return BatchResult{}, nil
	}

	var header blockHeader
	elems := make([]gethrpc.BatchElem, len(calls)+1)
	elems[0] = gethrpc.BatchElem{
		Method: "eth_getBlockByNumber",
		Args:   []interface{}{"latest", false},
		Result: &header,
	}

	results := make([]string, len(calls))
	for i, c := range calls {
		arg := map[string]interface{}{
			"to":   c.To,
			"data": hexutil.Encode(c.Data),
		}
		elems[i+1] = gethrpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{arg, "latest"},
			Result: &results[i],
		}
	}

	if err := t.rpcClient.BatchCallContext(ctx, elems); err != nil {
		return BatchResult{}, fmt.Errorf("chain: batch call transport failure: %w", err)
	}
	if elems[0].Error != nil {
		return BatchResult{}, fmt.Errorf("chain: fetch block header: %w", elems[0].Error)
	}

	blockNumber, err := hexutil.DecodeUint64(header.Number)
	if err != nil {
		return BatchResult{}, fmt.Errorf("chain: decode block number: %w", err)
	}
	blockTimeSec, err := hexutil.DecodeUint64(header.Timestamp)
	if err != nil {
		return BatchResult{}, fmt.Errorf("chain: decode block timestamp: %w", err)
	}

	out := make([]CallResult, len(calls))
	for i, elem := range elems[1:] {
		if elem.Error != nil {
			out[i] = CallResult{Err: fmt.Errorf("chain: call %d failed: %w", i, elem.Error)}
			continue
		}
		decoded, err := hexutil.Decode(results[i])
		if err != nil {
			out[i] = CallResult{Err: fmt.Errorf("chain: decode call %d result: %w", i, err)}
			continue
		}
		out[i] = CallResult{Result: decoded}
	}
	return BatchResult{
		Results:     out,
		BlockNumber: blockNumber,
		BlockTime:   time.Unix(int64(blockTimeSec), 0),
	}, nil
}

func (t *EVMTransport) Simulate(ctx context.Context, from, to common.Address, data []byte) ([]byte, error) {
	arg := map[string]interface{}{
		"from": from,
		"to":   to,
		"data": hexutil.Encode(data),
	}
	var result string
	if err := t.rpcClient.CallContext(ctx, &result, "eth_call", arg, "latest"); err != nil {
		return nil, fmt.Errorf("chain: simulate call: %w", err)
	}
	decoded, err := hexutil.Decode(result)
	if err != nil {
		return nil, fmt.Errorf("chain: decode simulate result: %w", err)
	}
	return decoded, nil
}

func (t *EVMTransport) Broadcast(ctx context.Context, signed chaintypes.SignedTx) (common.Hash, error) {
	if err := t.rpcClient.CallContext(ctx, nil, "eth_sendRawTransaction", hexutil.Encode(signed.Raw)); err != nil {
		return common.Hash{}, fmt.Errorf("chain: broadcast: %w", err)
	}
	return signed.Hash, nil
}

func (t *EVMTransport) NonceAt(ctx context.Context, address common.Address) (uint64, error) {
	var result hexutil.Uint64
	if err := t.rpcClient.CallContext(ctx, &result, "eth_getTransactionCount", address, "pending"); err != nil {
		return 0, fmt.Errorf("chain: nonce query: %w", err)
	}
	return uint64(result), nil
}

func (t *EVMTransport) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*chaintypes.TxReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.waiter.WaitForTransaction(ctx, hash)
}
