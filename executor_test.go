package flasharb

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstate-labs/flasharbgo/internal/outcome"
	"github.com/flowstate-labs/flasharbgo/internal/state"
	"github.com/flowstate-labs/flasharbgo/pkg/chain"
	"github.com/flowstate-labs/flasharbgo/pkg/contractclient"
	"github.com/flowstate-labs/flasharbgo/pkg/txbuilder"
	chaintypes "github.com/flowstate-labs/flasharbgo/pkg/types"
)

type fakeDecoder struct {
	events []contractclient.DecodedEvent
	err    error
}

func (d *fakeDecoder) ParseReceiptLogs(receipt *chaintypes.TxReceipt) ([]contractclient.DecodedEvent, error) {
	return d.events, d.err
}

type fakeBuilder struct {
	to   common.Address
	data []byte
	err  error
}

func (b *fakeBuilder) Build(req txbuilder.BuildRequest) (common.Address, []byte, error) {
	return b.to, b.data, b.err
}

type fakeSigner struct {
	address common.Address
	hash    common.Hash
}

func (s *fakeSigner) Address() common.Address { return s.address }

func (s *fakeSigner) SignTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gas chaintypes.GasFields, chainID *big.Int) (chaintypes.SignedTx, error) {
	return chaintypes.SignedTx{Raw: []byte{0x01}, Hash: s.hash}, nil
}

type fakeExecTransport struct {
	simulateErr    error
	broadcastCalls int
	broadcastErr   error
	receipt        *chaintypes.TxReceipt
	receiptErr     error
}

func (t *fakeExecTransport) BatchCall(ctx context.Context, calls []chain.Call) (chain.BatchResult, error) {
	return chain.BatchResult{}, nil
}

func (t *fakeExecTransport) Simulate(ctx context.Context, from, to common.Address, data []byte) ([]byte, error) {
	return []byte{0x01}, t.simulateErr
}

func (t *fakeExecTransport) Broadcast(ctx context.Context, signed chaintypes.SignedTx) (common.Hash, error) {
	t.broadcastCalls++
	if t.broadcastErr != nil {
		return common.Hash{}, t.broadcastErr
	}
	return signed.Hash, nil
}

func (t *fakeExecTransport) NonceAt(ctx context.Context, address common.Address) (uint64, error) {
	return 0, nil
}

func (t *fakeExecTransport) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*chaintypes.TxReceipt, error) {
	return t.receipt, t.receiptErr
}

func testOpportunity(ts time.Time) *ArbitrageOpportunity {
	weth := common.HexToAddress("0x01")
	usdc := common.HexToAddress("0x02")
	pool := common.HexToAddress("0x03")
	return &ArbitrageOpportunity{
		ID:          "opp-1",
		InputAmount: big.NewInt(1000),
		NetProfit:   big.NewInt(50),
		Timestamp:   ts,
		Path: SwapPath{
			BaseToken: weth,
			Steps: []SwapStep{
				{PoolAddress: pool, TokenIn: weth, TokenOut: usdc},
				{PoolAddress: pool, TokenIn: usdc, TokenOut: weth},
			},
		},
	}
}

func newTestKeeper(t *testing.T) *state.Keeper {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nonce.json")
	k, err := state.NewKeeper(context.Background(), path, common.HexToAddress("0xaa"), noncerFunc(func(context.Context, common.Address) (uint64, error) { return 0, nil }), 5*time.Minute)
	require.NoError(t, err)
	return k
}

type noncerFunc func(ctx context.Context, address common.Address) (uint64, error)

func (f noncerFunc) NonceAt(ctx context.Context, address common.Address) (uint64, error) {
	return f(ctx, address)
}

// TestExecutorSubmitBlocksOnStaleOpportunity reproduces scenario S3: a
// valid opportunity that sat for 250ms before the Executor runs in submit
// mode never reaches the transport.
func TestExecutorSubmitBlocksOnStaleOpportunity(t *testing.T) {
	transport := &fakeExecTransport{receipt: &chaintypes.TxReceipt{Status: "0x1"}}
	keeper := newTestKeeper(t)
	events := make(chan Event, 4)

	e := NewExecutor(ExecutorConfig{Mode: ModeSubmit}, &fakeBuilder{to: common.HexToAddress("0x99"), data: []byte{0x01, 0x02}}, &fakeSigner{}, transport, keeper, nil, nil, nil, events)

	opp := testOpportunity(time.Now().Add(-250 * time.Millisecond))
	err := e.Execute(context.Background(), opp)

	require.NoError(t, err)
	assert.Equal(t, 0, transport.broadcastCalls)
	assert.Equal(t, uint64(0), keeper.Nonce())
}

// TestExecutorSubmitFreshOpportunitySucceeds covers invariant 1: a fresh
// opportunity (well under the 200ms budget) is broadcast and confirmed.
func TestExecutorSubmitFreshOpportunitySucceeds(t *testing.T) {
	transport := &fakeExecTransport{receipt: &chaintypes.TxReceipt{Status: "0x1"}}
	keeper := newTestKeeper(t)
	outcomes := outcome.NewStore(filepath.Join(t.TempDir(), "trades.jsonl"))
	events := make(chan Event, 4)

	e := NewExecutor(ExecutorConfig{Mode: ModeSubmit}, &fakeBuilder{to: common.HexToAddress("0x99"), data: []byte{0x01, 0x02}}, &fakeSigner{hash: common.HexToHash("0xbeef")}, transport, keeper, outcomes, nil, nil, events)

	opp := testOpportunity(time.Now())
	err := e.Execute(context.Background(), opp)

	require.NoError(t, err)
	assert.Equal(t, 1, transport.broadcastCalls)
	assert.Equal(t, uint64(1), keeper.Nonce())

	close(events)
	var sawConfirmed bool
	for ev := range events {
		if ev.Kind == EventConfirmed {
			sawConfirmed = true
		}
	}
	assert.True(t, sawConfirmed)
}

// TestExecutorSubmitDecodesConfirmedReceiptLogs checks that a configured
// ReceiptDecoder's decoded events land in the recorded outcome's Detail.
func TestExecutorSubmitDecodesConfirmedReceiptLogs(t *testing.T) {
	transport := &fakeExecTransport{receipt: &chaintypes.TxReceipt{Status: "0x1"}}
	keeper := newTestKeeper(t)
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	outcomes := outcome.NewStore(path)
	decoder := &fakeDecoder{events: []contractclient.DecodedEvent{{Name: "ArbitrageExecuted"}}}
	events := make(chan Event, 4)

	e := NewExecutor(ExecutorConfig{Mode: ModeSubmit}, &fakeBuilder{to: common.HexToAddress("0x99"), data: []byte{0x01, 0x02}}, &fakeSigner{hash: common.HexToHash("0xbeef")}, transport, keeper, outcomes, nil, decoder, events)

	opp := testOpportunity(time.Now())
	require.NoError(t, e.Execute(context.Background(), opp))

	recorded, err := outcome.ReadAll(path)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Contains(t, recorded[0].Detail, "ArbitrageExecuted")
}

func TestExecutorSubmitMarksRevertedOnFailedReceipt(t *testing.T) {
	transport := &fakeExecTransport{receipt: &chaintypes.TxReceipt{Status: "0x0"}}
	keeper := newTestKeeper(t)
	events := make(chan Event, 4)

	e := NewExecutor(ExecutorConfig{Mode: ModeSubmit}, &fakeBuilder{to: common.HexToAddress("0x99"), data: []byte{0x01}}, &fakeSigner{hash: common.HexToHash("0xbeef")}, transport, keeper, nil, nil, nil, events)

	opp := testOpportunity(time.Now())
	err := e.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), keeper.Nonce()) // nonce still consumed on revert

	close(events)
	var sawReverted bool
	for ev := range events {
		if ev.Kind == EventReverted {
			sawReverted = true
		}
	}
	assert.True(t, sawReverted)
}

func TestExecutorReportModeLogsAndReturnsNil(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Mode: ModeReport}, nil, nil, nil, nil, nil, nil, nil, make(chan Event, 1))
	opp := testOpportunity(time.Now())
	err := e.Execute(context.Background(), opp)
	assert.NoError(t, err)
}

func TestExecutorSimulateModeRecordsRevertOnCallFailure(t *testing.T) {
	transport := &fakeExecTransport{simulateErr: assertAnError{}}
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	outcomes := outcome.NewStore(path)

	e := NewExecutor(ExecutorConfig{Mode: ModeSimulate}, &fakeBuilder{to: common.HexToAddress("0x99"), data: []byte{0x01}}, &fakeSigner{}, transport, nil, outcomes, nil, nil, make(chan Event, 1))

	opp := testOpportunity(time.Now())
	err := e.Execute(context.Background(), opp)
	require.NoError(t, err)

	recorded, err := outcome.ReadAll(path)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "simulation-revert", recorded[0].Result)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "simulated revert" }
