package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaintypes "github.com/flowstate-labs/flasharbgo/pkg/types"
)

// fakeEthService emulates just enough of the eth_* JSON-RPC namespace for
// EVMTransport's tests, registered on an in-process rpc.Server the same way
// go-ethereum's own rpc package tests exercise client behavior without a
// real network endpoint.
type fakeEthService struct {
	callResult   hexutil.Bytes
	callErr      error
	sentRaw      hexutil.Bytes
	nonce        hexutil.Uint64
	rejectSendTx bool

	blockNumber hexutil.Uint64
	blockTime   hexutil.Uint64
}

func (s *fakeEthService) Call(args map[string]interface{}, block string) (hexutil.Bytes, error) {
	if s.callErr != nil {
		return nil, s.callErr
	}
	return s.callResult, nil
}

func (s *fakeEthService) GetBlockByNumber(block string, fullTx bool) (map[string]interface{}, error) {
	num := s.blockNumber
	ts := s.blockTime
	if ts == 0 {
		ts = 1700000000
	}
	return map[string]interface{}{
		"number":    num,
		"timestamp": ts,
	}, nil
}

func (s *fakeEthService) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	if s.rejectSendTx {
		return common.Hash{}, errors.New("rejected")
	}
	s.sentRaw = raw
	return common.HexToHash("0xdeadbeef"), nil
}

func (s *fakeEthService) GetTransactionCount(addr common.Address, block string) (hexutil.Uint64, error) {
	return s.nonce, nil
}

func dialFakeServer(t *testing.T, svc *fakeEthService) *gethrpc.Client {
	t.Helper()
	server := gethrpc.NewServer()
	require.NoError(t, server.RegisterName("eth", svc))
	client := gethrpc.DialInProc(server)
	t.Cleanup(client.Close)
	return client
}

type fakeWaiter struct {
	receipt *chaintypes.TxReceipt
	err     error
}

func (w fakeWaiter) WaitForTransaction(ctx context.Context, hash common.Hash) (*chaintypes.TxReceipt, error) {
	return w.receipt, w.err
}

func TestBatchCallDecodesEachResult(t *testing.T) {
	svc := &fakeEthService{callResult: hexutil.Bytes{0x01, 0x02}, blockNumber: 42, blockTime: 1700000000}
	client := dialFakeServer(t, svc)
	transport := NewEVMTransport(client, fakeWaiter{})

	batch, err := transport.BatchCall(context.Background(), []Call{
		{To: common.HexToAddress("0x01"), Data: []byte{0xaa}},
		{To: common.HexToAddress("0x02"), Data: []byte{0xbb}},
	})
	require.NoError(t, err)
	require.Len(t, batch.Results, 2)
	for _, r := range batch.Results {
		require.NoError(t, r.Err)
		assert.Equal(t, []byte{0x01, 0x02}, r.Result)
	}
	assert.Equal(t, uint64(42), batch.BlockNumber)
	assert.Equal(t, int64(1700000000), batch.BlockTime.Unix())
}

func TestBatchCallEmptyIsNoop(t *testing.T) {
	transport := NewEVMTransport(nil, fakeWaiter{})
	batch, err := transport.BatchCall(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, batch.Results)
}

func TestSimulateReturnsDecodedResult(t *testing.T) {
	svc := &fakeEthService{callResult: hexutil.Bytes{0xca, 0xfe}}
	client := dialFakeServer(t, svc)
	transport := NewEVMTransport(client, fakeWaiter{})

	got, err := transport.Simulate(context.Background(), common.Address{}, common.HexToAddress("0x02"), []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe}, got)
}

func TestBroadcastReturnsPrecomputedHash(t *testing.T) {
	svc := &fakeEthService{}
	client := dialFakeServer(t, svc)
	transport := NewEVMTransport(client, fakeWaiter{})

	expected := common.HexToHash("0x1234")
	signed := chaintypes.SignedTx{Raw: []byte{0x01, 0x02, 0x03}, Hash: expected}

	got, err := transport.Broadcast(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, expected, got)
	assert.Equal(t, hexutil.Bytes(signed.Raw), svc.sentRaw)
}

func TestBroadcastPropagatesTransportError(t *testing.T) {
	svc := &fakeEthService{rejectSendTx: true}
	client := dialFakeServer(t, svc)
	transport := NewEVMTransport(client, fakeWaiter{})

	_, err := transport.Broadcast(context.Background(), chaintypes.SignedTx{Raw: []byte{0x01}})
	assert.Error(t, err)
}

func TestNonceAtReturnsServiceValue(t *testing.T) {
	svc := &fakeEthService{nonce: hexutil.Uint64(7)}
	client := dialFakeServer(t, svc)
	transport := NewEVMTransport(client, fakeWaiter{})

	got, err := transport.NonceAt(context.Background(), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got)
}

func TestWaitReceiptDelegatesToWaiter(t *testing.T) {
	want := &chaintypes.TxReceipt{Status: "0x1"}
	transport := NewEVMTransport(nil, fakeWaiter{receipt: want})

	got, err := transport.WaitReceipt(context.Background(), common.Hash{}, time.Second)
	require.NoError(t, err)
	assert.Same(t, want, got)
}
