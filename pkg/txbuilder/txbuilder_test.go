package txbuilder

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaintypes "github.com/flowstate-labs/flasharbgo/pkg/types"
)

const aggregatorABI = `[
	{"type":"function","name":"executeArbitrage","inputs":[
		{"name":"flashProvider","type":"address"},
		{"name":"borrowToken","type":"address"},
		{"name":"borrowAmount","type":"uint256"},
		{"name":"minProfit","type":"uint256"},
		{"name":"pools","type":"address[]"},
		{"name":"deadline","type":"uint256"}
	],"outputs":[],"stateMutability":"nonpayable"}
]`

func mustParseABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	require.NoError(t, err)
	return parsed
}

func TestFlashAggregatorBuilderPacksCalldata(t *testing.T) {
	builder := NewFlashAggregatorBuilder(mustParseABI(t))
	req := BuildRequest{
		AggregatorAddress: common.HexToAddress("0x01"),
		FlashProvider:     common.HexToAddress("0x02"),
		BorrowToken:       common.HexToAddress("0x03"),
		BorrowAmount:      big.NewInt(1_000_000),
		MinProfit:         big.NewInt(1000),
		Legs: []SwapLeg{
			{PoolAddress: common.HexToAddress("0x10"), TokenIn: common.HexToAddress("0x03"), TokenOut: common.HexToAddress("0x04")},
			{PoolAddress: common.HexToAddress("0x11"), TokenIn: common.HexToAddress("0x04"), TokenOut: common.HexToAddress("0x03")},
		},
		Deadline: time.Unix(1_700_000_000, 0),
	}

	to, data, err := builder.Build(req)
	require.NoError(t, err)
	assert.Equal(t, req.AggregatorAddress, to)
	require.GreaterOrEqual(t, len(data), 4)

	parsed := mustParseABI(t)
	method, err := parsed.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "executeArbitrage", method.Name)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 6)
	assert.Equal(t, req.FlashProvider, args[0])
	pools := args[4].([]common.Address)
	require.Len(t, pools, 2)
	assert.Equal(t, req.Legs[0].PoolAddress, pools[0])
}

func TestFlashAggregatorBuilderRejectsEmptyLegs(t *testing.T) {
	builder := NewFlashAggregatorBuilder(mustParseABI(t))
	_, _, err := builder.Build(BuildRequest{BorrowAmount: big.NewInt(1)})
	assert.Error(t, err)
}

func TestFlashAggregatorBuilderRejectsNonPositiveBorrow(t *testing.T) {
	builder := NewFlashAggregatorBuilder(mustParseABI(t))
	_, _, err := builder.Build(BuildRequest{Legs: []SwapLeg{{}}, BorrowAmount: big.NewInt(0)})
	assert.Error(t, err)
}

func TestPrivateKeySignerSignsLegacyTransaction(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewPrivateKeySigner(key)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer.Address())

	gas := chaintypes.GasFields{Nonce: 3, GasLimit: 100000, GasPrice: big.NewInt(1_000_000_000)}
	signed, err := signer.SignTransaction(context.Background(), common.HexToAddress("0x01"), nil, []byte{0xde, 0xad}, gas, big.NewInt(1))
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Raw)
	assert.NotEqual(t, common.Hash{}, signed.Hash)
}

func TestPrivateKeySignerSignsDynamicFeeTransaction(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewPrivateKeySigner(key)

	gas := chaintypes.GasFields{
		Nonce:     1,
		GasLimit:  200000,
		GasTipCap: big.NewInt(1_000_000),
		GasFeeCap: big.NewInt(50_000_000_000),
	}
	signed, err := signer.SignTransaction(context.Background(), common.HexToAddress("0x02"), big.NewInt(0), []byte{}, gas, big.NewInt(1))
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Raw)
}
