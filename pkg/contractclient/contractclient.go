// Package contractclient wraps a single on-chain contract address plus its
// parsed ABI, giving callers (the Executor, as wired by cmd/flasharb) a
// read/decode surface without each collaborator re-deriving calldata or
// re-decoding logs itself. The shape mirrors the teacher's own
// ContractClient: hold the ABI once, expose Call/pack/decode helpers keyed
// off method name. It has no send helper.
package contractclient

import (
	"context"
	"fmt"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	chaintypes "github.com/flowstate-labs/flasharbgo/pkg/types"
)

// ContractClient is the read/encode surface a single contract address needs.
// It does not sign or broadcast transactions itself — pkg/txbuilder and
// pkg/chain own that, keeping key material out of this package entirely.
type ContractClient interface {
	Abi() abi.ABI
	ContractAddress() common.Address

	// Call performs a non-mutating eth_call against method with args, ABI
	// decoding the result into a slice of Go values in output-parameter order.
	Call(ctx context.Context, from *common.Address, method string, args ...interface{}) ([]interface{}, error)

	// PackCalldata ABI-encodes method+args into contract calldata, for the
	// Transaction Builder to wrap into a signed transaction.
	PackCalldata(method string, args ...interface{}) ([]byte, error)

	// TransactionData fetches the raw calldata a previously-submitted
	// transaction carried, by hash.
	TransactionData(ctx context.Context, hash common.Hash) ([]byte, error)

	// DecodeTransaction ABI-decodes calldata captured by TransactionData (or
	// from a pending-tx listener) back into method name + decoded args.
	DecodeTransaction(data []byte) (method string, args []interface{}, err error)

	// ParseReceiptLogs decodes every log in receipt that matches an event in
	// this contract's ABI, returning one decoded-args map per matched log.
	ParseReceiptLogs(receipt *chaintypes.TxReceipt) ([]DecodedEvent, error)
}

// DecodedEvent is one ABI-decoded event log, keyed by event name.
type DecodedEvent struct {
	Name string
	Args map[string]interface{}
}

type client struct {
	backend *ethclient.Client
	address common.Address
	abi     abi.ABI
}

// NewContractClient builds a ContractClient bound to address, using the
// already-parsed abi (loaded via internal/util.LoadABI or
// LoadABIFromHardhatArtifact).
func NewContractClient(backend *ethclient.Client, address common.Address, contractABI abi.ABI) ContractClient {
	return &client{backend: backend, address: address, abi: contractABI}
}

func (c *client) Abi() abi.ABI                    { return c.abi }
func (c *client) ContractAddress() common.Address { return c.address }

func (c *client) PackCalldata(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}
	return data, nil
}

func (c *client) Call(ctx context.Context, from *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.PackCalldata(method, args...)
	if err != nil {
		return nil, err
	}

	var fromAddr common.Address
	if from != nil {
		fromAddr = *from
	}
	msg := ethereum.CallMsg{From: fromAddr, To: &c.address, Data: data}
	raw, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("contractclient: call %s: %w", method, err)
	}

	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("contractclient: unpack %s result: %w", method, err)
	}
	return out, nil
}

func (c *client) TransactionData(ctx context.Context, hash common.Hash) ([]byte, error) {
	tx, _, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("contractclient: fetch tx %s: %w", hash, err)
	}
	return tx.Data(), nil
}

func (c *client) DecodeTransaction(data []byte) (string, []interface{}, error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("contractclient: calldata shorter than a method selector")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return "", nil, fmt.Errorf("contractclient: resolve method selector: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, fmt.Errorf("contractclient: unpack args for %s: %w", method.Name, err)
	}
	return method.Name, args, nil
}

func (c *client) ParseReceiptLogs(receipt *chaintypes.TxReceipt) ([]DecodedEvent, error) {
	if receipt == nil {
		return nil, fmt.Errorf("contractclient: nil receipt")
	}
	var decoded []DecodedEvent
	for _, log := range receipt.Logs {
		if log.Address != c.address || len(log.Topics) == 0 {
			continue
		}
		event, err := c.abi.EventByID(log.Topics[0])
		if err != nil {
			continue // not one of this contract's known events
		}
		args := make(map[string]interface{})
		if len(log.Data) > 0 {
			if err := c.abi.UnpackIntoMap(args, event.Name, log.Data); err != nil {
				return nil, fmt.Errorf("contractclient: unpack event %s: %w", event.Name, err)
			}
		}
		decoded = append(decoded, DecodedEvent{Name: event.Name, Args: args})
	}
	return decoded, nil
}
