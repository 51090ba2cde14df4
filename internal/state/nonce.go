// Package state is the Submission State Keeper (component G): a durable,
// per-signer record of the next nonce to use and any in-flight transaction,
// persisted at a stable path with atomic write-temp-then-rename so a crash
// between broadcast and receipt never loses the pending tx hash (§4.G).
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OnChainNoncer is the one chain verb the Keeper needs: the current nonce
// for an address, including pending transactions.
type OnChainNoncer interface {
	NonceAt(ctx context.Context, address common.Address) (uint64, error)
}

// pendingTx mirrors the optional {txHash, submittedAt} pair spec §4.G's
// NonceRecord carries.
type pendingTx struct {
	TxHash      common.Hash `json:"txHash"`
	SubmittedAt int64       `json:"submittedAt"` // unix-ms
}

// nonceFile is the on-disk JSON shape at <data_dir>/nonce.json.
type nonceFile struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
	Pending *pendingTx     `json:"pending,omitempty"`
}

// Report describes what get_next_nonce observed, per §4.G's three string
// outcomes ("", "had pending: confirmed", "had pending: dropped").
type Report string

const (
	ReportClean            Report = ""
	ReportPendingConfirmed Report = "had pending: confirmed"
	ReportPendingDropped   Report = "had pending: dropped"
)

// ErrNoncePending is returned by GetNextNonce when a pending transaction is
// still within pendingTimeout and on-chain hasn't advanced past it yet —
// spec §4.G's "block briefly and retry, or surface a retryable error"
// choice; this Keeper surfaces the error.
var ErrNoncePending = fmt.Errorf("state: nonce still pending confirmation")

// Keeper is the Submission State Keeper. All access goes through its
// methods; the record itself is never shared (§3: "owned exclusively by the
// State Keeper").
type Keeper struct {
	mu             sync.Mutex
	path           string
	record         nonceFile
	chain          OnChainNoncer
	pendingTimeout time.Duration
}

// NewKeeper loads (or initializes) the nonce file at path, validates it
// against address, and performs startup sync against the chain (§4.G:
// "if local.nonce < on-chain, raise local to on-chain").
func NewKeeper(ctx context.Context, path string, address common.Address, chain OnChainNoncer, pendingTimeout time.Duration) (*Keeper, error) {
	k := &Keeper{path: path, chain: chain, pendingTimeout: pendingTimeout}

	record, err := loadNonceFile(path)
	if err != nil {
		return nil, err
	}
	fresh := record == nil
	if fresh {
		record = &nonceFile{Address: address, Nonce: 0}
	} else if record.Address != address {
		return nil, fmt.Errorf("state: nonce file %s is for signer %s, current signer is %s", path, record.Address, address)
	}
	k.record = *record

	onChain, err := chain.NonceAt(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("state: startup nonce query: %w", err)
	}
	if k.record.Nonce < onChain {
		k.record.Nonce = onChain
	}
	if fresh || k.record.Nonce != record.Nonce {
		if err := k.persist(); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func loadNonceFile(path string) (*nonceFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read nonce file: %w", err)
	}
	var record nonceFile
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("state: parse nonce file: %w", err)
	}
	return &record, nil
}

// GetNextNonce implements §4.G's state machine. With no pending record it
// is a read-only no-op (§8's idempotence invariant). With a pending record
// it resolves confirmed/dropped/still-pending against the chain inside one
// mutex-held critical section (§5: "guarded by a mutex and held only for
// the duration of the ... read").
func (k *Keeper) GetNextNonce(ctx context.Context) (uint64, Report, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.record.Pending == nil {
		return k.record.Nonce, ReportClean, nil
	}

	onChain, err := k.chain.NonceAt(ctx, k.record.Address)
	if err != nil {
		return 0, "", fmt.Errorf("state: nonce query: %w", err)
	}

	if onChain > k.record.Nonce {
		k.record.Nonce++
		k.record.Pending = nil
		if err := k.persist(); err != nil {
			return 0, "", err
		}
		return k.record.Nonce, ReportPendingConfirmed, nil
	}

	submittedAt := time.UnixMilli(k.record.Pending.SubmittedAt)
	if onChain == k.record.Nonce && time.Since(submittedAt) > k.pendingTimeout {
		k.record.Pending = nil
		if err := k.persist(); err != nil {
			return 0, "", err
		}
		return k.record.Nonce, ReportPendingDropped, nil
	}

	return 0, "", ErrNoncePending
}

// MarkSubmitted records a broadcast transaction as pending and persists
// immediately — spec §4.F's "next-nonce is persisted BEFORE the RPC
// transmit returns" is satisfied by calling this before Broadcast, not
// after; see executor.go.
func (k *Keeper) MarkSubmitted(txHash common.Hash, submittedAt time.Time) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.record.Pending = &pendingTx{TxHash: txHash, SubmittedAt: submittedAt.UnixMilli()}
	return k.persist()
}

// MarkConfirmed increments the nonce and clears the pending record.
func (k *Keeper) MarkConfirmed(txHash common.Hash) error {
	return k.resolvePending(txHash)
}

// MarkReverted also increments the nonce: an on-chain revert still consumed
// the nonce slot (§4.G lists mark_confirmed/mark_reverted as the same
// transition).
func (k *Keeper) MarkReverted(txHash common.Hash) error {
	return k.resolvePending(txHash)
}

func (k *Keeper) resolvePending(txHash common.Hash) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.record.Nonce++
	k.record.Pending = nil
	return k.persist()
}

// Nonce returns the currently persisted nonce value, for diagnostics.
func (k *Keeper) Nonce() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.record.Nonce
}

// persist atomically replaces the nonce file: write to a temp file in the
// same directory, fsync, then os.Rename (§4.G, §6: "Atomic replace ...
// REQUIRED").
func (k *Keeper) persist() error {
	data, err := json.MarshalIndent(k.record, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal nonce record: %w", err)
	}

	dir := filepath.Dir(k.path)
	tmp, err := os.CreateTemp(dir, ".nonce-*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp nonce file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write temp nonce file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: fsync temp nonce file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close temp nonce file: %w", err)
	}
	if err := os.Rename(tmpPath, k.path); err != nil {
		return fmt.Errorf("state: rename nonce file into place: %w", err)
	}
	return nil
}
