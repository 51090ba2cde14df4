package flasharb

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/flowstate-labs/flasharbgo/pkg/ammmath"
	"github.com/flowstate-labs/flasharbgo/pkg/chain"
)

// Well-known four-byte selectors for the single read each venue family needs
// on its hot path (§4.A). Pool descriptors don't carry a full ABI — these
// signatures are fixed across every pool of a given family, the same way a
// v2 pair's getReserves() selector never changes pool to pool.
var (
	selectorGetReserves = methodSelector("getReserves()")
	selectorSlot0       = methodSelector("slot0()")
	selectorLiquidity   = methodSelector("liquidity()")
	selectorGetActiveID = methodSelector("getActiveId()")
)

func methodSelector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// SnapshotterConfig holds the tunables listed in spec §6's configuration
// surface that this component reads.
type SnapshotterConfig struct {
	PollInterval time.Duration
	MaxRetries   int
}

// Snapshotter is component A: one batched read per round across every
// configured pool, decoded into a PriceSnapshot, with per-pool circuit
// breaking standing in for "marked stale after maxRetries consecutive
// failures ... recovery automatic on next successful read" (§4.A).
type Snapshotter struct {
	pools     []*PoolDescriptor
	transport chain.Transport
	cfg       SnapshotterConfig
	breakers  map[string]*gobreaker.CircuitBreaker[PriceSnapshot]
	events    chan<- Event
}

// NewSnapshotter builds a Snapshotter over pools, reading through transport
// and publishing events to events.
func NewSnapshotter(pools []*PoolDescriptor, transport chain.Transport, cfg SnapshotterConfig, events chan<- Event) *Snapshotter {
	s := &Snapshotter{
		pools:     pools,
		transport: transport,
		cfg:       cfg,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[PriceSnapshot], len(pools)),
		events:    events,
	}
	for _, p := range pools {
		pool := p
		settings := gobreaker.Settings{
			Name:        pool.ID,
			MaxRequests: 1,
			Timeout:     cfg.PollInterval * 2,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return int(counts.ConsecutiveFailures) > cfg.MaxRetries
			},
		}
		s.breakers[pool.ID] = gobreaker.NewCircuitBreaker[PriceSnapshot](settings)
	}
	return s
}

// poolRead is one in-flight (address, calldata) read queued for this round,
// tagged back to the pool and sub-call it belongs to (v3 needs two calls).
type poolRead struct {
	pool *PoolDescriptor
	kind string // "reserves" | "slot0" | "liquidity" | "activeId"
}

// Poll issues exactly one batched read for every pool whose breaker is not
// currently open, decodes each result, and emits a priceUpdate or error
// event per pool. It never returns an error itself — per-pool failures are
// isolated and reported through the event channel (§4.A, §7).
func (s *Snapshotter) Poll(ctx context.Context) {
	var calls []chain.Call
	var reads []poolRead

	for _, pool := range s.pools {
		breaker := s.breakers[pool.ID]
		if breaker.State() == gobreaker.StateOpen {
			continue
		}
		switch pool.Family {
		case ammmath.ConstantProductV2:
			calls = append(calls, chain.Call{To: pool.Address, Data: selectorGetReserves})
			reads = append(reads, poolRead{pool: pool, kind: "reserves"})
		case ammmath.ConcentratedLiquidityV3, ammmath.ConcentratedLiquidityV3TickedFee:
			calls = append(calls, chain.Call{To: pool.Address, Data: selectorSlot0})
			reads = append(reads, poolRead{pool: pool, kind: "slot0"})
			calls = append(calls, chain.Call{To: pool.Address, Data: selectorLiquidity})
			reads = append(reads, poolRead{pool: pool, kind: "liquidity"})
		case ammmath.DiscreteBinLiquidityBook:
			calls = append(calls, chain.Call{To: pool.Address, Data: selectorGetActiveID})
			reads = append(reads, poolRead{pool: pool, kind: "activeId"})
		}
	}

	if len(calls) == 0 {
		return
	}

	batch, err := s.transport.BatchCall(ctx, calls)
	if err != nil {
		// Transport-level failure: every queued pool this round failed together.
		for _, pool := range s.pools {
			s.recordFailure(pool, fmt.Errorf("snapshotter: batch transport failure: %w", err))
		}
		return
	}

	now := time.Now()
	byPool := make(map[string][]poolRead)
	resultsByPool := make(map[string][]chain.CallResult)
	for i, r := range reads {
		byPool[r.pool.ID] = append(byPool[r.pool.ID], r)
		resultsByPool[r.pool.ID] = append(resultsByPool[r.pool.ID], batch.Results[i])
	}

	for poolID, poolReads := range byPool {
		pool := poolReads[0].pool
		snapshot, err := s.breakers[poolID].Execute(func() (PriceSnapshot, error) {
			return decodeSnapshot(pool, poolReads, resultsByPool[poolID], batch.BlockNumber, now)
		})
		if err != nil {
			s.emitError(pool, err)
			continue
		}
		s.events <- Event{Kind: EventPriceUpdate, PoolID: pool.ID, Snapshot: &snapshot}
	}
}

func (s *Snapshotter) recordFailure(pool *PoolDescriptor, err error) {
	_, execErr := s.breakers[pool.ID].Execute(func() (PriceSnapshot, error) {
		return PriceSnapshot{}, err
	})
	s.emitError(pool, execErr)
}

func (s *Snapshotter) emitError(pool *PoolDescriptor, err error) {
	s.events <- Event{Kind: EventError, PoolID: pool.ID, Err: err}
}

func decodeSnapshot(pool *PoolDescriptor, reads []poolRead, results []chain.CallResult, blockNumber uint64, now time.Time) (PriceSnapshot, error) {
	if pool.Family == ammmath.DiscreteBinLiquidityBook && pool.BinStepBps <= 0 {
		return PriceSnapshot{}, fmt.Errorf("snapshotter: pool %s missing mandatory binStep", pool.ID)
	}

	var reserve0, reserve1, liquidity, sqrtPriceX96 *big.Int
	var activeID int64

	for i, r := range reads {
		if results[i].Err != nil {
			return PriceSnapshot{}, fmt.Errorf("snapshotter: pool %s read %s failed: %w", pool.ID, r.kind, results[i].Err)
		}
		data := results[i].Result
		switch r.kind {
		case "reserves":
			if len(data) < 64 {
				return PriceSnapshot{}, fmt.Errorf("snapshotter: pool %s getReserves() short response", pool.ID)
			}
			reserve0 = new(big.Int).SetBytes(data[0:32])
			reserve1 = new(big.Int).SetBytes(data[32:64])
		case "slot0":
			if len(data) < 32 {
				return PriceSnapshot{}, fmt.Errorf("snapshotter: pool %s slot0() short response", pool.ID)
			}
			sqrtPriceX96 = new(big.Int).SetBytes(data[0:32])
		case "liquidity":
			if len(data) < 32 {
				return PriceSnapshot{}, fmt.Errorf("snapshotter: pool %s liquidity() short response", pool.ID)
			}
			liquidity = new(big.Int).SetBytes(data[0:32])
		case "activeId":
			if len(data) < 32 {
				return PriceSnapshot{}, fmt.Errorf("snapshotter: pool %s getActiveId() short response", pool.ID)
			}
			activeID = new(big.Int).SetBytes(data[0:32]).Int64()
		}
	}

	state := pool.poolState(reserve0, reserve1, liquidity, sqrtPriceX96, activeID)
	price, inverse, err := ammmath.PriceFromPoolState(state)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("snapshotter: pool %s: %w", pool.ID, err)
	}

	return PriceSnapshot{
		Descriptor:   pool,
		BlockNumber:  blockNumber,
		AcquiredAt:   now,
		Price:        price,
		InversePrice: inverse,
		Reserve0:     reserve0,
		Reserve1:     reserve1,
		Liquidity:    liquidity,
		SqrtPriceX96: sqrtPriceX96,
		ActiveID:     activeID,
	}, nil
}
