package flasharb

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowstate-labs/flasharbgo/pkg/ammmath"
)

// DetectorConfig holds the tunables spec §6 lists for this component.
type DetectorConfig struct {
	DeltaThresholdPercent decimal.Decimal
	MinLiquidityFloor     *decimal.Decimal // nil disables the floor check
	StalenessHorizon      time.Duration
}

// pairKey identifies pools sharing the same unordered token pair.
type pairKey struct {
	tokenA, tokenB [20]byte
}

func newPairKey(s *PriceSnapshot) pairKey {
	a, b := s.Descriptor.Token0, s.Descriptor.Token1
	if string(a.Bytes()) > string(b.Bytes()) {
		a, b = b, a
	}
	return pairKey{tokenA: a, tokenB: b}
}

// Detector is component B: it owns the latest snapshot per pool id
// exclusively (§3, §5) and, on each new snapshot, compares it against every
// other pool sharing a token pair.
type Detector struct {
	cfg    DetectorConfig
	latest map[string]*PriceSnapshot // pool id -> snapshot
	byPair map[pairKey]map[string]struct{}
	events chan<- Event
}

// NewDetector builds a Detector publishing delta events to events.
func NewDetector(cfg DetectorConfig, events chan<- Event) *Detector {
	return &Detector{
		cfg:    cfg,
		latest: make(map[string]*PriceSnapshot),
		byPair: make(map[pairKey]map[string]struct{}),
		events: events,
	}
}

// OnSnapshot records s as the latest reading for its pool and, unless s is
// stale or below the liquidity floor, compares it against every other fresh
// pool on the same token pair, emitting a PriceDelta for each pair whose
// spread clears the threshold.
func (d *Detector) OnSnapshot(s *PriceSnapshot) {
	d.latest[s.Descriptor.ID] = s

	key := newPairKey(s)
	if d.byPair[key] == nil {
		d.byPair[key] = make(map[string]struct{})
	}
	d.byPair[key][s.Descriptor.ID] = struct{}{}

	if s.Stale || !d.passesLiquidityFloor(s) {
		return
	}

	now := time.Now()
	for otherID := range d.byPair[key] {
		if otherID == s.Descriptor.ID {
			continue
		}
		other := d.latest[otherID]
		if other == nil || other.Stale || !d.passesLiquidityFloor(other) {
			continue
		}
		if d.cfg.StalenessHorizon > 0 {
			if s.Age(now) >= d.cfg.StalenessHorizon || other.Age(now) >= d.cfg.StalenessHorizon {
				continue
			}
		}

		delta, ok := buildDelta(s, other)
		if !ok {
			continue
		}
		if delta.DeltaPercent.Abs().LessThan(d.cfg.DeltaThresholdPercent) {
			continue
		}
		d.events <- Event{Kind: EventDelta, Delta: &delta}
	}
}

// buildDelta orients (buy, sell) so SellPool.Price > BuyPool.Price; returns
// ok=false on an exact tie (no emission, per §4.B).
func buildDelta(a, b *PriceSnapshot) (PriceDelta, bool) {
	if a.Price.Equal(b.Price) {
		return PriceDelta{}, false
	}
	buy, sell := a, b
	if buy.Price.GreaterThan(sell.Price) {
		buy, sell = sell, buy
	}
	deltaPercent := sell.Price.Sub(buy.Price).Div(buy.Price)
	timestamp := buy.AcquiredAt
	referenceBlock := buy.BlockNumber
	if sell.AcquiredAt.After(timestamp) {
		timestamp = sell.AcquiredAt
		referenceBlock = sell.BlockNumber
	}
	return PriceDelta{BuyPool: buy, SellPool: sell, DeltaPercent: deltaPercent, Timestamp: timestamp, ReferenceBlock: referenceBlock}, true
}

func (d *Detector) passesLiquidityFloor(s *PriceSnapshot) bool {
	if d.cfg.MinLiquidityFloor == nil {
		return true
	}
	switch s.Descriptor.Family {
	case ammmath.ConstantProductV2:
		if s.Reserve0 == nil {
			return true
		}
		reserve0 := decimal.NewFromBigInt(s.Reserve0, 0)
		return reserve0.GreaterThanOrEqual(*d.cfg.MinLiquidityFloor)
	default:
		if s.Liquidity == nil {
			return true
		}
		liquidity := decimal.NewFromBigInt(s.Liquidity, 0)
		return liquidity.GreaterThanOrEqual(*d.cfg.MinLiquidityFloor)
	}
}
