package signal

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"hyperwatch/events"
)

const topPositionsLimit = 10

// WeightProvider is what the aggregator needs from the weighting engine.
type WeightProvider interface {
	Weight(addr string, acct, score float64, roi events.WindowROI) TraderWeight
}

// traderState is the latest known position and weight of one trader for
// the aggregated symbol.
type traderState struct {
	szi    float64
	value  float64
	weight TraderWeight
}

// Aggregator folds scored position updates into one aggregate signal per
// symbol. It is mutated only by the subscriber task; the HTTP read path
// goes through the RWMutex.
type Aggregator struct {
	symbol  string
	weights WeightProvider
	bus     events.Bus

	mu      sync.RWMutex
	traders map[string]traderState
	current map[string]events.AggregateSignal
	warming bool
	price   float64
}

// NewAggregator creates an aggregator in the warming state: it emits
// NEUTRAL signals with confidence 0 until the bootstrap snapshot lands.
func NewAggregator(symbol string, weights WeightProvider, bus events.Bus) *Aggregator {
	return &Aggregator{
		symbol:  symbol,
		weights: weights,
		bus:     bus,
		traders: make(map[string]traderState),
		current: make(map[string]events.AggregateSignal),
		warming: true,
	}
}

// Warming reports whether the bootstrap snapshot is still outstanding.
func (a *Aggregator) Warming() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.warming
}

// SetWarming flips the warming state. Clearing it recomputes and emits a
// fresh signal from the seeded positions.
func (a *Aggregator) SetWarming(ctx context.Context, warming bool) {
	a.mu.Lock()
	a.warming = warming
	sig := a.recomputeLocked()
	a.mu.Unlock()

	if !warming {
		a.publish(ctx, sig)
	}
}

// SetPrice records the latest trade price carried on emitted signals.
func (a *Aggregator) SetPrice(px float64) {
	a.mu.Lock()
	a.price = px
	a.mu.Unlock()
}

// CurrentSignal returns the in-memory current signal for a symbol.
func (a *Aggregator) CurrentSignal(symbol string) (events.AggregateSignal, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sig, ok := a.current[symbol]
	return sig, ok
}

// Seed installs one position without emitting, used during bootstrap.
func (a *Aggregator) Seed(ev events.PositionScored) {
	if ev.Coin != a.symbol {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upsertLocked(ev)
}

// Apply folds one scored position update and emits the recomputed signal.
// Commutative across traders: the signal is a stateless fold over the
// current map, so cross-trader arrival order does not matter.
func (a *Aggregator) Apply(ctx context.Context, ev events.PositionScored) {
	if ev.Coin != a.symbol {
		return
	}

	a.mu.Lock()
	a.upsertLocked(ev)
	sig := a.recomputeLocked()
	a.mu.Unlock()

	a.publish(ctx, sig)
}

func (a *Aggregator) upsertLocked(ev events.PositionScored) {
	// A flat update with no enrichment is the scraper's untrack flush:
	// the trader left the tracked set and must not bias the fold anymore.
	if ev.Szi == 0 && ev.PositionValue == 0 && ev.AccountValue == 0 {
		delete(a.traders, ev.Address)
		return
	}
	a.traders[ev.Address] = traderState{
		szi:    ev.Szi,
		value:  ev.PositionValue,
		weight: a.weights.Weight(ev.Address, ev.AccountValue, ev.Score, ev.ROI),
	}
}

// recomputeLocked rebuilds the aggregate signal from the current map.
// Caller holds the write lock.
func (a *Aggregator) recomputeLocked() events.AggregateSignal {
	var (
		weightedLong  float64
		weightedShort float64
		counts        events.DirectionCounts
		breakdown     = make(map[string]map[string]int)
		tops          = make([]events.TopPosition, 0, len(a.traders))
	)

	for addr, st := range a.traders {
		dir := events.DirectionOf(st.szi)
		if st.szi == 0 {
			counts.Flat++
			continue
		}

		effective := st.weight.Composite * (st.value / 1e6)
		if st.szi > 0 {
			weightedLong += effective
			counts.Long++
		} else {
			weightedShort += effective
			counts.Short++
		}

		if breakdown[st.weight.Tier] == nil {
			breakdown[st.weight.Tier] = make(map[string]int)
		}
		breakdown[st.weight.Tier][dir]++

		tops = append(tops, events.TopPosition{
			Address:   addr,
			Direction: dir,
			Szi:       st.szi,
			Value:     st.value,
			Composite: st.weight.Composite,
			Tier:      st.weight.Tier,
		})
	}

	sort.Slice(tops, func(i, j int) bool {
		if tops[i].Composite != tops[j].Composite {
			return tops[i].Composite > tops[j].Composite
		}
		return tops[i].Address < tops[j].Address
	})
	if len(tops) > topPositionsLimit {
		tops = tops[:topPositionsLimit]
	}

	var longBias, shortBias float64
	if total := weightedLong + weightedShort; total > 0 {
		longBias = weightedLong / total
		shortBias = weightedShort / total
	}
	netBias := longBias - shortBias

	rec := events.RecNeutral
	switch {
	case netBias > 0.2:
		rec = events.RecBuy
	case netBias < -0.2:
		rec = events.RecSell
	}

	active := counts.Long + counts.Short
	totalWeight := weightedLong + weightedShort
	conf := 0.5*abs(netBias) +
		0.3*min1(float64(active)/100) +
		0.2*min1(totalWeight/100)

	if a.warming {
		rec = events.RecNeutral
		conf = 0
	}

	sig := events.AggregateSignal{
		Symbol:         a.symbol,
		T:              time.Now().UnixMilli(),
		Recommendation: rec,
		Confidence:     conf,
		LongBias:       longBias,
		ShortBias:      shortBias,
		NetExposure:    netBias,
		Counts:         counts,
		WhaleBreakdown: breakdown,
		TopPositions:   tops,
		Price:          a.price,
	}
	a.current[a.symbol] = sig
	return sig
}

func (a *Aggregator) publish(ctx context.Context, sig events.AggregateSignal) {
	env, err := events.NewEnvelope(events.TypeAggregateSignal, sig)
	if err != nil {
		log.Printf("⚠️  Envelope aggregate signal: %v", err)
		return
	}
	if err := a.bus.Publish(ctx, events.ChannelSignalsOut, env); err != nil {
		log.Printf("⚠️  Publish aggregate signal: %v", err)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
