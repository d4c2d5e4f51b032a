package signal

import (
	"context"
	"log"
	"sync"
	"time"

	"hyperwatch/config"
	"hyperwatch/events"
)

const alertRingCap = 1000

type dedupeKey struct {
	addr       string
	changeType string
	second     int64
}

// AlertDetector compares each whale position update against the last
// observed one and emits alerts for significant changes. Prior state
// lives only in memory; a restart re-seeds from the bootstrap snapshot.
type AlertDetector struct {
	cfg     config.AlertsConfig
	symbol  string
	weights WeightProvider
	bus     events.Bus

	mu         sync.Mutex
	lastSize   map[string]float64 // addr -> last szi
	directions map[string]string  // whale addr -> current direction
	ring       []events.WhaleAlert
	seen       map[dedupeKey]int64 // key -> alert millis, pruned with the ring
}

// NewAlertDetector creates the detector.
func NewAlertDetector(cfg config.AlertsConfig, symbol string, weights WeightProvider, bus events.Bus) *AlertDetector {
	return &AlertDetector{
		cfg:        cfg,
		symbol:     symbol,
		weights:    weights,
		bus:        bus,
		lastSize:   make(map[string]float64),
		directions: make(map[string]string),
		seen:       make(map[dedupeKey]int64),
	}
}

// eligible gates detection to whales and elite performers.
func (d *AlertDetector) eligible(acct, score float64) bool {
	return acct >= d.cfg.WhaleThreshold || score >= d.cfg.EliteThreshold
}

// Seed installs a baseline position without alerting, used during
// bootstrap so the first live update is compared against real state.
func (d *AlertDetector) Seed(ev events.PositionScored) {
	if ev.Coin != d.symbol || !d.eligible(ev.AccountValue, ev.Score) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSize[ev.Address] = ev.Szi
	d.directions[ev.Address] = events.DirectionOf(ev.Szi)
}

// Observe compares one update against the baseline and emits at most one
// alert. An update that falls below the eligibility gate (including the
// scraper's untrack flush) drops the trader's baseline so whale_bias no
// longer counts it.
func (d *AlertDetector) Observe(ctx context.Context, ev events.PositionScored) {
	if ev.Coin != d.symbol {
		return
	}
	if !d.eligible(ev.AccountValue, ev.Score) {
		d.mu.Lock()
		delete(d.lastSize, ev.Address)
		delete(d.directions, ev.Address)
		d.mu.Unlock()
		return
	}

	d.mu.Lock()
	prev, known := d.lastSize[ev.Address]
	d.lastSize[ev.Address] = ev.Szi
	d.directions[ev.Address] = events.DirectionOf(ev.Szi)

	if !known {
		prev = 0
	}
	changeType, significant := classifyChange(prev, ev.Szi)
	if !significant {
		d.mu.Unlock()
		return
	}

	key := dedupeKey{addr: ev.Address, changeType: changeType, second: ev.T / 1000}
	if _, dup := d.seen[key]; dup {
		d.mu.Unlock()
		return
	}
	d.seen[key] = ev.T

	alert := events.WhaleAlert{
		Address:        ev.Address,
		Coin:           ev.Coin,
		T:              ev.T,
		Priority:       d.priority(ev.AccountValue, ev.Score),
		ChangeType:     changeType,
		Tier:           d.weights.Weight(ev.Address, ev.AccountValue, ev.Score, ev.ROI).Tier,
		PrevDirection:  events.DirectionOf(prev),
		CurrDirection:  events.DirectionOf(ev.Szi),
		PrevSize:       prev,
		CurrSize:       ev.Szi,
		AccountValue:   ev.AccountValue,
		Score:          ev.Score,
		MarketContext:  d.marketContextLocked(),
		Recommendation: recommendationFor(ev.Szi),
	}

	d.ring = append(d.ring, alert)
	d.pruneLocked(time.Now())
	d.mu.Unlock()

	log.Printf("🐋 Whale alert: %s %s %s -> %s (%.1f -> %.1f)",
		alert.Priority, alert.ChangeType, alert.PrevDirection, alert.CurrDirection, prev, ev.Szi)
	d.publish(ctx, alert)
}

// RecentAlerts returns the newest alerts first, pruned by max_age_hours.
func (d *AlertDetector) RecentAlerts(limit int) []events.WhaleAlert {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(time.Now())

	n := len(d.ring)
	if limit > n {
		limit = n
	}
	out := make([]events.WhaleAlert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, d.ring[i])
	}
	return out
}

// classifyChange decides significance and change type from the signed
// sizes. Significant: direction flip, entry from flat, exit to flat, or a
// same-direction size change of at least 20%.
func classifyChange(prev, curr float64) (string, bool) {
	prevDir := events.DirectionOf(prev)
	currDir := events.DirectionOf(curr)

	switch {
	case prevDir == currDir && prevDir == events.DirNeutral:
		return "", false
	case prevDir == events.DirNeutral:
		return events.ChangeEntry, true
	case currDir == events.DirNeutral:
		return events.ChangeExit, true
	case prevDir != currDir:
		return events.ChangeReversal, true
	}

	delta := abs(curr-prev) / abs(prev)
	if delta >= 0.20 {
		return events.ChangeSizeChange, true
	}
	return "", false
}

func (d *AlertDetector) priority(acct, score float64) string {
	switch {
	case acct >= d.cfg.AlphaWhaleThreshold:
		return events.PriorityCritical
	case acct >= d.cfg.WhaleThreshold:
		return events.PriorityHigh
	case score >= d.cfg.EliteThreshold:
		return events.PriorityMedium
	default:
		return events.PriorityLow
	}
}

// marketContextLocked computes whale_bias over the post-change direction
// set. Caller holds the lock.
func (d *AlertDetector) marketContextLocked() events.MarketContext {
	var ctx events.MarketContext
	for _, dir := range d.directions {
		switch dir {
		case events.DirLong:
			ctx.WhalesLong++
		case events.DirShort:
			ctx.WhalesShort++
		}
	}
	ctx.TotalWhales = len(d.directions)
	if ctx.TotalWhales > 0 {
		ctx.WhaleBias = float64(ctx.WhalesLong-ctx.WhalesShort) / float64(ctx.TotalWhales)
	}
	return ctx
}

// pruneLocked drops alerts older than max_age_hours and caps the ring.
// Dedupe keys age out with the same horizon.
func (d *AlertDetector) pruneLocked(now time.Time) {
	horizon := now.Add(-time.Duration(d.cfg.MaxAgeHours) * time.Hour).UnixMilli()

	keep := d.ring[:0]
	for _, a := range d.ring {
		if a.T >= horizon {
			keep = append(keep, a)
		}
	}
	d.ring = keep
	if len(d.ring) > alertRingCap {
		d.ring = d.ring[len(d.ring)-alertRingCap:]
	}

	for key, t := range d.seen {
		if t < horizon {
			delete(d.seen, key)
		}
	}
}

func (d *AlertDetector) publish(ctx context.Context, alert events.WhaleAlert) {
	env, err := events.NewEnvelope(events.TypeWhaleAlert, alert)
	if err != nil {
		log.Printf("⚠️  Envelope whale alert: %v", err)
		return
	}
	if err := d.bus.Publish(ctx, events.ChannelSignalsOut, env); err != nil {
		log.Printf("⚠️  Publish whale alert: %v", err)
	}
}

func recommendationFor(szi float64) string {
	switch events.DirectionOf(szi) {
	case events.DirLong:
		return events.RecBuy
	case events.DirShort:
		return events.RecSell
	default:
		return events.RecNeutral
	}
}
