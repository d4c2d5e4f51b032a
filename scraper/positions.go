package scraper

import (
	"context"
	"log"
	"strings"
	"time"

	"hyperwatch/database"
	"hyperwatch/events"
	"hyperwatch/scoring"
	"hyperwatch/venue"
)

const untrackBuffer = 64

// posKey is the change-detection tuple. A snapshot is persisted and
// published only when this tuple differs from the last seen one for the
// (trader, coin) pair; mark price and uPnL churn alone does not write.
type posKey struct {
	szi      float64
	leverage int
	entryPx  float64
}

// snapshotSource is the WS manager's decoded snapshot stream.
type snapshotSource interface {
	Snapshots() <-chan *venue.UserSnapshot
}

// positionStore persists position rows and seeds change detection.
type positionStore interface {
	Save(ctx context.Context, doc database.PositionDoc) error
	Last(ctx context.Context, eth, coin string) (*database.PositionDoc, error)
}

// PositionPipeline consumes decoded user snapshots, applies change
// detection, persists changed positions and publishes them on
// positions.raw and positions.scored.
type PositionPipeline struct {
	mgr     snapshotSource
	tracker *scoring.Tracker
	repo    positionStore
	bus     events.Bus

	// prev is trader -> coin -> last persisted tuple. Mutated only by the
	// Run goroutine; removals arrive over the channel below.
	prev     map[string]map[string]posKey
	removals chan string
}

// NewPositionPipeline creates the pipeline.
func NewPositionPipeline(mgr snapshotSource, tracker *scoring.Tracker, repo positionStore, bus events.Bus) *PositionPipeline {
	return &PositionPipeline{
		mgr:      mgr,
		tracker:  tracker,
		repo:     repo,
		bus:      bus,
		prev:     make(map[string]map[string]posKey),
		removals: make(chan string, untrackBuffer),
	}
}

// Untrack schedules a flush for a trader leaving the tracked set: every
// coin still open is emitted flat with no enrichment, so downstream
// consumers drop the trader instead of holding its last position forever.
func (p *PositionPipeline) Untrack(addr string) {
	select {
	case p.removals <- strings.ToLower(addr):
	default:
		log.Printf("⚠️  Untrack queue full, dropping flush for %s", addr)
	}
}

// Run drains the snapshot stream until ctx is cancelled.
func (p *PositionPipeline) Run(ctx context.Context) {
	log.Println("📡 Position pipeline started")
	for {
		select {
		case <-ctx.Done():
			return
		case addr := <-p.removals:
			p.flush(ctx, addr)
		case snap, ok := <-p.mgr.Snapshots():
			if !ok {
				return
			}
			p.process(ctx, snap)
		}
	}
}

// process diffs one snapshot against the last seen state. A coin that was
// open before and is absent from the snapshot counts as a change to flat:
// the venue omits closed positions from webData2.
func (p *PositionPipeline) process(ctx context.Context, snap *venue.UserSnapshot) {
	tracked, ok := p.tracker.Lookup(snap.User)
	if !ok {
		// Removed between receipt and processing; nothing to record.
		return
	}

	seen, ok := p.prev[snap.User]
	if !ok {
		seen = p.seedFromStore(ctx, snap)
		p.prev[snap.User] = seen
	}

	now := time.Now().UTC()
	open := make(map[string]bool, len(snap.Positions))

	for _, pos := range snap.Positions {
		open[pos.Coin] = true
		key := posKey{szi: pos.Szi, leverage: pos.Leverage, entryPx: pos.EntryPx}
		if last, ok := seen[pos.Coin]; ok && last == key {
			continue
		}
		seen[pos.Coin] = key
		p.emit(ctx, snap.User, tracked, pos, now)
	}

	for coin, last := range seen {
		if open[coin] || last.szi == 0 {
			continue
		}
		seen[coin] = posKey{}
		p.emit(ctx, snap.User, tracked, venue.Position{Coin: coin}, now)
	}
}

// flush emits a flat, unenriched update per open coin of an untracked
// trader and forgets its change-detection state.
func (p *PositionPipeline) flush(ctx context.Context, addr string) {
	seen := p.prev[addr]
	delete(p.prev, addr)

	now := time.Now().UTC()
	for coin, last := range seen {
		if last.szi == 0 {
			continue
		}
		p.emit(ctx, addr, scoring.ScoredTrader{}, venue.Position{Coin: coin}, now)
	}
}

// seedFromStore primes change detection from the last persisted snapshot
// per open coin, so a restart does not rewrite unchanged positions.
func (p *PositionPipeline) seedFromStore(ctx context.Context, snap *venue.UserSnapshot) map[string]posKey {
	seen := make(map[string]posKey, len(snap.Positions))
	for _, pos := range snap.Positions {
		doc, err := p.repo.Last(ctx, snap.User, pos.Coin)
		if err != nil {
			log.Printf("⚠️  Seed change detection %s/%s: %v", snap.User, pos.Coin, err)
			continue
		}
		if doc != nil {
			seen[pos.Coin] = posKey{szi: doc.Szi, leverage: doc.Leverage, entryPx: doc.EntryPx}
		}
	}
	return seen
}

// emit persists one changed position and publishes it raw and scored.
func (p *PositionPipeline) emit(ctx context.Context, addr string, tracked scoring.ScoredTrader, pos venue.Position, now time.Time) {
	doc := database.PositionDoc{
		Eth:      addr,
		Coin:     pos.Coin,
		T:        now,
		Szi:      pos.Szi,
		EntryPx:  pos.EntryPx,
		MarkPx:   pos.MarkPx,
		Upnl:     pos.UnrealizedPnl,
		Leverage: pos.Leverage,
		LiqPx:    pos.LiquidationPx,
		Value:    pos.PositionValue,
	}
	if err := p.repo.Save(ctx, doc); err != nil {
		log.Printf("⚠️  Persist position %s/%s: %v", addr, pos.Coin, err)
		// Publish anyway: downstream consumers are idempotent.
	}

	raw := events.PositionRaw{
		Address:  addr,
		Coin:     pos.Coin,
		Szi:      pos.Szi,
		EntryPx:  pos.EntryPx,
		MarkPx:   pos.MarkPx,
		Upnl:     pos.UnrealizedPnl,
		Leverage: pos.Leverage,
		T:        now.UnixMilli(),
	}
	p.publish(ctx, events.ChannelPositionsRaw, events.TypePositionRaw, raw)

	scored := events.PositionScored{
		PositionRaw:   raw,
		Score:         tracked.Score,
		Tags:          tracked.Tags,
		AccountValue:  tracked.AccountValue,
		PositionValue: pos.PositionValue,
		ROI: events.WindowROI{
			Day:     tracked.Windows[venue.WindowDay].ROI,
			Week:    tracked.Windows[venue.WindowWeek].ROI,
			Month:   tracked.Windows[venue.WindowMonth].ROI,
			AllTime: tracked.Windows[venue.WindowAllTime].ROI,
		},
	}
	p.publish(ctx, events.ChannelPositionsScored, events.TypePositionScored, scored)
}

func (p *PositionPipeline) publish(ctx context.Context, channel string, t events.Type, payload interface{}) {
	env, err := events.NewEnvelope(t, payload)
	if err != nil {
		log.Printf("⚠️  Envelope %s: %v", t, err)
		return
	}
	if err := p.bus.Publish(ctx, channel, env); err != nil {
		log.Printf("⚠️  Publish %s: %v", channel, err)
	}
}
