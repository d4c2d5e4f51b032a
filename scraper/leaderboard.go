package scraper

import (
	"context"
	"log"
	"math/rand"
	"time"

	"hyperwatch/database"
	"hyperwatch/health"
	"hyperwatch/scoring"
	"hyperwatch/venue"
)

const (
	fetchMaxRetries  = 5
	fetchBackoffBase = 1 * time.Second
	fetchBackoffCap  = 30 * time.Second
)

// leaderboardSource fetches the raw leaderboard.
type leaderboardSource interface {
	FetchLeaderboard(ctx context.Context) ([]venue.LeaderboardRow, error)
}

// traderStore persists tracked traders and their score history.
type traderStore interface {
	Upsert(ctx context.Context, doc database.TrackedTraderDoc) error
	Deactivate(ctx context.Context, eth string) error
	SaveScore(ctx context.Context, doc database.ScoreDoc) error
}

// refreshArchive records one row per refresh cycle.
type refreshArchive interface {
	SaveLeaderboardRefresh(ctx context.Context, doc database.LeaderboardHistoryDoc) error
}

// subscriptionSet is the WS manager's tracked-trader surface.
type subscriptionSet interface {
	AddTrader(id string)
	RemoveTrader(id string)
}

// untracker flushes a removed trader's pipeline state downstream.
type untracker interface {
	Untrack(addr string)
}

// LeaderboardPoller refreshes the leaderboard on a fixed schedule,
// recomputes scores and tags, and applies the tracked-set delta. Its
// Add/Remove commands are the only path by which the subscription manager
// learns of traders.
type LeaderboardPoller struct {
	source   leaderboardSource
	tracker  *scoring.Tracker
	traders  traderStore
	archive  refreshArchive
	posMgr   subscriptionSet
	pipeline untracker
	registry *health.Registry
	interval time.Duration
	done     chan bool
}

// NewLeaderboardPoller creates the poller.
func NewLeaderboardPoller(source leaderboardSource, tracker *scoring.Tracker, tr traderStore, ar refreshArchive, pm subscriptionSet, pipe untracker, reg *health.Registry, interval time.Duration) *LeaderboardPoller {
	return &LeaderboardPoller{
		source:   source,
		tracker:  tracker,
		traders:  tr,
		archive:  ar,
		posMgr:   pm,
		pipeline: pipe,
		registry: reg,
		interval: interval,
		done:     make(chan bool),
	}
}

// Start begins the refresh loop. Runs one refresh immediately.
func (p *LeaderboardPoller) Start(ctx context.Context) {
	log.Printf("📊 Leaderboard poller started (every %v)", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh(ctx)

	for {
		select {
		case <-ticker.C:
			p.refresh(ctx)
		case <-ctx.Done():
			return
		case <-p.done:
			log.Println("📊 Leaderboard poller stopped")
			return
		}
	}
}

// Stop gracefully stops the poller.
func (p *LeaderboardPoller) Stop() {
	close(p.done)
}

// refresh fetches, scores and applies one leaderboard cycle. A fetch that
// exhausts its retries leaves the previous tracked set active: no
// removals happen on a failed refresh. Subscription commands are pushed
// regardless of store outcome; a storage failure degrades, it never
// leaves a tracked trader unsubscribed.
func (p *LeaderboardPoller) refresh(ctx context.Context) {
	rows, err := p.fetchWithRetry(ctx)
	if err != nil {
		log.Printf("❌ Leaderboard refresh failed, keeping previous tracked set: %v", err)
		p.registry.SetDegraded("leaderboard", err)
		return
	}

	delta := p.tracker.Apply(rows)
	now := time.Now().UTC()

	var storeErr error
	for _, addr := range delta.Removed {
		p.posMgr.RemoveTrader(addr)
		p.pipeline.Untrack(addr)
		if err := p.traders.Deactivate(ctx, addr); err != nil {
			log.Printf("⚠️  Deactivate %s: %v", addr, err)
			storeErr = err
		}
	}

	for _, tr := range delta.Added {
		p.posMgr.AddTrader(tr.Address)
		if err := p.traders.Upsert(ctx, toTrackedDoc(tr)); err != nil {
			log.Printf("⚠️  Upsert %s: %v", tr.Address, err)
			storeErr = err
			continue
		}
		p.saveScore(ctx, tr, now)
	}

	for _, tr := range delta.Updated {
		if err := p.traders.Upsert(ctx, toTrackedDoc(tr)); err != nil {
			log.Printf("⚠️  Upsert %s: %v", tr.Address, err)
			storeErr = err
			continue
		}
		p.saveScore(ctx, tr, now)
	}

	hist := database.LeaderboardHistoryDoc{
		T:        now,
		RowCount: len(rows),
		Tracked:  p.tracker.Size(),
		Added:    len(delta.Added),
		Removed:  len(delta.Removed),
	}
	if err := p.archive.SaveLeaderboardRefresh(ctx, hist); err != nil {
		log.Printf("⚠️  Archive leaderboard refresh: %v", err)
		storeErr = err
	}

	if storeErr != nil {
		p.registry.SetDegraded("trader_store", storeErr)
	} else {
		p.registry.SetHealthy("trader_store")
	}
	p.registry.SetHealthy("leaderboard")
	log.Printf("✅ Leaderboard refresh: %d rows, %d tracked (+%d / -%d)",
		len(rows), p.tracker.Size(), len(delta.Added), len(delta.Removed))
}

func (p *LeaderboardPoller) fetchWithRetry(ctx context.Context) ([]venue.LeaderboardRow, error) {
	var lastErr error
	for attempt := 0; attempt < fetchMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff(attempt - 1)):
			}
		}
		rows, err := p.source.FetchLeaderboard(ctx)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		log.Printf("⚠️  Leaderboard fetch attempt %d/%d failed: %v", attempt+1, fetchMaxRetries, err)
	}
	return nil, lastErr
}

func (p *LeaderboardPoller) saveScore(ctx context.Context, tr scoring.ScoredTrader, now time.Time) {
	doc := database.ScoreDoc{
		Eth:          tr.Address,
		T:            now,
		Score:        tr.Score,
		Tags:         tr.Tags,
		AccountValue: tr.AccountValue,
	}
	if err := p.traders.SaveScore(ctx, doc); err != nil {
		log.Printf("⚠️  SaveScore %s: %v", tr.Address, err)
	}
}

func toTrackedDoc(tr scoring.ScoredTrader) database.TrackedTraderDoc {
	windows := make(map[string]database.WindowPerfDoc, len(tr.Windows))
	for name, w := range tr.Windows {
		windows[name] = database.WindowPerfDoc{PnL: w.PnL, ROI: w.ROI, Vlm: w.Vlm}
	}
	return database.TrackedTraderDoc{
		Eth:          tr.Address,
		DisplayName:  tr.DisplayName,
		Score:        tr.Score,
		Tags:         tr.Tags,
		Active:       true,
		AccountValue: tr.AccountValue,
		Windows:      windows,
	}
}

// retryBackoff returns the full-jitter delay for one retry attempt:
// uniform in [0, min(cap, base*2^attempt)].
func retryBackoff(attempt int) time.Duration {
	max := fetchBackoffBase << uint(attempt)
	if max > fetchBackoffCap || max <= 0 {
		max = fetchBackoffCap
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}
