package scoring

import (
	"sync"

	"hyperwatch/config"
	"hyperwatch/venue"
)

// Delta is the difference between two consecutive qualifying sets. It is
// the only path by which the subscription manager learns of new traders.
type Delta struct {
	Added   []ScoredTrader // next \ prev
	Removed []string       // prev \ next (addresses)
	Updated []ScoredTrader // next ∩ prev, fresh row state
}

// Tracker owns the current tracked-trader set. It is mutated only by the
// leaderboard scheduler; readers get copies.
type Tracker struct {
	cfg config.ScoringConfig

	mu      sync.RWMutex
	current map[string]ScoredTrader
}

// NewTracker creates an empty tracker.
func NewTracker(cfg config.ScoringConfig) *Tracker {
	return &Tracker{cfg: cfg, current: make(map[string]ScoredTrader)}
}

// Seed installs a previously persisted tracked set without producing a
// delta (startup restore).
func (t *Tracker) Seed(traders []ScoredTrader) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range traders {
		t.current[tr.Address] = tr
	}
}

// Apply recomputes the qualifying set from a fresh leaderboard snapshot
// and returns the delta against the previous set. A failed refresh must
// NOT call Apply: the previous set then remains active and no removals
// occur.
func (t *Tracker) Apply(rows []venue.LeaderboardRow) Delta {
	next := Qualify(rows, t.cfg)

	t.mu.Lock()
	defer t.mu.Unlock()

	nextByAddr := make(map[string]ScoredTrader, len(next))
	var delta Delta
	for _, tr := range next {
		nextByAddr[tr.Address] = tr
		if _, ok := t.current[tr.Address]; ok {
			delta.Updated = append(delta.Updated, tr)
		} else {
			delta.Added = append(delta.Added, tr)
		}
	}
	for addr := range t.current {
		if _, ok := nextByAddr[addr]; !ok {
			delta.Removed = append(delta.Removed, addr)
		}
	}

	t.current = nextByAddr
	return delta
}

// Current returns a copy of the tracked set.
func (t *Tracker) Current() []ScoredTrader {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ScoredTrader, 0, len(t.current))
	for _, tr := range t.current {
		out = append(out, tr)
	}
	return out
}

// Addresses returns the tracked addresses.
func (t *Tracker) Addresses() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.current))
	for addr := range t.current {
		out = append(out, addr)
	}
	return out
}

// Lookup returns the tracked trader for an address, if any.
func (t *Tracker) Lookup(addr string) (ScoredTrader, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.current[addr]
	return tr, ok
}

// Size returns the tracked set size.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.current)
}
