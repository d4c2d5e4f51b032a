package websocket

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"hyperwatch/venue"
)

const (
	// snapshotBuffer bounds the outbound snapshot queue.
	snapshotBuffer = 1024

	// degradedRejects marks a trader degraded after this many subscribe
	// rejects inside rejectWindow. Degraded traders stay subscribed.
	degradedRejects = 3
	rejectWindow    = 10 * time.Minute

	stopDrainDeadline = 5 * time.Second
)

// PositionManager maintains one webData2 subscription per tracked trader
// over a single connection and emits decoded user snapshots.
//
// On any (re)connect the full subscribed set is re-emitted before any
// position event is delivered. Snapshots buffered during a connection gap
// are discarded; the next snapshot per trader is authoritative.
type PositionManager struct {
	client *Client
	wsURL  string

	mu         sync.Mutex
	subscribed map[string]bool
	rejects    map[string][]time.Time
	degraded   map[string]bool
	connected  bool

	snapshots chan *venue.UserSnapshot
	latest    sync.Map // address -> *venue.UserSnapshot

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewPositionManager creates a manager for the venue WS URL.
func NewPositionManager(wsURL string) *PositionManager {
	return &PositionManager{
		wsURL:      wsURL,
		subscribed: make(map[string]bool),
		rejects:    make(map[string][]time.Time),
		degraded:   make(map[string]bool),
		snapshots:  make(chan *venue.UserSnapshot, snapshotBuffer),
		stopped:    make(chan struct{}),
	}
}

// Snapshots returns the decoded snapshot stream.
func (m *PositionManager) Snapshots() <-chan *venue.UserSnapshot { return m.snapshots }

// Subscribe bulk-subscribes at startup. Idempotent per id.
func (m *PositionManager) Subscribe(ids []string) {
	for _, id := range ids {
		m.AddTrader(id)
	}
}

// AddTrader subscribes one trader. No-op if already subscribed.
func (m *PositionManager) AddTrader(id string) {
	id = strings.ToLower(id)
	m.mu.Lock()
	if m.subscribed[id] {
		m.mu.Unlock()
		return
	}
	m.subscribed[id] = true
	connected := m.connected
	client := m.client
	m.mu.Unlock()

	if connected {
		if err := client.Subscribe(Subscription{Type: "webData2", User: id}); err != nil {
			log.Printf("⚠️  Subscribe %s failed: %v", id, err)
		}
	}
}

// RemoveTrader unsubscribes one trader and drops its buffered snapshot.
func (m *PositionManager) RemoveTrader(id string) {
	id = strings.ToLower(id)
	m.mu.Lock()
	if !m.subscribed[id] {
		m.mu.Unlock()
		return
	}
	delete(m.subscribed, id)
	delete(m.degraded, id)
	delete(m.rejects, id)
	connected := m.connected
	client := m.client
	m.mu.Unlock()

	m.latest.Delete(id)
	if connected {
		if err := client.Unsubscribe(Subscription{Type: "webData2", User: id}); err != nil {
			log.Printf("⚠️  Unsubscribe %s failed: %v", id, err)
		}
	}
}

// Snapshot returns the current buffered position set for one trader.
func (m *PositionManager) Snapshot(id string) (*venue.UserSnapshot, bool) {
	v, ok := m.latest.Load(strings.ToLower(id))
	if !ok {
		return nil, false
	}
	return v.(*venue.UserSnapshot), true
}

// Degraded returns traders whose subscription keeps getting rejected.
// They remain subscribed; the health surface reports them.
func (m *PositionManager) Degraded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.degraded))
	for id := range m.degraded {
		out = append(out, id)
	}
	return out
}

// Run connects and maintains the subscription set with auto-reconnect
// (exponential backoff, base 1 s, cap 30 s, full jitter). Blocks until ctx
// is cancelled.
func (m *PositionManager) Run(ctx context.Context) {
	attempt := 0
	for {
		connected, err := m.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		select {
		case <-m.stopped:
			return
		default:
		}

		// A drop after a healthy session restarts from the base delay.
		if connected {
			attempt = 0
		}
		delay := jitterBackoff(attempt)
		attempt++
		log.Printf("🔄 Position WS disconnected (%v), reconnecting in %v...", err, delay.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndRead dials, replays the subscription set and drains frames
// until the connection fails. The bool reports whether the replay
// completed, so the caller can reset its backoff.
func (m *PositionManager) connectAndRead(ctx context.Context) (bool, error) {
	client := NewClient(m.wsURL)
	if err := client.Connect(ctx); err != nil {
		return false, err
	}
	defer client.Close()

	// Re-emit the entire set before any position event flows. The lock is
	// held through the replay so an Add/Remove queues behind it and sends
	// its own frame exactly once afterwards.
	m.mu.Lock()
	m.client = client
	n := 0
	for id := range m.subscribed {
		if err := client.Subscribe(Subscription{Type: "webData2", User: id}); err != nil {
			m.mu.Unlock()
			return false, fmt.Errorf("resubscribe %s: %w", id, err)
		}
		n++
	}
	m.connected = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
	}()

	client.StartPing()
	log.Printf("✅ Position WS connected, %d traders subscribed", n)

	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		frame, err := client.ReadFrame()
		if err != nil {
			return true, err
		}
		m.handleFrame(frame)
	}
}

func (m *PositionManager) handleFrame(f *Frame) {
	switch f.Channel {
	case "webData2":
		snap, err := venue.ParseWebData2(f.Data)
		if err != nil {
			log.Printf("⚠️  Dropping malformed webData2 frame: %v", err)
			return
		}
		snap.User = strings.ToLower(snap.User)
		if snap.Time == 0 {
			snap.Time = time.Now().UnixMilli()
		}

		m.mu.Lock()
		tracked := m.subscribed[snap.User]
		m.mu.Unlock()
		if !tracked {
			// Unsubscribe raced a late snapshot; the trader is gone.
			return
		}

		m.latest.Store(snap.User, snap)
		select {
		case m.snapshots <- snap:
		default:
			// Drop oldest so a slow consumer converges on recent state.
			select {
			case <-m.snapshots:
			default:
			}
			select {
			case m.snapshots <- snap:
			default:
			}
		}

	case "subscriptionResponse", "pong":
		// acknowledgements, nothing to do

	case "error":
		m.recordReject(string(f.Data))

	default:
		// Unknown channels are protocol noise, not fatal.
	}
}

// recordReject tracks per-trader subscribe rejects in a rolling window.
func (m *PositionManager) recordReject(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id := range m.subscribed {
		if !strings.Contains(strings.ToLower(msg), id) {
			continue
		}
		recent := m.rejects[id][:0]
		for _, t := range m.rejects[id] {
			if now.Sub(t) < rejectWindow {
				recent = append(recent, t)
			}
		}
		recent = append(recent, now)
		m.rejects[id] = recent
		if len(recent) >= degradedRejects && !m.degraded[id] {
			m.degraded[id] = true
			log.Printf("⚠️  Trader %s marked degraded after %d subscribe rejects", id, len(recent))
		}
		return
	}
}

// Stop unsubscribes everything, drains outgoing writes with a bounded
// deadline, and closes the connection.
func (m *PositionManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopped)

		m.mu.Lock()
		client := m.client
		connected := m.connected
		ids := make([]string, 0, len(m.subscribed))
		for id := range m.subscribed {
			ids = append(ids, id)
		}
		m.mu.Unlock()

		if connected && client != nil {
			deadline := time.Now().Add(stopDrainDeadline)
			for _, id := range ids {
				if time.Now().After(deadline) {
					log.Printf("⚠️  Stop drain deadline exceeded, %d unsubscribes skipped", len(ids))
					break
				}
				_ = client.Unsubscribe(Subscription{Type: "webData2", User: id})
			}
		}
		if client != nil {
			_ = client.Close()
		}
	})
}
