package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
)

type subFrame struct {
	conn int
	user string
}

// fakeVenue upgrades inbound connections and records every subscribe
// frame tagged with its connection ordinal.
type fakeVenue struct {
	upgrader gws.Upgrader

	mu    sync.Mutex
	conns []*gws.Conn

	subs chan subFrame
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{subs: make(chan subFrame, 64)}
}

func (v *fakeVenue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	v.mu.Lock()
	id := len(v.conns)
	v.conns = append(v.conns, conn)
	v.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Method       string       `json:"method"`
			Subscription Subscription `json:"subscription"`
		}
		if json.Unmarshal(data, &req) != nil {
			continue
		}
		if req.Method == "subscribe" {
			v.subs <- subFrame{conn: id, user: req.Subscription.User}
		}
	}
}

// drop closes the given connection out from under the client.
func (v *fakeVenue) drop(conn int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_ = v.conns[conn].Close()
}

// send pushes one raw frame to the client over the given connection.
func (v *fakeVenue) send(t *testing.T, conn int, payload string) {
	t.Helper()
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.conns[conn].WriteMessage(gws.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func collectSubs(t *testing.T, v *fakeVenue, n int) []subFrame {
	t.Helper()
	out := make([]subFrame, 0, n)
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case f := <-v.subs:
			out = append(out, f)
		case <-deadline:
			t.Fatalf("timed out waiting for subscribe frames, got %d of %d", len(out), n)
		}
	}
	return out
}

func expectNoSubs(t *testing.T, v *fakeVenue) {
	t.Helper()
	select {
	case f := <-v.subs:
		t.Fatalf("unexpected extra subscribe frame: %+v", f)
	case <-time.After(200 * time.Millisecond):
	}
}

// assertUserSet checks that frames contains exactly one subscribe per
// user, all on the expected connection.
func assertUserSet(t *testing.T, frames []subFrame, wantConn int, users ...string) {
	t.Helper()
	seen := make(map[string]int)
	for _, f := range frames {
		if f.conn != wantConn {
			t.Fatalf("subscribe arrived on connection %d, want %d", f.conn, wantConn)
		}
		seen[f.user]++
	}
	for _, u := range users {
		if seen[u] != 1 {
			t.Fatalf("expected exactly one subscribe for %s, got %d", u, seen[u])
		}
	}
	if len(seen) != len(users) {
		t.Fatalf("unexpected subscriptions beyond %v: %v", users, seen)
	}
}

func startManager(t *testing.T, v *fakeVenue, traders ...string) *PositionManager {
	t.Helper()
	srv := httptest.NewServer(v)
	t.Cleanup(srv.Close)

	mgr := NewPositionManager("ws" + strings.TrimPrefix(srv.URL, "http"))
	mgr.Subscribe(traders)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(mgr.Stop)
	go mgr.Run(ctx)
	return mgr
}

// After a forced disconnect the manager must re-emit exactly the tracked
// set on the new connection: every trader once, nothing else.
func TestPositionManagerResubscribesExactSet(t *testing.T) {
	venue := newFakeVenue()
	mgr := startManager(t, venue, "0xa", "0xb")

	first := collectSubs(t, venue, 2)
	assertUserSet(t, first, 0, "0xa", "0xb")

	// Mid-session growth lands once on the live connection.
	mgr.AddTrader("0xc")
	added := collectSubs(t, venue, 1)
	if added[0].conn != 0 || added[0].user != "0xc" {
		t.Fatalf("expected 0xc on the live connection, got %+v", added[0])
	}
	expectNoSubs(t, venue)

	venue.drop(0)
	resub := collectSubs(t, venue, 3)
	assertUserSet(t, resub, 1, "0xa", "0xb", "0xc")
	expectNoSubs(t, venue)

	// A second drop after the healthy session reconnects just as cleanly,
	// and a removed trader is not replayed.
	mgr.RemoveTrader("0xb")
	venue.drop(1)
	again := collectSubs(t, venue, 2)
	assertUserSet(t, again, 2, "0xa", "0xc")
	expectNoSubs(t, venue)
}

func TestPositionManagerDeliversSnapshots(t *testing.T) {
	venue := newFakeVenue()
	mgr := startManager(t, venue, "0xa")
	collectSubs(t, venue, 1)

	venue.send(t, 0, `{"channel":"webData2","data":{
		"user":"0xA",
		"clearinghouseState":{
			"assetPositions":[{"type":"oneWay","position":{
				"coin":"BTC","szi":"1.5","entryPx":"50000",
				"positionValue":"90000","unrealizedPnl":"100",
				"leverage":{"type":"cross","value":5}}}],
			"marginSummary":{"accountValue":"15000000"},
			"time":1700000000000}}}`)

	select {
	case snap := <-mgr.Snapshots():
		if snap.User != "0xa" {
			t.Errorf("expected lowercased user 0xa, got %s", snap.User)
		}
		if len(snap.Positions) != 1 || snap.Positions[0].Coin != "BTC" || snap.Positions[0].Szi != 1.5 {
			t.Errorf("unexpected positions: %+v", snap.Positions)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot delivered")
	}

	if _, ok := mgr.Snapshot("0xA"); !ok {
		t.Error("expected buffered snapshot for 0xa")
	}

	// Snapshots for untracked users are discarded.
	venue.send(t, 0, `{"channel":"webData2","data":{
		"user":"0xstranger",
		"clearinghouseState":{"assetPositions":[],"marginSummary":{"accountValue":"1"},"time":1700000000001}}}`)
	select {
	case snap := <-mgr.Snapshots():
		t.Fatalf("unexpected snapshot for untracked user: %+v", snap)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestJitterBackoffBounds(t *testing.T) {
	for attempt := 0; attempt < 12; attempt++ {
		ceiling := backoffBase << uint(attempt)
		if ceiling > backoffCap || ceiling <= 0 {
			ceiling = backoffCap
		}
		for i := 0; i < 50; i++ {
			d := jitterBackoff(attempt)
			if d < 0 || d > ceiling {
				t.Fatalf("jitterBackoff(%d) = %v outside [0, %v]", attempt, d, ceiling)
			}
		}
	}
}
