package signal

import (
	"context"
	"testing"
	"time"

	"hyperwatch/config"
	"hyperwatch/events"
)

func testAlertsConfig() config.AlertsConfig {
	return config.AlertsConfig{
		AlphaWhaleThreshold: 20_000_000,
		WhaleThreshold:      10_000_000,
		EliteThreshold:      80,
		MaxAgeHours:         24,
	}
}

func newTestDetector() (*AlertDetector, *events.Subscription) {
	bus := events.NewMemoryBus()
	weights := stubWeights{composites: map[string]float64{}, tiers: map[string]string{}}
	d := NewAlertDetector(testAlertsConfig(), "BTC", weights, bus)
	sub, _ := bus.Subscribe(context.Background(), events.ChannelSignalsOut)
	return d, sub
}

func drainAlert(t *testing.T, sub *events.Subscription) events.WhaleAlert {
	t.Helper()
	select {
	case msg := <-sub.Events():
		var alert events.WhaleAlert
		if err := msg.Event.Decode(events.TypeWhaleAlert, &alert); err != nil {
			t.Fatalf("decode alert: %v", err)
		}
		return alert
	case <-time.After(time.Second):
		t.Fatal("no whale alert published")
		return events.WhaleAlert{}
	}
}

func expectNoAlert(t *testing.T, sub *events.Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Events():
		t.Fatalf("unexpected alert: %+v", msg.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

// An alpha whale flipping LONG to SHORT produces exactly one CRITICAL
// REVERSAL alert.
func TestAlertReversal(t *testing.T) {
	ctx := context.Background()
	d, sub := newTestDetector()

	d.Seed(scoredUpdate("0xc", 5.0, 300_000, 25_000_000, 90))
	d.Observe(ctx, scoredUpdate("0xc", -5.0, 300_000, 25_000_000, 90))

	alert := drainAlert(t, sub)
	if alert.Priority != events.PriorityCritical {
		t.Errorf("expected CRITICAL, got %s", alert.Priority)
	}
	if alert.ChangeType != events.ChangeReversal {
		t.Errorf("expected REVERSAL, got %s", alert.ChangeType)
	}
	if alert.PrevDirection != events.DirLong || alert.CurrDirection != events.DirShort {
		t.Errorf("unexpected directions: %+v", alert)
	}
	if alert.Recommendation != events.RecSell {
		t.Errorf("expected SELL recommendation, got %s", alert.Recommendation)
	}
	// Context reflects the post-change direction.
	if alert.MarketContext.WhalesShort != 1 || alert.MarketContext.WhaleBias != -1.0 {
		t.Errorf("unexpected market context: %+v", alert.MarketContext)
	}
	expectNoAlert(t, sub)
}

func TestAlertEntryAndExit(t *testing.T) {
	ctx := context.Background()
	d, sub := newTestDetector()

	// First observation of a whale long counts as ENTRY from NEUTRAL.
	d.Observe(ctx, scoredUpdate("0xa", 10.0, 600_000, 15_000_000, 90))
	alert := drainAlert(t, sub)
	if alert.ChangeType != events.ChangeEntry || alert.Priority != events.PriorityHigh {
		t.Errorf("expected HIGH ENTRY, got %+v", alert)
	}
	if alert.PrevDirection != events.DirNeutral || alert.CurrDirection != events.DirLong {
		t.Errorf("unexpected directions: %+v", alert)
	}

	ev := scoredUpdate("0xa", 0, 0, 15_000_000, 90)
	ev.T += 2000
	d.Observe(ctx, ev)
	alert = drainAlert(t, sub)
	if alert.ChangeType != events.ChangeExit || alert.CurrDirection != events.DirNeutral {
		t.Errorf("expected EXIT to NEUTRAL, got %+v", alert)
	}
	if alert.Recommendation != events.RecNeutral {
		t.Errorf("expected NEUTRAL recommendation, got %s", alert.Recommendation)
	}
}

func TestAlertSizeChange(t *testing.T) {
	ctx := context.Background()
	d, sub := newTestDetector()

	d.Seed(scoredUpdate("0xa", 10.0, 600_000, 15_000_000, 90))

	// 15% growth: below the 20% significance threshold.
	d.Observe(ctx, scoredUpdate("0xa", 11.5, 690_000, 15_000_000, 90))
	expectNoAlert(t, sub)

	// 20% growth from the new baseline triggers.
	ev := scoredUpdate("0xa", 13.8, 830_000, 15_000_000, 90)
	ev.T += 2000
	d.Observe(ctx, ev)
	alert := drainAlert(t, sub)
	if alert.ChangeType != events.ChangeSizeChange {
		t.Errorf("expected SIZE_CHANGE, got %s", alert.ChangeType)
	}
}

func TestAlertPriorityTable(t *testing.T) {
	d, _ := newTestDetector()

	tests := []struct {
		name  string
		acct  float64
		score float64
		want  string
	}{
		{"alpha whale account", 25_000_000, 50, events.PriorityCritical},
		{"whale account", 12_000_000, 50, events.PriorityHigh},
		{"elite score only", 500_000, 85, events.PriorityMedium},
		{"neither", 500_000, 50, events.PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.priority(tt.acct, tt.score); got != tt.want {
				t.Errorf("priority(%f, %f) = %s, want %s", tt.acct, tt.score, got, tt.want)
			}
		})
	}
}

func TestAlertEligibility(t *testing.T) {
	ctx := context.Background()
	d, sub := newTestDetector()

	// Below whale account and elite score: no detection at all.
	d.Observe(ctx, scoredUpdate("0xsmall", 10.0, 600_000, 500_000, 60))
	expectNoAlert(t, sub)

	// Elite score qualifies even with a small account.
	d.Observe(ctx, scoredUpdate("0xelite", 10.0, 600_000, 500_000, 85))
	alert := drainAlert(t, sub)
	if alert.Priority != events.PriorityMedium {
		t.Errorf("expected MEDIUM for elite-only trader, got %s", alert.Priority)
	}
}

// A whale that drops below the eligibility gate (or is untracked and
// flushed) leaves the whale_bias context instead of biasing it forever.
func TestAlertContextDropsIneligibleWhale(t *testing.T) {
	ctx := context.Background()
	d, sub := newTestDetector()

	d.Seed(scoredUpdate("0xa", 10.0, 600_000, 15_000_000, 90))
	d.Seed(scoredUpdate("0xb", 5.0, 300_000, 12_000_000, 85))

	// 0xa leaves the tracked set: flat flush with no enrichment.
	d.Observe(ctx, scoredUpdate("0xa", 0, 0, 0, 0))
	expectNoAlert(t, sub)

	ev := scoredUpdate("0xb", -5.0, 300_000, 12_000_000, 85)
	ev.T += 2000
	d.Observe(ctx, ev)
	alert := drainAlert(t, sub)
	if alert.MarketContext.TotalWhales != 1 || alert.MarketContext.WhalesShort != 1 {
		t.Errorf("expected only the live whale in context, got %+v", alert.MarketContext)
	}
	if alert.MarketContext.WhaleBias != -1.0 {
		t.Errorf("expected whale bias -1, got %f", alert.MarketContext.WhaleBias)
	}
}

func TestAlertDedupe(t *testing.T) {
	ctx := context.Background()
	d, sub := newTestDetector()

	ev := scoredUpdate("0xa", 10.0, 600_000, 15_000_000, 90)
	d.Observe(ctx, ev)
	drainAlert(t, sub)

	// Same (trader, change type, second): replay is swallowed. The exit
	// and re-entry land in the same second, so the second ENTRY dedupes.
	exit := ev
	exit.Szi = 0
	d.Observe(ctx, exit)
	drainAlert(t, sub)

	reentry := ev
	reentry.Szi = 8.0
	d.Observe(ctx, reentry)
	expectNoAlert(t, sub)
}

func TestAlertRingPruning(t *testing.T) {
	ctx := context.Background()
	d, sub := newTestDetector()

	old := scoredUpdate("0xa", 10.0, 600_000, 15_000_000, 90)
	old.T = time.Now().Add(-25 * time.Hour).UnixMilli()
	d.Observe(ctx, old)
	drainAlert(t, sub)

	fresh := scoredUpdate("0xb", -4.0, 250_000, 12_000_000, 70)
	d.Observe(ctx, fresh)
	drainAlert(t, sub)

	alerts := d.RecentAlerts(10)
	if len(alerts) != 1 {
		t.Fatalf("expected stale alert pruned, got %d alerts", len(alerts))
	}
	if alerts[0].Address != "0xb" {
		t.Errorf("expected the fresh alert, got %+v", alerts[0])
	}
}

func TestClassifyChange(t *testing.T) {
	tests := []struct {
		name        string
		prev, curr  float64
		wantType    string
		significant bool
	}{
		{"flat to flat", 0, 0, "", false},
		{"entry long", 0, 5, events.ChangeEntry, true},
		{"entry short", 0, -5, events.ChangeEntry, true},
		{"exit", 5, 0, events.ChangeExit, true},
		{"reversal", 5, -5, events.ChangeReversal, true},
		{"small growth", 10, 11, "", false},
		{"exact 20 percent", 10, 12, events.ChangeSizeChange, true},
		{"big cut", -10, -5, events.ChangeSizeChange, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotSig := classifyChange(tt.prev, tt.curr)
			if gotType != tt.wantType || gotSig != tt.significant {
				t.Errorf("classifyChange(%f, %f) = (%s, %t), want (%s, %t)",
					tt.prev, tt.curr, gotType, gotSig, tt.wantType, tt.significant)
			}
		})
	}
}
