package signal

import (
	"testing"

	"hyperwatch/events"
)

func hourly(t int64, o, h, l, c float64) events.CandleUpdate {
	return events.CandleUpdate{Symbol: "BTC", Interval: "1h", T: t, Open: o, High: h, Low: l, Close: c}
}

func TestRegimeUnknownUntilEnoughBars(t *testing.T) {
	d := NewCandleRegimeDetector()
	if d.Regime() != RegimeUnknown {
		t.Fatalf("fresh detector must report unknown, got %s", d.Regime())
	}

	px := 60000.0
	for i := 0; i < regimeMinBars-1; i++ {
		d.Observe(hourly(int64(i)*3600_000, px, px+10, px-10, px))
	}
	if d.Regime() != RegimeUnknown {
		t.Errorf("expected unknown below %d bars, got %s", regimeMinBars, d.Regime())
	}
}

func TestRegimeIgnoresOtherIntervals(t *testing.T) {
	d := NewCandleRegimeDetector()
	for i := 0; i < regimeLookback; i++ {
		c := hourly(int64(i)*60_000, 60000, 60010, 59990, 60000)
		c.Interval = "1m"
		d.Observe(c)
	}
	if d.Regime() != RegimeUnknown {
		t.Errorf("non-hourly candles must not feed the detector, got %s", d.Regime())
	}
}

func TestRegimeRangingOnFlatSeries(t *testing.T) {
	d := NewCandleRegimeDetector()
	px := 60000.0
	for i := 0; i < regimeLookback; i++ {
		d.Observe(hourly(int64(i)*3600_000, px, px+20, px-20, px))
	}
	if d.Regime() != RegimeRanging {
		t.Errorf("flat low-range series should be ranging, got %s", d.Regime())
	}
}

func TestRegimeTrendingOnSteadyClimb(t *testing.T) {
	d := NewCandleRegimeDetector()
	px := 60000.0
	for i := 0; i < regimeLookback; i++ {
		// +0.5% per bar with a narrow range: strong slope, low ATR.
		px *= 1.005
		d.Observe(hourly(int64(i)*3600_000, px, px*1.001, px*0.999, px))
	}
	if d.Regime() != RegimeTrending {
		t.Errorf("steady climb should be trending, got %s", d.Regime())
	}
}

func TestRegimeHighVolatilityOnWideBars(t *testing.T) {
	d := NewCandleRegimeDetector()
	px := 60000.0
	for i := 0; i < regimeLookback; i++ {
		// Alternating closes with a 6% bar range: huge ATR, no net slope.
		c := px
		if i%2 == 0 {
			c = px * 1.02
		} else {
			c = px * 0.98
		}
		d.Observe(hourly(int64(i)*3600_000, px, px*1.03, px*0.97, c))
	}
	if d.Regime() != RegimeHighVolatility {
		t.Errorf("wide alternating bars should be high volatility, got %s", d.Regime())
	}
}

func TestRegimeReplacesSameBucket(t *testing.T) {
	d := NewCandleRegimeDetector()
	px := 60000.0
	for i := 0; i < regimeLookback; i++ {
		d.Observe(hourly(int64(i)*3600_000, px, px+20, px-20, px))
	}
	// Re-delivering the newest bucket must not grow the window.
	last := int64(regimeLookback-1) * 3600_000
	d.Observe(hourly(last, px, px+25, px-25, px+5))
	d.mu.RLock()
	n := len(d.bars)
	d.mu.RUnlock()
	if n != regimeLookback {
		t.Errorf("expected %d bars after replay, got %d", regimeLookback, n)
	}
}
