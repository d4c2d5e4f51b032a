package signal

import (
	"log"
	"math"
	"sync"

	"hyperwatch/events"
)

const (
	regimeInterval = "1h"
	regimeLookback = 50
	regimeMinBars  = 30

	// Thresholds tuned for hourly BTC candles.
	trendSlopeThreshold  = 0.002 // 0.2% EMA slope per bar
	highVolatilityATRPct = 2.0   // ATR above 2% of price
)

type bar struct {
	t     int64
	high  float64
	low   float64
	close float64
}

// CandleRegimeDetector classifies the market regime from recent hourly
// candles: high_volatility, trending, ranging, or unknown while there is
// not enough data. It implements RegimeProvider for the weighting engine.
type CandleRegimeDetector struct {
	mu    sync.RWMutex
	bars  []bar
	label string
}

// NewCandleRegimeDetector creates a detector that reports unknown until
// it has seen enough bars.
func NewCandleRegimeDetector() *CandleRegimeDetector {
	return &CandleRegimeDetector{label: RegimeUnknown}
}

// Regime returns the current label.
func (d *CandleRegimeDetector) Regime() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.label
}

// Observe feeds one candle update. Non-hourly intervals are ignored; an
// update for the newest bucket replaces it in place.
func (d *CandleRegimeDetector) Observe(c events.CandleUpdate) {
	if c.Interval != regimeInterval {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	b := bar{t: c.T, high: c.High, low: c.Low, close: c.Close}
	n := len(d.bars)
	switch {
	case n > 0 && d.bars[n-1].t == c.T:
		d.bars[n-1] = b
	case n > 0 && d.bars[n-1].t > c.T:
		// Late bucket out of order; regime uses the newest bars only.
		return
	default:
		d.bars = append(d.bars, b)
		if len(d.bars) > regimeLookback {
			d.bars = d.bars[len(d.bars)-regimeLookback:]
		}
	}

	prev := d.label
	d.label = d.classify()
	if d.label != prev {
		log.Printf("📈 Market regime changed: %s -> %s", prev, d.label)
	}
}

// classify separates volatility and trend: high volatility dominates,
// then a sustained EMA slope marks trending, otherwise ranging.
func (d *CandleRegimeDetector) classify() string {
	n := len(d.bars)
	if n < regimeMinBars {
		return RegimeUnknown
	}

	prices := make([]float64, n)
	for i, b := range d.bars {
		prices[i] = b.close
	}

	ema := calcEMA(prices, 20)
	prevEma := calcEMA(prices[:n-1], 20)
	if prevEma == 0 {
		return RegimeUnknown
	}
	emaSlope := (ema - prevEma) / prevEma

	atr := calcATR(d.bars, 14)
	atrPercent := 0.0
	if last := prices[n-1]; last > 0 {
		atrPercent = atr / last * 100
	}

	if atrPercent > highVolatilityATRPct {
		return RegimeHighVolatility
	}
	if math.Abs(emaSlope) > trendSlopeThreshold {
		return RegimeTrending
	}
	return RegimeRanging
}

func calcSMA(data []float64, period int) float64 {
	if len(data) < period {
		period = len(data)
	}
	if period == 0 {
		return 0
	}
	sum := 0.0
	for i := len(data) - period; i < len(data); i++ {
		sum += data[i]
	}
	return sum / float64(period)
}

func calcEMA(data []float64, period int) float64 {
	if len(data) < period {
		return calcSMA(data, len(data))
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := calcSMA(data[:period], period)
	for i := period; i < len(data); i++ {
		ema = data[i]*k + ema*(1-k)
	}
	return ema
}

// calcATR is Wilder's smoothed average true range.
func calcATR(bars []bar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}

	trueRanges := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		tr := bars[i].high - bars[i].low
		tr = math.Max(tr, math.Abs(bars[i].high-bars[i-1].close))
		tr = math.Max(tr, math.Abs(bars[i].low-bars[i-1].close))
		trueRanges = append(trueRanges, tr)
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(trueRanges); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}
	return atr
}
