// Package signal is the Signal System service: trader weighting, signal
// aggregation and whale alert detection over the scraper's event stream.
// All state is in memory; the scraper persists whatever this service
// emits on signals.out.
package signal

import (
	"math"
	"sync"

	"hyperwatch/config"
	"hyperwatch/events"
)

// Tier labels derived from (size, performance).
const (
	TierAlphaWhale = "alpha_whale"
	TierWhale      = "whale"
	TierLarge      = "large"
	TierElite      = "elite"
	TierStandard   = "standard"
	TierSmall      = "small"
)

// Regime labels the weighting engine reacts to. Anything else (including
// "unknown") leaves the regime dimension at 1.0.
const (
	RegimeHighVolatility = "high_volatility"
	RegimeTrending       = "trending"
	RegimeRanging        = "ranging"
	RegimeUnknown        = "unknown"
)

// TraderWeight is the weighting engine's output for one trader.
type TraderWeight struct {
	Performance float64 // 0..100
	Size        float64 // 0.5..3.0
	Recency     float64 // 0.5..1.5
	Regime      float64 // 0.8..1.2
	Composite   float64
	Tier        string
}

// RegimeProvider supplies the current market regime label.
type RegimeProvider interface {
	Regime() string
}

// staticRegime is the fallback provider when no detector is wired.
type staticRegime string

func (s staticRegime) Regime() string { return string(s) }

// traderInputs is the full input tuple of one weight computation. The
// cache is keyed by address and revalidated against this tuple, so a
// stale entry can never be served for changed inputs.
type traderInputs struct {
	acct   float64
	score  float64
	roi    events.WindowROI
	regime string
}

type cachedWeight struct {
	inputs traderInputs
	weight TraderWeight
}

// WeightEngine computes TraderWeights. Deterministic: identical inputs
// under an identical regime always produce identical weights. Cached per
// trader; the whole cache is invalidated when the regime label changes.
type WeightEngine struct {
	cfg    config.WeightingConfig
	regime RegimeProvider

	mu          sync.Mutex
	cache       map[string]cachedWeight
	regimeLabel string
}

// NewWeightEngine creates an engine bound to a regime provider. A nil
// provider pins the regime dimension at 1.0.
func NewWeightEngine(cfg config.WeightingConfig, regime RegimeProvider) *WeightEngine {
	if regime == nil {
		regime = staticRegime(RegimeUnknown)
	}
	return &WeightEngine{
		cfg:         cfg,
		regime:      regime,
		cache:       make(map[string]cachedWeight),
		regimeLabel: regime.Regime(),
	}
}

// Weight returns the trader's weight, from cache when inputs and regime
// are unchanged.
func (e *WeightEngine) Weight(addr string, acct, score float64, roi events.WindowROI) TraderWeight {
	label := e.regime.Regime()
	in := traderInputs{acct: acct, score: score, roi: roi, regime: label}

	e.mu.Lock()
	defer e.mu.Unlock()

	if label != e.regimeLabel {
		e.cache = make(map[string]cachedWeight)
		e.regimeLabel = label
	}
	if c, ok := e.cache[addr]; ok && c.inputs == in {
		return c.weight
	}

	w := e.compute(in)
	e.cache[addr] = cachedWeight{inputs: in, weight: w}
	return w
}

func (e *WeightEngine) compute(in traderInputs) TraderWeight {
	w := TraderWeight{
		Performance: e.performance(in),
		Size:        sizeDimension(in.acct),
		Recency:     recencyDimension(in.roi),
		Regime:      regimeDimension(in.regime, in.roi),
	}

	// Performance runs 0..100 while the other dimensions are already
	// near unity, so it is rescaled before blending.
	d := e.cfg.Dimensions
	w.Composite = d.Performance*(w.Performance/100) +
		d.Size*w.Size +
		d.Recency*w.Recency +
		d.Regime*w.Regime

	w.Tier = tierOf(w.Size, w.Performance)
	return w
}

// performance blends six sub-metrics, each on a 0..100 scale, using the
// configured sub-weights. The sub-metrics are coarse estimates from the
// four leaderboard windows, not real risk-adjusted statistics; the
// functional form is fixed.
func (e *WeightEngine) performance(in traderInputs) float64 {
	p := e.cfg.Performance
	score := p.Sharpe*sharpeScore(in.roi) +
		p.Sortino*sortinoScore(in.roi) +
		p.Consistency*consistencyScore(in.roi) +
		p.MaxDrawdown*drawdownScore(in.score) +
		p.WinRate*winRateScore(in.roi) +
		p.ProfitFactor*profitFactorScore(in.roi.AllTime)
	return clamp(score, 0, 100)
}

// dailyReturns approximates a daily return series from the three
// short-window ROIs.
func dailyReturns(roi events.WindowROI) [3]float64 {
	return [3]float64{roi.Day, roi.Week / 7, roi.Month / 30}
}

func sharpeScore(roi events.WindowROI) float64 {
	rs := dailyReturns(roi)
	mean := (rs[0] + rs[1] + rs[2]) / 3
	sd := stdev(rs[:], mean)
	if sd == 0 {
		if mean > 0 {
			return 100
		}
		return 50
	}
	return clamp(50+(mean/sd)*25, 0, 100)
}

func sortinoScore(roi events.WindowROI) float64 {
	rs := dailyReturns(roi)
	mean := (rs[0] + rs[1] + rs[2]) / 3

	var downside []float64
	for _, r := range rs {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		if mean > 0 {
			return 100
		}
		return 50
	}
	sd := stdev(downside, 0)
	if sd == 0 {
		return 50
	}
	return clamp(50+(mean/sd)*25, 0, 100)
}

// consistencyScore is the fraction of the four windows with positive ROI.
func consistencyScore(roi events.WindowROI) float64 {
	positive := 0
	for _, r := range []float64{roi.Day, roi.Week, roi.Month, roi.AllTime} {
		if r > 0 {
			positive++
		}
	}
	return float64(positive) / 4 * 100
}

// consistencyFraction is consistencyScore on a 0..1 scale, shared with
// the regime dimension.
func consistencyFraction(roi events.WindowROI) float64 {
	return consistencyScore(roi) / 100
}

// drawdownScore estimates drawdown resilience from the leaderboard score
// band: higher-scored traders are assumed to manage drawdown better.
func drawdownScore(score float64) float64 {
	switch {
	case score >= 90:
		return 90
	case score >= 80:
		return 80
	case score >= 70:
		return 70
	case score >= 50:
		return 60
	default:
		return 40
	}
}

// winRateScore uses the sign of the short windows as a coarse win/loss
// record.
func winRateScore(roi events.WindowROI) float64 {
	wins := 0
	for _, r := range []float64{roi.Day, roi.Week} {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / 2 * 100
}

// profitFactorScore bands the all-time ROI.
func profitFactorScore(allTime float64) float64 {
	switch {
	case allTime >= 2.0:
		return 100
	case allTime >= 1.0:
		return 85
	case allTime >= 0.5:
		return 70
	case allTime > 0:
		return 55
	default:
		return 30
	}
}

// sizeDimension tiers account value into [0.5, 3.0].
func sizeDimension(acct float64) float64 {
	switch {
	case acct >= 20_000_000:
		return 3.0
	case acct >= 10_000_000:
		return 2.5
	case acct >= 5_000_000:
		return 2.0
	case acct >= 1_000_000:
		return 1.5
	case acct >= 100_000:
		return 1.0
	default:
		return 0.5
	}
}

// recencyDimension maps the weighted recent ROI magnitude linearly into
// [0.5, 1.5].
func recencyDimension(roi events.WindowROI) float64 {
	r := roi.Day*0.50 + roi.Week*0.30 + roi.Month*0.20
	m := clamp(math.Abs(r), 0, 1)
	return 0.5 + m
}

// regimeDimension adapts the weight to the current market regime,
// bounded to [0.8, 1.2].
func regimeDimension(regime string, roi events.WindowROI) float64 {
	switch regime {
	case RegimeHighVolatility:
		return 0.8 + consistencyFraction(roi)*0.4
	case RegimeTrending:
		return 0.8 + clamp(math.Abs(roi.Month)*0.4, 0, 0.4)
	case RegimeRanging:
		return 0.9
	default:
		return 1.0
	}
}

// tierOf classifies (size, performance); first match wins.
func tierOf(size, perf float64) string {
	switch {
	case size >= 3.0 && perf >= 80:
		return TierAlphaWhale
	case size >= 2.5 && perf >= 70:
		return TierWhale
	case size >= 2.0 && perf >= 65:
		return TierLarge
	case perf >= 60:
		return TierElite
	case perf >= 50:
		return TierStandard
	default:
		return TierSmall
	}
}

func stdev(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return math.Sqrt(variance / float64(len(xs)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
