package signal

import (
	"testing"

	"hyperwatch/config"
	"hyperwatch/events"
)

func testWeightingConfig() config.WeightingConfig {
	var cfg config.WeightingConfig
	cfg.Dimensions.Performance = 0.40
	cfg.Dimensions.Size = 0.30
	cfg.Dimensions.Recency = 0.20
	cfg.Dimensions.Regime = 0.10
	cfg.Performance.Sharpe = 0.25
	cfg.Performance.Sortino = 0.20
	cfg.Performance.Consistency = 0.20
	cfg.Performance.MaxDrawdown = 0.15
	cfg.Performance.WinRate = 0.10
	cfg.Performance.ProfitFactor = 0.10
	return cfg
}

// mutableRegime lets tests flip the regime label.
type mutableRegime struct{ label string }

func (m *mutableRegime) Regime() string { return m.label }

func TestWeightDeterministic(t *testing.T) {
	engine := NewWeightEngine(testWeightingConfig(), nil)
	roi := events.WindowROI{Day: 0.01, Week: 0.07, Month: 0.30, AllTime: 1.50}

	first := engine.Weight("0xa", 15_000_000, 90, roi)
	second := engine.Weight("0xa", 15_000_000, 90, roi)
	if first != second {
		t.Errorf("repeated computation differs: %+v vs %+v", first, second)
	}
}

func TestWeightBounds(t *testing.T) {
	engine := NewWeightEngine(testWeightingConfig(), nil)

	rois := []events.WindowROI{
		{Day: 5, Week: 10, Month: 20, AllTime: 50},
		{Day: -5, Week: -10, Month: -20, AllTime: -50},
		{},
		{Day: 0.001, Week: -0.002, Month: 0.05, AllTime: 0.2},
	}
	accts := []float64{0, 50_000, 150_000, 2_000_000, 7_000_000, 12_000_000, 30_000_000}
	scores := []float64{0, 45, 55, 75, 85, 95}

	for _, roi := range rois {
		for _, acct := range accts {
			for _, score := range scores {
				w := engine.compute(traderInputs{acct: acct, score: score, roi: roi, regime: RegimeUnknown})
				if w.Performance < 0 || w.Performance > 100 {
					t.Fatalf("performance out of bounds: %+v", w)
				}
				if w.Size < 0.5 || w.Size > 3.0 {
					t.Fatalf("size out of bounds: %+v", w)
				}
				if w.Recency < 0.5 || w.Recency > 1.5 {
					t.Fatalf("recency out of bounds: %+v", w)
				}
				if w.Regime < 0.8 || w.Regime > 1.2 {
					t.Fatalf("regime out of bounds: %+v", w)
				}
				if w.Composite <= 0 {
					t.Fatalf("composite must be positive: %+v", w)
				}
			}
		}
	}
}

// Increasing account value with all else fixed cannot decrease the size
// dimension nor downgrade the tier.
func TestSizeAndTierMonotonic(t *testing.T) {
	engine := NewWeightEngine(testWeightingConfig(), nil)
	roi := events.WindowROI{Day: 0.05, Week: 0.20, Month: 0.60, AllTime: 2.0}

	tierRank := map[string]int{
		TierSmall:      0,
		TierStandard:   1,
		TierElite:      2,
		TierLarge:      3,
		TierWhale:      4,
		TierAlphaWhale: 5,
	}

	accts := []float64{50_000, 100_000, 1_000_000, 5_000_000, 10_000_000, 20_000_000, 100_000_000}
	prevSize := 0.0
	prevTier := -1
	for _, acct := range accts {
		w := engine.compute(traderInputs{acct: acct, score: 90, roi: roi, regime: RegimeUnknown})
		if w.Size < prevSize {
			t.Errorf("size decreased at acct=%f: %f < %f", acct, w.Size, prevSize)
		}
		if tierRank[w.Tier] < prevTier {
			t.Errorf("tier downgraded at acct=%f: %s", acct, w.Tier)
		}
		prevSize = w.Size
		prevTier = tierRank[w.Tier]
	}
}

func TestTierTable(t *testing.T) {
	tests := []struct {
		name string
		size float64
		perf float64
		want string
	}{
		{"alpha whale", 3.0, 85, TierAlphaWhale},
		{"big but mediocre", 3.0, 75, TierWhale},
		{"whale", 2.5, 72, TierWhale},
		{"large", 2.0, 66, TierLarge},
		{"elite without size", 0.5, 62, TierElite},
		{"standard", 1.0, 55, TierStandard},
		{"small", 1.0, 30, TierSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tierOf(tt.size, tt.perf); got != tt.want {
				t.Errorf("tierOf(%f, %f) = %s, want %s", tt.size, tt.perf, got, tt.want)
			}
		})
	}
}

func TestRegimeDimension(t *testing.T) {
	allPositive := events.WindowROI{Day: 0.1, Week: 0.2, Month: 0.5, AllTime: 1.0}
	mixed := events.WindowROI{Day: -0.1, Week: 0.2, Month: -0.5, AllTime: 1.0}

	tests := []struct {
		name   string
		regime string
		roi    events.WindowROI
		want   float64
	}{
		{"high volatility favors consistency", RegimeHighVolatility, allPositive, 1.2},
		{"high volatility penalizes mixed", RegimeHighVolatility, mixed, 0.8 + 0.5*0.4},
		{"trending favors momentum", RegimeTrending, allPositive, 0.8 + 0.5*0.4},
		{"trending clamps large momentum", RegimeTrending, events.WindowROI{Month: 5}, 1.2},
		{"ranging is uniform", RegimeRanging, allPositive, 0.9},
		{"unknown is neutral", RegimeUnknown, allPositive, 1.0},
		{"other labels are neutral", "mid_bull", allPositive, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := regimeDimension(tt.regime, tt.roi)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("regimeDimension(%s) = %f, want %f", tt.regime, got, tt.want)
			}
		})
	}
}

func TestWeightCacheInvalidatedOnRegimeChange(t *testing.T) {
	regime := &mutableRegime{label: RegimeRanging}
	engine := NewWeightEngine(testWeightingConfig(), regime)
	roi := events.WindowROI{Day: 0.1, Week: 0.2, Month: 0.5, AllTime: 1.0}

	ranging := engine.Weight("0xa", 15_000_000, 90, roi)
	if ranging.Regime != 0.9 {
		t.Fatalf("expected ranging dimension 0.9, got %f", ranging.Regime)
	}

	regime.label = RegimeHighVolatility
	hv := engine.Weight("0xa", 15_000_000, 90, roi)
	if hv.Regime != 1.2 {
		t.Errorf("regime change must invalidate the cache, got %f", hv.Regime)
	}
	if hv.Composite == ranging.Composite {
		t.Error("composite should change with the regime dimension")
	}
}

func TestRecencyDimension(t *testing.T) {
	if got := recencyDimension(events.WindowROI{}); got != 0.5 {
		t.Errorf("zero ROI should map to 0.5, got %f", got)
	}
	if got := recencyDimension(events.WindowROI{Day: 10, Week: 10, Month: 10}); got != 1.5 {
		t.Errorf("huge ROI should clamp at 1.5, got %f", got)
	}
	// magnitude counts, not sign
	up := recencyDimension(events.WindowROI{Day: 0.4})
	down := recencyDimension(events.WindowROI{Day: -0.4})
	if up != down {
		t.Errorf("recency should be sign-agnostic: %f vs %f", up, down)
	}
}
