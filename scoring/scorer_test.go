package scoring

import (
	"math/rand"
	"reflect"
	"testing"

	"hyperwatch/config"
	"hyperwatch/venue"
)

func testScoringConfig() config.ScoringConfig {
	var cfg config.ScoringConfig
	cfg.ROIMultipliers.AllTime = 30
	cfg.ROIMultipliers.Month = 50
	cfg.ROIMultipliers.Week = 100
	cfg.AccountValueThresholds = []float64{10_000_000, 5_000_000, 1_000_000, 100_000}
	cfg.AccountValuePoints = []float64{15, 12, 8, 4}
	cfg.VolumeThresholds = []float64{100_000_000, 50_000_000, 10_000_000, 1_000_000}
	cfg.VolumePoints = []float64{10, 7, 4, 2}
	cfg.ConsistencyBonus = 5
	cfg.Tags.WhaleThreshold = 10_000_000
	cfg.Tags.LargeThreshold = 1_000_000
	cfg.MinScore = 50
	cfg.MaxCount = 500
	return cfg
}

func row(addr string, acct float64, day, week, month, allTime, monthVlm float64) venue.LeaderboardRow {
	return venue.LeaderboardRow{
		Address:      addr,
		AccountValue: acct,
		Windows: map[string]venue.WindowPerf{
			venue.WindowDay:     {ROI: day},
			venue.WindowWeek:    {ROI: week},
			venue.WindowMonth:   {ROI: month, Vlm: monthVlm},
			venue.WindowAllTime: {ROI: allTime},
		},
	}
}

func TestScore(t *testing.T) {
	cfg := testScoringConfig()

	tests := []struct {
		name string
		row  venue.LeaderboardRow
		want float64
	}{
		{
			// 1.5*30 + 0.3*50 + 0.07*100 + 15 (acct) + 7 (vlm 60M) + 5 (consistent)
			name: "whale with positive windows",
			row:  row("0xa", 15_000_000, 0.01, 0.07, 0.30, 1.50, 60_000_000),
			want: 45 + 15 + 7 + 15 + 7 + 5,
		},
		{
			// negative ROI drags the score; clamped at zero
			name: "losing trader clamps to zero",
			row:  row("0xb", 50_000, -0.5, -1.0, -2.0, -3.0, 0),
			want: 0,
		},
		{
			// no consistency bonus when one window is flat
			name: "flat day window skips bonus",
			row:  row("0xc", 200_000, 0, 0.1, 0.2, 0.5, 2_000_000),
			want: 0.5*30 + 0.2*50 + 0.1*100 + 4 + 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.row, cfg)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestTags(t *testing.T) {
	cfg := testScoringConfig()

	r := row("0xa", 15_000_000, 0.01, 0.07, 0.30, 1.50, 150_000_000)
	score := Score(r, cfg)
	tags := Tags(r, score, cfg)

	want := []string{TagWhale, TagLarge, TagElite, TagTopPerformer, TagConsistent, TagHighPerformer, TagHighVolume}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("Tags() = %v, want %v", tags, want)
	}

	small := row("0xb", 500_000, -0.01, 0.2, 0.3, 0.4, 20_000_000)
	tags = Tags(small, Score(small, cfg), cfg)
	for _, tag := range tags {
		if tag == TagWhale || tag == TagConsistent || tag == TagHighVolume {
			t.Errorf("unexpected tag %s for small trader", tag)
		}
	}
	if !contains(tags, TagMediumVolume) {
		t.Errorf("expected medium_volume tag, got %v", tags)
	}
}

func TestQualifyFilters(t *testing.T) {
	cfg := testScoringConfig()
	cfg.MinAccountValue = 100_000
	cfg.ExcludeAddrs = []string{"0xEXCLUDED"}

	rows := []venue.LeaderboardRow{
		row("0xGOOD", 15_000_000, 0.01, 0.07, 0.30, 1.50, 60_000_000),
		row("0xLOWSCORE", 15_000_000, -0.1, -0.1, -0.1, 0.1, 0), // below min_score
		row("0xPOOR", 50_000, 0.01, 0.07, 0.30, 1.50, 60_000_000), // below min account value
		row("0xEXCLUDED", 20_000_000, 0.01, 0.07, 0.30, 1.50, 60_000_000),
		row("0xGOOD", 15_000_000, 0.01, 0.07, 0.30, 1.50, 60_000_000), // duplicate address
	}

	got := Qualify(rows, cfg)
	if len(got) != 1 {
		t.Fatalf("expected 1 qualifying trader, got %d", len(got))
	}
	if got[0].Address != "0xgood" {
		t.Errorf("expected lowercased 0xgood, got %s", got[0].Address)
	}
}

func TestQualifyMaxCountAndOrder(t *testing.T) {
	cfg := testScoringConfig()
	cfg.MaxCount = 2

	rows := []venue.LeaderboardRow{
		row("0xc", 15_000_000, 0.01, 0.07, 0.30, 1.50, 60_000_000),
		row("0xa", 15_000_000, 0.01, 0.07, 0.30, 1.50, 60_000_000), // ties 0xc on score
		row("0xb", 20_000_000, 0.05, 0.20, 0.60, 2.00, 200_000_000),
	}

	got := Qualify(rows, cfg)
	if len(got) != 2 {
		t.Fatalf("expected max_count=2 traders, got %d", len(got))
	}
	if got[0].Address != "0xb" {
		t.Errorf("expected highest score first, got %s", got[0].Address)
	}
	// address ascending tiebreak
	if got[1].Address != "0xa" {
		t.Errorf("expected 0xa via tiebreak, got %s", got[1].Address)
	}
}

// The qualifying set must be a deterministic function of the snapshot:
// any permutation of the input rows yields an identical result.
func TestQualifyPermutationInvariant(t *testing.T) {
	cfg := testScoringConfig()

	rows := []venue.LeaderboardRow{
		row("0xa", 15_000_000, 0.01, 0.07, 0.30, 1.50, 60_000_000),
		row("0xb", 20_000_000, 0.05, 0.20, 0.60, 2.00, 200_000_000),
		row("0xc", 2_000_000, 0.02, 0.10, 0.40, 1.00, 15_000_000),
		row("0xd", 500_000, 0.00, 0.05, 0.20, 0.80, 5_000_000),
		row("0xe", 11_000_000, 0.03, 0.15, 0.50, 1.80, 120_000_000),
	}
	want := Qualify(rows, cfg)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := make([]venue.LeaderboardRow, len(rows))
		copy(shuffled, rows)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got := Qualify(shuffled, cfg)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("permutation %d changed the qualifying set", i)
		}
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
