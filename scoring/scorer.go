// Package scoring computes leaderboard trader scores, assigns tags, and
// maintains the tracked-trader set.
package scoring

import (
	"sort"
	"strings"

	"hyperwatch/config"
	"hyperwatch/venue"
)

// Tag vocabulary (closed).
const (
	TagWhale         = "whale"
	TagLarge         = "large"
	TagElite         = "elite"
	TagTopPerformer  = "top_performer"
	TagConsistent    = "consistent"
	TagHighPerformer = "high_performer"
	TagHighVolume    = "high_volume"
	TagMediumVolume  = "medium_volume"
)

// Tag score thresholds.
const (
	topPerformerScore = 80.0
	eliteScore        = 90.0
	highPerformerROI  = 1.0 // all-time ROI >= 100%
	highVolumeUSD     = 100_000_000.0
	mediumVolumeUSD   = 10_000_000.0
)

// ScoredTrader is one leaderboard row with its computed score and tags.
type ScoredTrader struct {
	venue.LeaderboardRow
	Score float64
	Tags  []string
}

// Score computes the additive composite score of one leaderboard row.
// Every multiplier and tier comes from config; the result is clamped at 0.
func Score(row venue.LeaderboardRow, cfg config.ScoringConfig) float64 {
	score := 0.0
	score += row.Windows[venue.WindowAllTime].ROI * cfg.ROIMultipliers.AllTime
	score += row.Windows[venue.WindowMonth].ROI * cfg.ROIMultipliers.Month
	score += row.Windows[venue.WindowWeek].ROI * cfg.ROIMultipliers.Week

	score += stepPoints(row.AccountValue, cfg.AccountValueThresholds, cfg.AccountValuePoints)
	score += stepPoints(row.Windows[venue.WindowMonth].Vlm, cfg.VolumeThresholds, cfg.VolumePoints)

	if allWindowsPositive(row, venue.WindowDay, venue.WindowWeek, venue.WindowMonth, venue.WindowAllTime) {
		score += cfg.ConsistencyBonus
	}

	if score < 0 {
		score = 0
	}
	return score
}

// Tags derives the closed tag vocabulary from a row and its score.
// The output order is fixed so the tag set is deterministic.
func Tags(row venue.LeaderboardRow, score float64, cfg config.ScoringConfig) []string {
	var tags []string
	if row.AccountValue >= cfg.Tags.WhaleThreshold {
		tags = append(tags, TagWhale)
	}
	if row.AccountValue >= cfg.Tags.LargeThreshold {
		tags = append(tags, TagLarge)
	}
	if score >= eliteScore {
		tags = append(tags, TagElite)
	}
	if score >= topPerformerScore {
		tags = append(tags, TagTopPerformer)
	}
	if allWindowsPositive(row, venue.WindowDay, venue.WindowWeek, venue.WindowMonth) {
		tags = append(tags, TagConsistent)
	}
	if row.Windows[venue.WindowAllTime].ROI >= highPerformerROI {
		tags = append(tags, TagHighPerformer)
	}
	if vlm := row.Windows[venue.WindowMonth].Vlm; vlm >= highVolumeUSD {
		tags = append(tags, TagHighVolume)
	} else if vlm >= mediumVolumeUSD {
		tags = append(tags, TagMediumVolume)
	}
	return tags
}

// Qualify scores all rows, applies the filters, and returns the qualifying
// set sorted by score descending (address ascending tiebreak) clamped to
// max_count. The result is a deterministic function of the inputs: row
// order does not matter.
func Qualify(rows []venue.LeaderboardRow, cfg config.ScoringConfig) []ScoredTrader {
	excludedAddrs := make(map[string]bool, len(cfg.ExcludeAddrs))
	for _, a := range cfg.ExcludeAddrs {
		excludedAddrs[strings.ToLower(a)] = true
	}
	excludedTags := make(map[string]bool, len(cfg.ExcludeTags))
	for _, t := range cfg.ExcludeTags {
		excludedTags[t] = true
	}

	qualifying := make([]ScoredTrader, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		addr := strings.ToLower(row.Address)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true

		if excludedAddrs[addr] {
			continue
		}

		score := Score(row, cfg)
		if score < cfg.MinScore {
			continue
		}
		if row.AccountValue < cfg.MinAccountValue {
			continue
		}
		if !positiveWindows(row, cfg.RequirePositive) {
			continue
		}

		tags := Tags(row, score, cfg)
		if hasAny(tags, excludedTags) {
			continue
		}

		row.Address = addr
		qualifying = append(qualifying, ScoredTrader{LeaderboardRow: row, Score: score, Tags: tags})
	}

	sort.Slice(qualifying, func(i, j int) bool {
		if qualifying[i].Score != qualifying[j].Score {
			return qualifying[i].Score > qualifying[j].Score
		}
		return qualifying[i].Address < qualifying[j].Address
	})

	if len(qualifying) > cfg.MaxCount {
		qualifying = qualifying[:cfg.MaxCount]
	}
	return qualifying
}

func stepPoints(value float64, thresholds, points []float64) float64 {
	for i, th := range thresholds {
		if value >= th {
			return points[i]
		}
	}
	return 0
}

func allWindowsPositive(row venue.LeaderboardRow, windows ...string) bool {
	for _, w := range windows {
		if row.Windows[w].ROI <= 0 {
			return false
		}
	}
	return true
}

func positiveWindows(row venue.LeaderboardRow, windows []string) bool {
	for _, w := range windows {
		if row.Windows[w].ROI <= 0 {
			return false
		}
	}
	return true
}

func hasAny(tags []string, excluded map[string]bool) bool {
	if len(excluded) == 0 {
		return false
	}
	for _, t := range tags {
		if excluded[t] {
			return true
		}
	}
	return false
}
