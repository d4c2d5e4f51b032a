package database

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Short field names are the on-disk convention and are wire-compatible
// with the pub/sub payloads.

// WindowPerfDoc is a {pnl, roi, vlm} triple for one leaderboard window.
type WindowPerfDoc struct {
	PnL float64 `bson:"pnl" json:"pnl"`
	ROI float64 `bson:"roi" json:"roi"`
	Vlm float64 `bson:"vlm" json:"vlm"`
}

// TrackedTraderDoc is one row of the tracked_traders collection,
// unique-keyed by eth.
type TrackedTraderDoc struct {
	Eth          string                   `bson:"eth" json:"eth"`
	DisplayName  string                   `bson:"name,omitempty" json:"name,omitempty"`
	Score        float64                  `bson:"score" json:"score"`
	Tags         []string                 `bson:"tags" json:"tags"`
	Active       bool                     `bson:"active" json:"active"`
	AccountValue float64                  `bson:"acct" json:"acct"`
	Windows      map[string]WindowPerfDoc `bson:"windows" json:"windows"`
	AddedAt      time.Time                `bson:"added_at" json:"added_at"`
	UpdatedAt    time.Time                `bson:"updated_at" json:"updated_at"`
}

// PositionDoc is one row of trader_positions, keyed by (eth, coin, t).
type PositionDoc struct {
	Eth      string    `bson:"eth" json:"eth"`
	Coin     string    `bson:"coin" json:"coin"`
	T        time.Time `bson:"t" json:"t"`
	Szi      float64   `bson:"szi" json:"szi"`
	EntryPx  float64   `bson:"ep" json:"ep"`
	MarkPx   float64   `bson:"mp" json:"mp"`
	Upnl     float64   `bson:"upnl" json:"upnl"`
	Leverage int       `bson:"lev" json:"lev"`
	LiqPx    float64   `bson:"liq,omitempty" json:"liq,omitempty"`
	Value    float64   `bson:"pv" json:"pv"`
}

// ScoreDoc is one row of trader_scores, keyed by (eth, t).
type ScoreDoc struct {
	Eth          string    `bson:"eth" json:"eth"`
	T            time.Time `bson:"t" json:"t"`
	Score        float64   `bson:"score" json:"score"`
	Tags         []string  `bson:"tags" json:"tags"`
	AccountValue float64   `bson:"acct" json:"acct"`
}

// CandleDoc is one row of a {symbol}_candles_{interval} collection,
// keyed by t (bucket-start).
type CandleDoc struct {
	T      time.Time `bson:"t" json:"t"`
	Open   float64   `bson:"o" json:"o"`
	High   float64   `bson:"h" json:"h"`
	Low    float64   `bson:"l" json:"l"`
	Close  float64   `bson:"c" json:"c"`
	Volume float64   `bson:"v" json:"v"`
}

// LeaderboardHistoryDoc is one archived leaderboard refresh, keyed by t.
type LeaderboardHistoryDoc struct {
	T        time.Time `bson:"t" json:"t"`
	RowCount int       `bson:"rows" json:"rows"`
	Tracked  int       `bson:"tracked" json:"tracked"`
	Added    int       `bson:"added" json:"added"`
	Removed  int       `bson:"removed" json:"removed"`
}

// ToBSON converts any JSON-tagged payload into a bson.M, preserving the
// short wire field names exactly as persisted document fields.
func ToBSON(v interface{}) (bson.M, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var m bson.M
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return m, nil
}
