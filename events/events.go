// Package events defines the inter-service event envelope, the wire
// payloads, and the pub/sub bus. The on-wire format is JSON with an
// event_type discriminator over a closed enumeration; short field names
// are the wire convention and must be preserved.
package events

import (
	"encoding/json"
	"fmt"
)

// Pub/sub channel names (flat namespace).
const (
	ChannelPositionsRaw    = "positions.raw"
	ChannelPositionsScored = "positions.scored"
	ChannelCandles         = "candles"
	ChannelSignalsOut      = "signals.out"
)

// Type discriminates event payloads.
type Type string

const (
	TypePositionRaw     Type = "position_raw"
	TypePositionScored  Type = "position_scored"
	TypeCandle          Type = "candle"
	TypeAggregateSignal Type = "aggregate_signal"
	TypeWhaleAlert      Type = "whale_alert"
)

// Envelope is the tagged wire envelope carried on every channel.
type Envelope struct {
	Type    Type            `json:"event_type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload value under its event type.
func NewEnvelope(t Type, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Envelope{Type: t, Payload: raw}, nil
}

// Decode unmarshals the payload into dest, checking the discriminator.
func (e *Envelope) Decode(want Type, dest interface{}) error {
	if e.Type != want {
		return fmt.Errorf("event type mismatch: have %s, want %s", e.Type, want)
	}
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// WindowROI carries the per-window ROIs a consumer needs to weight a trader.
type WindowROI struct {
	Day     float64 `json:"day"`
	Week    float64 `json:"week"`
	Month   float64 `json:"month"`
	AllTime float64 `json:"allTime"`
}

// PositionRaw is one persisted position snapshot on positions.raw.
type PositionRaw struct {
	Address  string  `json:"address"`
	Coin     string  `json:"coin"`
	Szi      float64 `json:"szi"`
	EntryPx  float64 `json:"ep"`
	MarkPx   float64 `json:"mp"`
	Upnl     float64 `json:"upnl"`
	Leverage int     `json:"lev"`
	T        int64   `json:"t"` // receipt wall clock, epoch millis
}

// PositionScored is PositionRaw enriched with the trader's current score,
// tags and leaderboard stats at emission time.
type PositionScored struct {
	PositionRaw
	Score         float64   `json:"score"`
	Tags          []string  `json:"tags"`
	AccountValue  float64   `json:"acct"`
	PositionValue float64   `json:"pv"`
	ROI           WindowROI `json:"roi"`
}

// CandleUpdate is one OHLCV bucket update on the candles channel.
type CandleUpdate struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	T        int64   `json:"t"` // bucket-start, epoch millis
	Open     float64 `json:"o"`
	High     float64 `json:"h"`
	Low      float64 `json:"l"`
	Close    float64 `json:"c"`
	Volume   float64 `json:"v"`
}

// Recommendation values.
const (
	RecBuy     = "BUY"
	RecSell    = "SELL"
	RecNeutral = "NEUTRAL"
)

// DirectionCounts counts traders by position direction.
type DirectionCounts struct {
	Long  int `json:"long"`
	Short int `json:"short"`
	Flat  int `json:"flat"`
}

// TopPosition is one entry of the aggregate signal's top positions list.
type TopPosition struct {
	Address   string  `json:"address"`
	Direction string  `json:"dir"`
	Szi       float64 `json:"szi"`
	Value     float64 `json:"pv"`
	Composite float64 `json:"w"`
	Tier      string  `json:"tier"`
}

// AggregateSignal is the per-symbol composite signal on signals.out.
type AggregateSignal struct {
	Symbol         string                    `json:"symbol"`
	T              int64                     `json:"t"`
	Recommendation string                    `json:"rec"`
	Confidence     float64                   `json:"conf"`
	LongBias       float64                   `json:"long_bias"`
	ShortBias      float64                   `json:"short_bias"`
	NetExposure    float64                   `json:"net_exposure"`
	Counts         DirectionCounts           `json:"counts"`
	WhaleBreakdown map[string]map[string]int `json:"whale_breakdown"` // tier -> direction -> count
	TopPositions   []TopPosition             `json:"top_positions"`
	Price          float64                   `json:"price"`
}

// Whale alert priorities.
const (
	PriorityCritical = "CRITICAL"
	PriorityHigh     = "HIGH"
	PriorityMedium   = "MEDIUM"
	PriorityLow      = "LOW"
)

// Whale alert change types.
const (
	ChangeReversal   = "REVERSAL"
	ChangeEntry      = "ENTRY"
	ChangeExit       = "EXIT"
	ChangeSizeChange = "SIZE_CHANGE"
)

// MarketContext is the whale-direction context attached to an alert.
type MarketContext struct {
	WhaleBias   float64 `json:"whale_bias"` // (whales_long - whales_short) / total_whales
	WhalesLong  int     `json:"whales_long"`
	WhalesShort int     `json:"whales_short"`
	TotalWhales int     `json:"total_whales"`
}

// WhaleAlert is one whale position change on signals.out.
type WhaleAlert struct {
	Address        string        `json:"address"`
	Coin           string        `json:"coin"`
	T              int64         `json:"t"`
	Priority       string        `json:"priority"`
	ChangeType     string        `json:"change_type"`
	Tier           string        `json:"tier"`
	PrevDirection  string        `json:"previous_direction"`
	CurrDirection  string        `json:"current_direction"`
	PrevSize       float64       `json:"previous_size"`
	CurrSize       float64       `json:"current_size"`
	AccountValue   float64       `json:"acct"`
	Score          float64       `json:"score"`
	MarketContext  MarketContext `json:"market_context"`
	Recommendation string        `json:"rec"`
}

// Direction labels shared by signals and alerts.
const (
	DirLong    = "LONG"
	DirShort   = "SHORT"
	DirNeutral = "NEUTRAL"
)

// DirectionOf maps a signed size to its direction label.
func DirectionOf(szi float64) string {
	switch {
	case szi > 0:
		return DirLong
	case szi < 0:
		return DirShort
	default:
		return DirNeutral
	}
}
