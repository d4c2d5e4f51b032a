package venue

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Hyperliquid sends every numeric field as a decimal string. Values are
// parsed with shopspring/decimal and carried as float64 internally.

// Window names used by the leaderboard.
const (
	WindowDay     = "day"
	WindowWeek    = "week"
	WindowMonth   = "month"
	WindowAllTime = "allTime"
)

// Intervals is the fixed candle interval set.
var Intervals = []string{"1m", "5m", "15m", "1h", "4h", "1d"}

// WindowPerf is a {pnl, roi, vlm} triple bound to one leaderboard window.
type WindowPerf struct {
	PnL float64
	ROI float64
	Vlm float64
}

// LeaderboardRow is one entry of the periodically fetched leaderboard.
type LeaderboardRow struct {
	Address      string
	DisplayName  string
	AccountValue float64
	Prize        float64
	Windows      map[string]WindowPerf
}

// Position is one open perp position from a webData2 snapshot.
// Mark price is derived as positionValue/|szi| since webData2 reports the
// position's current notional at mark.
type Position struct {
	Coin          string
	Szi           float64 // signed size: >0 long, <0 short, 0 flat
	EntryPx       float64
	MarkPx        float64
	PositionValue float64
	UnrealizedPnl float64
	Leverage      int
	LiquidationPx float64 // 0 when the venue reports none
}

// Candle is one OHLCV bucket. OpenTime is the bucket-start in epoch millis,
// aligned to the interval.
type Candle struct {
	Symbol   string
	Interval string
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Trades   int
}

// Fill is one user fill from the userFills info endpoint.
type Fill struct {
	Coin      string
	Px        float64
	Sz        float64
	Side      string
	Time      int64
	ClosedPnl float64
}

func parseDec(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

type rawWindowPerf struct {
	PnL string `json:"pnl"`
	ROI string `json:"roi"`
	Vlm string `json:"vlm"`
}

type rawLeaderboardRow struct {
	EthAddress         string            `json:"ethAddress"`
	AccountValue       string            `json:"accountValue"`
	WindowPerformances []json.RawMessage `json:"windowPerformances"`
	Prize              float64           `json:"prize"`
	DisplayName        *string           `json:"displayName"`
}

type rawLeaderboard struct {
	LeaderboardRows []rawLeaderboardRow `json:"leaderboardRows"`
}

// ParseLeaderboard decodes the CloudFront leaderboard payload
// {leaderboardRows: [...]}. windowPerformances arrives as pairs
// [["day", {pnl, roi, vlm}], ...].
func ParseLeaderboard(data []byte) ([]LeaderboardRow, error) {
	var raw rawLeaderboard
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse leaderboard: %w", err)
	}

	rows := make([]LeaderboardRow, 0, len(raw.LeaderboardRows))
	for _, r := range raw.LeaderboardRows {
		acct, err := parseDec(r.AccountValue)
		if err != nil {
			return nil, fmt.Errorf("leaderboard row %s: %w", r.EthAddress, err)
		}

		row := LeaderboardRow{
			Address:      r.EthAddress,
			AccountValue: acct,
			Prize:        r.Prize,
			Windows:      make(map[string]WindowPerf, len(r.WindowPerformances)),
		}
		if r.DisplayName != nil {
			row.DisplayName = *r.DisplayName
		}

		for _, pairRaw := range r.WindowPerformances {
			var pair [2]json.RawMessage
			if err := json.Unmarshal(pairRaw, &pair); err != nil {
				return nil, fmt.Errorf("leaderboard row %s: window pair: %w", r.EthAddress, err)
			}
			var name string
			if err := json.Unmarshal(pair[0], &name); err != nil {
				return nil, fmt.Errorf("leaderboard row %s: window name: %w", r.EthAddress, err)
			}
			var rp rawWindowPerf
			if err := json.Unmarshal(pair[1], &rp); err != nil {
				return nil, fmt.Errorf("leaderboard row %s: window %s: %w", r.EthAddress, name, err)
			}

			var wp WindowPerf
			if wp.PnL, err = parseDec(rp.PnL); err != nil {
				return nil, err
			}
			if wp.ROI, err = parseDec(rp.ROI); err != nil {
				return nil, err
			}
			if wp.Vlm, err = parseDec(rp.Vlm); err != nil {
				return nil, err
			}
			row.Windows[name] = wp
		}

		rows = append(rows, row)
	}
	return rows, nil
}

type rawLeverage struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

type rawPosition struct {
	Coin          string      `json:"coin"`
	Szi           string      `json:"szi"`
	EntryPx       *string     `json:"entryPx"`
	PositionValue string      `json:"positionValue"`
	UnrealizedPnl string      `json:"unrealizedPnl"`
	Leverage      rawLeverage `json:"leverage"`
	LiquidationPx *string     `json:"liquidationPx"`
}

type rawAssetPosition struct {
	Type     string      `json:"type"`
	Position rawPosition `json:"position"`
}

type rawClearinghouseState struct {
	AssetPositions []rawAssetPosition `json:"assetPositions"`
	MarginSummary  struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	Time int64 `json:"time"`
}

type rawWebData2 struct {
	User               string                `json:"user"`
	ClearinghouseState rawClearinghouseState `json:"clearinghouseState"`
}

// UserSnapshot is the decoded form of one webData2 frame: the complete set
// of open positions for one trader.
type UserSnapshot struct {
	User         string
	AccountValue float64
	Time         int64
	Positions    []Position
}

// ParseWebData2 decodes a webData2 subscription payload into a UserSnapshot.
func ParseWebData2(data []byte) (*UserSnapshot, error) {
	var raw rawWebData2
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse webData2: %w", err)
	}

	snap := &UserSnapshot{
		User: raw.User,
		Time: raw.ClearinghouseState.Time,
	}
	var err error
	if snap.AccountValue, err = parseDec(raw.ClearinghouseState.MarginSummary.AccountValue); err != nil {
		return nil, err
	}

	for _, ap := range raw.ClearinghouseState.AssetPositions {
		rp := ap.Position
		p := Position{Coin: rp.Coin, Leverage: rp.Leverage.Value}
		if p.Szi, err = parseDec(rp.Szi); err != nil {
			return nil, err
		}
		if rp.EntryPx != nil {
			if p.EntryPx, err = parseDec(*rp.EntryPx); err != nil {
				return nil, err
			}
		}
		if p.PositionValue, err = parseDec(rp.PositionValue); err != nil {
			return nil, err
		}
		if p.UnrealizedPnl, err = parseDec(rp.UnrealizedPnl); err != nil {
			return nil, err
		}
		if rp.LiquidationPx != nil {
			if p.LiquidationPx, err = parseDec(*rp.LiquidationPx); err != nil {
				return nil, err
			}
		}
		if p.Szi != 0 {
			p.MarkPx = p.PositionValue / abs(p.Szi)
		}
		snap.Positions = append(snap.Positions, p)
	}
	return snap, nil
}

type rawCandle struct {
	T int64  `json:"t"` // bucket open millis
	T2 int64 `json:"T"` // bucket close millis
	S string `json:"s"` // coin
	I string `json:"i"` // interval
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
	V string `json:"v"`
	N int    `json:"n"` // trade count
}

// ParseCandle decodes one candle frame.
func ParseCandle(data []byte) (*Candle, error) {
	var raw rawCandle
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse candle: %w", err)
	}
	c := &Candle{
		Symbol:   raw.S,
		Interval: raw.I,
		OpenTime: raw.T,
		Trades:   raw.N,
	}
	var err error
	if c.Open, err = parseDec(raw.O); err != nil {
		return nil, err
	}
	if c.High, err = parseDec(raw.H); err != nil {
		return nil, err
	}
	if c.Low, err = parseDec(raw.L); err != nil {
		return nil, err
	}
	if c.Close, err = parseDec(raw.C); err != nil {
		return nil, err
	}
	if c.Volume, err = parseDec(raw.V); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseCandles decodes a candleSnapshot response (a JSON array of candles).
func ParseCandles(data []byte) ([]Candle, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parse candle snapshot: %w", err)
	}
	candles := make([]Candle, 0, len(raws))
	for _, r := range raws {
		c, err := ParseCandle(r)
		if err != nil {
			return nil, err
		}
		candles = append(candles, *c)
	}
	return candles, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
