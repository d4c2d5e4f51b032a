// Package venue implements the Hyperliquid HTTP client and wire formats.
//
// Two outbound surfaces:
//   - POST /info with {type: <kind>, ...} — recognized kinds are
//     candleSnapshot, userFills and metaAndAssetCtxs.
//   - The CloudFront leaderboard URL returning {leaderboardRows: [...]}.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const requestTimeout = 30 * time.Second

// Client is the Hyperliquid REST client. Requests are retried on 5xx.
type Client struct {
	http           *resty.Client
	leaderboardURL string
}

// NewClient creates a REST client against the given API base URL.
func NewClient(apiURL, leaderboardURL string) *Client {
	httpClient := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(requestTimeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient, leaderboardURL: leaderboardURL}
}

// info posts one /info request and returns the raw response body.
func (c *Client) info(ctx context.Context, body map[string]interface{}) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/info")
	if err != nil {
		return nil, fmt.Errorf("info %v: %w", body["type"], err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("info %v: status %d: %s", body["type"], resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}

// FetchLeaderboard downloads and parses the current leaderboard.
func (c *Client) FetchLeaderboard(ctx context.Context) ([]LeaderboardRow, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.leaderboardURL)
	if err != nil {
		return nil, fmt.Errorf("fetch leaderboard: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch leaderboard: status %d", resp.StatusCode())
	}
	return ParseLeaderboard(resp.Body())
}

// CandleSnapshot fetches historical candles for one coin and interval.
// Times are epoch millis.
func (c *Client) CandleSnapshot(ctx context.Context, coin, interval string, startMs, endMs int64) ([]Candle, error) {
	body, err := c.info(ctx, map[string]interface{}{
		"type": "candleSnapshot",
		"req": map[string]interface{}{
			"coin":      coin,
			"interval":  interval,
			"startTime": startMs,
			"endTime":   endMs,
		},
	})
	if err != nil {
		return nil, err
	}
	return ParseCandles(body)
}

// UserFills fetches recent fills for one account.
func (c *Client) UserFills(ctx context.Context, user string) ([]Fill, error) {
	body, err := c.info(ctx, map[string]interface{}{
		"type": "userFills",
		"user": user,
	})
	if err != nil {
		return nil, err
	}

	var raws []struct {
		Coin      string `json:"coin"`
		Px        string `json:"px"`
		Sz        string `json:"sz"`
		Side      string `json:"side"`
		Time      int64  `json:"time"`
		ClosedPnl string `json:"closedPnl"`
	}
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("parse userFills: %w", err)
	}

	fills := make([]Fill, 0, len(raws))
	for _, r := range raws {
		f := Fill{Coin: r.Coin, Side: r.Side, Time: r.Time}
		if f.Px, err = parseDec(r.Px); err != nil {
			return nil, err
		}
		if f.Sz, err = parseDec(r.Sz); err != nil {
			return nil, err
		}
		if f.ClosedPnl, err = parseDec(r.ClosedPnl); err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, nil
}

// MarkPrices fetches metaAndAssetCtxs and returns mark price per coin.
func (c *Client) MarkPrices(ctx context.Context) (map[string]float64, error) {
	body, err := c.info(ctx, map[string]interface{}{"type": "metaAndAssetCtxs"})
	if err != nil {
		return nil, err
	}

	// Response is a two-element array: [meta, assetCtxs]. The universe in
	// meta fixes the coin order of assetCtxs.
	var parts [2]json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, fmt.Errorf("parse metaAndAssetCtxs: %w", err)
	}

	var meta struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return nil, fmt.Errorf("parse meta: %w", err)
	}

	var ctxs []struct {
		MarkPx string `json:"markPx"`
	}
	if err := json.Unmarshal(parts[1], &ctxs); err != nil {
		return nil, fmt.Errorf("parse assetCtxs: %w", err)
	}

	prices := make(map[string]float64, len(ctxs))
	for i, a := range ctxs {
		if i >= len(meta.Universe) {
			break
		}
		px, err := parseDec(a.MarkPx)
		if err != nil {
			return nil, err
		}
		prices[meta.Universe[i].Name] = px
	}
	return prices, nil
}
