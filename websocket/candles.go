package websocket

import (
	"context"
	"fmt"
	"log"
	"time"

	"hyperwatch/venue"
)

const candleBuffer = 1024

// CandleManager subscribes to every interval's candle stream for one
// symbol and emits bucket updates. Same reconnect discipline as the
// position manager.
type CandleManager struct {
	wsURL     string
	symbol    string
	intervals []string
	candles   chan *venue.Candle
}

// NewCandleManager creates a manager for the configured symbol across the
// fixed interval set.
func NewCandleManager(wsURL, symbol string) *CandleManager {
	return &CandleManager{
		wsURL:     wsURL,
		symbol:    symbol,
		intervals: venue.Intervals,
		candles:   make(chan *venue.Candle, candleBuffer),
	}
}

// Candles returns the decoded candle stream.
func (m *CandleManager) Candles() <-chan *venue.Candle { return m.candles }

// Run connects and maintains the candle subscriptions with auto-reconnect.
// Blocks until ctx is cancelled.
func (m *CandleManager) Run(ctx context.Context) {
	attempt := 0
	for {
		connected, err := m.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		// A drop after a healthy session restarts from the base delay.
		if connected {
			attempt = 0
		}
		delay := jitterBackoff(attempt)
		attempt++
		log.Printf("🔄 Candle WS disconnected (%v), reconnecting in %v...", err, delay.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndRead dials, subscribes every interval and drains frames until
// the connection fails. The bool reports whether the subscriptions
// completed, so the caller can reset its backoff.
func (m *CandleManager) connectAndRead(ctx context.Context) (bool, error) {
	client := NewClient(m.wsURL)
	if err := client.Connect(ctx); err != nil {
		return false, err
	}
	defer client.Close()

	for _, interval := range m.intervals {
		sub := Subscription{Type: "candle", Coin: m.symbol, Interval: interval}
		if err := client.Subscribe(sub); err != nil {
			return false, fmt.Errorf("subscribe candle %s/%s: %w", m.symbol, interval, err)
		}
	}

	client.StartPing()
	log.Printf("✅ Candle WS connected for %s (%d intervals)", m.symbol, len(m.intervals))

	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		frame, err := client.ReadFrame()
		if err != nil {
			return true, err
		}
		if frame.Channel != "candle" {
			continue
		}

		candle, err := venue.ParseCandle(frame.Data)
		if err != nil {
			log.Printf("⚠️  Dropping malformed candle frame: %v", err)
			continue
		}
		select {
		case m.candles <- candle:
		default:
			select {
			case <-m.candles:
			default:
			}
			select {
			case m.candles <- candle:
			default:
			}
		}
	}
}
