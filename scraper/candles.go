package scraper

import (
	"context"
	"log"
	"time"

	"hyperwatch/database"
	"hyperwatch/database/candles"
	"hyperwatch/events"
	"hyperwatch/venue"
	"hyperwatch/websocket"
)

// backfillSpan bounds the historical window requested per interval at
// startup. Anything older is already in the store or past retention.
const backfillSpan = 24 * time.Hour

// CandlePipeline consumes live candle buckets, upserts them keyed by
// bucket-start, and republishes them for the signal side's regime detector.
type CandlePipeline struct {
	mgr    *websocket.CandleManager
	client *venue.Client
	repo   *candles.Repository
	bus    events.Bus
	symbol string
}

// NewCandlePipeline creates the pipeline.
func NewCandlePipeline(mgr *websocket.CandleManager, client *venue.Client, repo *candles.Repository, bus events.Bus, symbol string) *CandlePipeline {
	return &CandlePipeline{mgr: mgr, client: client, repo: repo, bus: bus, symbol: symbol}
}

// Backfill loads the recent history for every interval over REST so the
// store has context before the live stream takes over. Best effort: a
// failed interval logs and moves on.
func (p *CandlePipeline) Backfill(ctx context.Context) {
	end := time.Now().UnixMilli()
	start := time.Now().Add(-backfillSpan).UnixMilli()

	for _, interval := range venue.Intervals {
		cs, err := p.client.CandleSnapshot(ctx, p.symbol, interval, start, end)
		if err != nil {
			log.Printf("⚠️  Candle backfill %s/%s: %v", p.symbol, interval, err)
			continue
		}
		for _, c := range cs {
			if err := p.store(ctx, &c); err != nil {
				log.Printf("⚠️  Candle backfill store %s/%s: %v", p.symbol, interval, err)
				break
			}
		}
		log.Printf("✅ Backfilled %d %s candles for %s", len(cs), interval, p.symbol)
	}
}

// Run drains the live candle stream until ctx is cancelled.
func (p *CandlePipeline) Run(ctx context.Context) {
	log.Println("📡 Candle pipeline started")
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-p.mgr.Candles():
			if !ok {
				return
			}
			p.process(ctx, c)
		}
	}
}

func (p *CandlePipeline) process(ctx context.Context, c *venue.Candle) {
	if err := p.store(ctx, c); err != nil {
		log.Printf("⚠️  Persist candle %s/%s: %v", c.Symbol, c.Interval, err)
	}

	update := events.CandleUpdate{
		Symbol:   c.Symbol,
		Interval: c.Interval,
		T:        c.OpenTime,
		Open:     c.Open,
		High:     c.High,
		Low:      c.Low,
		Close:    c.Close,
		Volume:   c.Volume,
	}
	env, err := events.NewEnvelope(events.TypeCandle, update)
	if err != nil {
		log.Printf("⚠️  Envelope candle: %v", err)
		return
	}
	if err := p.bus.Publish(ctx, events.ChannelCandles, env); err != nil {
		log.Printf("⚠️  Publish candle: %v", err)
	}
}

// store upserts one bucket. Intra-bucket updates overwrite the prior row,
// so replays converge on the final OHLCV for the bucket.
func (p *CandlePipeline) store(ctx context.Context, c *venue.Candle) error {
	doc := database.CandleDoc{
		T:      time.UnixMilli(c.OpenTime).UTC(),
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
	return p.repo.Upsert(ctx, c.Interval, doc)
}
