package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"hyperwatch/api"
	"hyperwatch/events"
)

const (
	bootstrapTimeout     = 30 * time.Second
	bootstrapBackoffBase = 1 * time.Second
	bootstrapBackoffCap  = 30 * time.Second
)

// Bootstrapper pulls the scraper's snapshot so the signal system catches
// up with state produced before it subscribed. Until a snapshot succeeds
// the aggregator stays in the warming state (NEUTRAL, confidence 0).
type Bootstrapper struct {
	http   *resty.Client
	agg    *Aggregator
	alerts *AlertDetector
}

// NewBootstrapper creates a bootstrapper against the scraper base URL.
func NewBootstrapper(scraperURL string, agg *Aggregator, alerts *AlertDetector) *Bootstrapper {
	client := resty.New().
		SetBaseURL(scraperURL).
		SetTimeout(bootstrapTimeout)
	return &Bootstrapper{http: client, agg: agg, alerts: alerts}
}

// Run retries the snapshot with capped backoff until it succeeds or ctx
// is cancelled. The event subscription must already be live when this is
// called, so no update is lost between snapshot and stream.
func (b *Bootstrapper) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := b.snapshot(ctx)
		if err == nil {
			b.agg.SetWarming(ctx, false)
			log.Println("✅ Bootstrap snapshot applied, warming cleared")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := bootstrapBackoff(attempt)
		attempt++
		log.Printf("⚠️  Bootstrap snapshot failed (%v), retrying in %v", err, delay.Round(time.Millisecond))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (b *Bootstrapper) snapshot(ctx context.Context) error {
	resp, err := b.http.R().SetContext(ctx).Get("/api/snapshot")
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("fetch snapshot: status %d", resp.StatusCode())
	}

	var snap api.SnapshotResponse
	if err := json.Unmarshal(resp.Body(), &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	if snap.Price > 0 {
		b.agg.SetPrice(snap.Price)
	}

	seeded := 0
	for _, tr := range snap.Traders {
		for _, pos := range tr.Positions {
			ev := events.PositionScored{
				PositionRaw:   pos,
				Score:         tr.Score,
				Tags:          tr.Tags,
				AccountValue:  tr.AccountValue,
				PositionValue: pos.MarkPx * abs(pos.Szi),
				ROI:           tr.ROI,
			}
			b.agg.Seed(ev)
			b.alerts.Seed(ev)
			seeded++
		}
	}
	log.Printf("✅ Bootstrap: %d traders, %d positions seeded", len(snap.Traders), seeded)
	return nil
}

func bootstrapBackoff(attempt int) time.Duration {
	max := bootstrapBackoffBase << uint(attempt)
	if max > bootstrapBackoffCap || max <= 0 {
		max = bootstrapBackoffCap
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}
