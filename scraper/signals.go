package scraper

import (
	"context"
	"log"

	"hyperwatch/database/signals"
	"hyperwatch/events"
)

// SignalSink subscribes to signals.out and persists aggregate signals and
// whale alerts. The signal system keeps no store of its own; this sink is
// the durable record.
type SignalSink struct {
	bus  events.Bus
	repo *signals.Repository
}

// NewSignalSink creates the sink.
func NewSignalSink(bus events.Bus, repo *signals.Repository) *SignalSink {
	return &SignalSink{bus: bus, repo: repo}
}

// Run subscribes and persists until ctx is cancelled. Writes are keyed
// upserts, so at-least-once delivery never duplicates rows.
func (s *SignalSink) Run(ctx context.Context) error {
	sub, err := s.bus.Subscribe(ctx, events.ChannelSignalsOut)
	if err != nil {
		return err
	}
	defer sub.Close()

	log.Println("📡 Signal sink subscribed to signals.out")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Events():
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Event)
		}
	}
}

func (s *SignalSink) handle(ctx context.Context, env events.Envelope) {
	switch env.Type {
	case events.TypeAggregateSignal:
		var sig events.AggregateSignal
		if err := env.Decode(events.TypeAggregateSignal, &sig); err != nil {
			log.Printf("⚠️  Decode aggregate signal: %v", err)
			return
		}
		if err := s.repo.SaveAggregateSignal(ctx, sig); err != nil {
			log.Printf("⚠️  Persist aggregate signal %s: %v", sig.Symbol, err)
		}

	case events.TypeWhaleAlert:
		var alert events.WhaleAlert
		if err := env.Decode(events.TypeWhaleAlert, &alert); err != nil {
			log.Printf("⚠️  Decode whale alert: %v", err)
			return
		}
		if err := s.repo.SaveWhaleAlert(ctx, alert); err != nil {
			log.Printf("⚠️  Persist whale alert %s: %v", alert.Address, err)
		}

	default:
		// Other event types on this channel are not persisted here.
	}
}
