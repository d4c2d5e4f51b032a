package events

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	subA, err := bus.Subscribe(ctx, ChannelPositionsScored)
	if err != nil {
		t.Fatalf("subscribe A: %v", err)
	}
	subB, err := bus.Subscribe(ctx, ChannelPositionsScored, ChannelCandles)
	if err != nil {
		t.Fatalf("subscribe B: %v", err)
	}

	env, err := NewEnvelope(TypePositionScored, PositionScored{
		PositionRaw: PositionRaw{Address: "0xa", Coin: "BTC", Szi: 1},
	})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := bus.Publish(ctx, ChannelPositionsScored, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for name, sub := range map[string]*Subscription{"A": subA, "B": subB} {
		select {
		case msg := <-sub.Events():
			if msg.Channel != ChannelPositionsScored {
				t.Errorf("subscriber %s: wrong channel %s", name, msg.Channel)
			}
			var got PositionScored
			if err := msg.Event.Decode(TypePositionScored, &got); err != nil {
				t.Errorf("subscriber %s: decode: %v", name, err)
			}
			if got.Address != "0xa" {
				t.Errorf("subscriber %s: wrong payload %+v", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: no delivery", name)
		}
	}
}

func TestMemoryBusChannelIsolation(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, ChannelCandles)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	env, _ := NewEnvelope(TypePositionRaw, PositionRaw{Address: "0xa"})
	if err := bus.Publish(ctx, ChannelPositionsRaw, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Events():
		t.Errorf("unexpected delivery on %s", msg.Channel)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionDropOldest(t *testing.T) {
	sub := &Subscription{ch: make(chan Message, 2)}

	for i := 0; i < 5; i++ {
		env, _ := NewEnvelope(TypeCandle, CandleUpdate{T: int64(i)})
		sub.push(Message{Channel: ChannelCandles, Event: *env})
	}

	if got := sub.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped, got %d", got)
	}

	// The queue converges on the most recent events.
	var last CandleUpdate
	for len(sub.ch) > 0 {
		msg := <-sub.ch
		if err := msg.Event.Decode(TypeCandle, &last); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	if last.T != 4 {
		t.Errorf("expected newest event last (t=4), got t=%d", last.T)
	}
}

func TestEnvelopeDecodeTypeMismatch(t *testing.T) {
	env, err := NewEnvelope(TypeCandle, CandleUpdate{Symbol: "BTC"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	var dest PositionRaw
	if err := env.Decode(TypePositionRaw, &dest); err == nil {
		t.Error("expected type mismatch error")
	}
}

func TestMemoryBusClose(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	if _, err := bus.Subscribe(ctx, ChannelCandles); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	env, _ := NewEnvelope(TypeCandle, CandleUpdate{})
	if err := bus.Publish(ctx, ChannelCandles, env); err == nil {
		t.Error("expected publish error after close")
	}
	if _, err := bus.Subscribe(ctx, ChannelCandles); err == nil {
		t.Error("expected subscribe error after close")
	}
}
