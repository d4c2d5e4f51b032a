package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SubscriberQueueSize bounds each subscriber's in-process queue.
	// On overflow the oldest event is dropped and counted.
	SubscriberQueueSize = 10000

	publishTimeout = 2 * time.Second
)

// Message is one delivered event with its channel.
type Message struct {
	Channel string
	Event   Envelope
}

// Subscription drains one subscriber's bounded queue.
type Subscription struct {
	ch      chan Message
	dropped atomic.Uint64
	closeFn func()
	once    sync.Once
}

// Events returns the subscriber's delivery channel.
func (s *Subscription) Events() <-chan Message { return s.ch }

// Dropped returns the monotonic count of events discarded on overflow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscriber from the bus.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}

// push enqueues without blocking; on a full queue the oldest message is
// dropped so the consumer always converges on recent state.
func (s *Subscription) push(msg Message) {
	select {
	case s.ch <- msg:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- msg:
	default:
		s.dropped.Add(1)
	}
}

// Bus is the inter-service pub/sub transport. Delivery is at-least-once;
// consumers must be idempotent keyed by (event_type, trader|symbol, t).
type Bus interface {
	Publish(ctx context.Context, channel string, env *Envelope) error
	Subscribe(ctx context.Context, channels ...string) (*Subscription, error)
	Close() error
}

// NewBus selects the broker: a Redis URL yields a RedisBus, an empty URL
// the in-process MemoryBus (development mode).
func NewBus(redisURL string) (Bus, error) {
	if redisURL == "" {
		log.Println("ℹ️  No redis.url configured, using in-process event bus")
		return NewMemoryBus(), nil
	}
	return NewRedisBus(redisURL)
}

// RedisBus is the production bus over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus connects and pings the broker.
func NewRedisBus(url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("✅ Connected to Redis at %s", opts.Addr)
	return &RedisBus{client: client}, nil
}

// Publish sends one envelope with a bounded deadline.
func (b *RedisBus) Publish(ctx context.Context, channel string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe attaches to the given channels and drains asynchronously into
// a bounded queue.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channels...)

	// Confirm the subscription before the caller proceeds.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	sub := &Subscription{
		ch:      make(chan Message, SubscriberQueueSize),
		closeFn: func() { _ = pubsub.Close() },
	}

	go func() {
		for msg := range pubsub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("⚠️  Dropping malformed event on %s: %v", msg.Channel, err)
				continue
			}
			sub.push(Message{Channel: msg.Channel, Event: env})
		}
	}()

	return sub, nil
}

// Close closes the broker connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

// MemoryBus is a single-node in-process bus with the same semantics,
// used for development and tests.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]map[string]bool // subscriber -> channel set
	closed bool
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*Subscription]map[string]bool)}
}

// Publish fans the envelope out to every subscriber of the channel.
func (b *MemoryBus) Publish(_ context.Context, channel string, env *Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("publish %s: bus closed", channel)
	}
	for sub, channels := range b.subs {
		if channels[channel] {
			sub.push(Message{Channel: channel, Event: *env})
		}
	}
	return nil
}

// Subscribe registers a subscriber for the given channels.
func (b *MemoryBus) Subscribe(_ context.Context, channels ...string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe: bus closed")
	}

	set := make(map[string]bool, len(channels))
	for _, c := range channels {
		set[c] = true
	}

	sub := &Subscription{ch: make(chan Message, SubscriberQueueSize)}
	sub.closeFn = func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}
	b.subs[sub] = set
	return sub, nil
}

// Close detaches all subscribers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
	}
	return nil
}
