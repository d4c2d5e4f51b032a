package signal

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"hyperwatch/api"
	"hyperwatch/config"
	"hyperwatch/events"
	"hyperwatch/health"
	"hyperwatch/notifications"
)

const shutdownTimeout = 10 * time.Second

// App is the signal system composition root.
type App struct {
	cfg *config.Config

	bus      events.Bus
	regime   *CandleRegimeDetector
	engine   *WeightEngine
	agg      *Aggregator
	alerts   *AlertDetector
	boot     *Bootstrapper
	webhooks *notifications.WebhookManager
	registry *health.Registry

	broker *api.Broker
	server *api.SignalServer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires all signal system components.
func New(cfg *config.Config) (*App, error) {
	bus, err := events.NewBus(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}

	symbol := cfg.Hyperliquid.Symbol
	regime := NewCandleRegimeDetector()
	engine := NewWeightEngine(cfg.Weighting, regime)
	agg := NewAggregator(symbol, engine, bus)
	alerts := NewAlertDetector(cfg.Alerts, symbol, engine, bus)
	registry := health.NewRegistry()
	broker := api.NewBroker()

	return &App{
		cfg:      cfg,
		bus:      bus,
		regime:   regime,
		engine:   engine,
		agg:      agg,
		alerts:   alerts,
		boot:     NewBootstrapper(cfg.API.ScraperURL, agg, alerts),
		webhooks: notifications.NewWebhookManager(cfg.Webhooks.URLs),
		registry: registry,
		broker:   broker,
		server:   api.NewSignalServer(agg, alerts, registry, broker),
	}, nil
}

// Start subscribes, bootstraps and serves until a shutdown signal arrives.
// The subscription is live before the snapshot call so no update produced
// in between is lost.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	log.Printf("✅ Signal system starting (symbol=%s)", a.cfg.Hyperliquid.Symbol)

	sub, err := a.bus.Subscribe(ctx, events.ChannelPositionsScored, events.ChannelCandles)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	a.runLoop("consumer", func() { a.consume(ctx, sub) })
	a.runLoop("bootstrap", func() {
		if err := a.boot.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("❌ Bootstrap: %v", err)
			a.registry.SetUnhealthy("bootstrap", err)
			return
		}
		a.registry.SetHealthy("bootstrap")
	})
	a.runLoop("alert-fanout", func() { a.fanOutAlerts(ctx) })
	a.runLoop("sse-broker", func() { a.broker.Run(ctx) })
	a.runLoop("health", func() { a.healthLoop(ctx, sub) })

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(a.cfg.API.Host, a.cfg.API.Port); err != nil {
			errCh <- err
		}
	}()

	return a.waitForShutdown(sub, errCh)
}

func (a *App) runLoop(name string, fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("ℹ️  Loop %s started", name)
		fn()
	}()
}

// consume is the single mutator of the aggregator and detector state.
func (a *App) consume(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			a.handle(ctx, msg.Event)
		}
	}
}

func (a *App) handle(ctx context.Context, env events.Envelope) {
	switch env.Type {
	case events.TypePositionScored:
		var ev events.PositionScored
		if err := env.Decode(events.TypePositionScored, &ev); err != nil {
			log.Printf("⚠️  Decode scored position: %v", err)
			return
		}
		// Alerts observe first so the market context reflects the change
		// the aggregate signal is about to carry.
		a.alerts.Observe(ctx, ev)
		a.agg.Apply(ctx, ev)

	case events.TypeCandle:
		var ev events.CandleUpdate
		if err := env.Decode(events.TypeCandle, &ev); err != nil {
			log.Printf("⚠️  Decode candle: %v", err)
			return
		}
		a.regime.Observe(ev)
		if ev.Interval == "1m" {
			a.agg.SetPrice(ev.Close)
		}

	default:
		// positions.raw is not subscribed; anything else is noise.
	}
}

// fanOutAlerts mirrors signals.out onto webhooks and the SSE broker.
func (a *App) fanOutAlerts(ctx context.Context) {
	sub, err := a.bus.Subscribe(ctx, events.ChannelSignalsOut)
	if err != nil {
		log.Printf("⚠️  Alert fan-out subscribe: %v", err)
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			a.broker.Broadcast(string(msg.Event.Type), msg.Event.Payload)
			if msg.Event.Type != events.TypeWhaleAlert {
				continue
			}
			var alert events.WhaleAlert
			if err := msg.Event.Decode(events.TypeWhaleAlert, &alert); err != nil {
				log.Printf("⚠️  Decode whale alert: %v", err)
				continue
			}
			a.webhooks.SendAlert(alert)
		}
	}
}

// healthLoop records queue drops and warming state on the registry.
func (a *App) healthLoop(ctx context.Context, sub *events.Subscription) {
	interval := time.Duration(a.cfg.Scheduler.HealthCheckSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastDropped uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := sub.Dropped()
			if dropped > lastDropped {
				a.registry.SetDegraded("subscriber",
					fmt.Errorf("%d events dropped on overflow (total %d)", dropped-lastDropped, dropped))
			} else {
				a.registry.SetHealthy("subscriber")
			}
			lastDropped = dropped

			if a.agg.Warming() {
				a.registry.SetDegraded("aggregator", fmt.Errorf("warming: bootstrap snapshot outstanding"))
			} else {
				a.registry.SetHealthy("aggregator")
			}

			log.Printf("ℹ️  Health: overall=%s regime=%s warming=%t dropped=%d",
				a.registry.Overall(), a.regime.Regime(), a.agg.Warming(), dropped)
		}
	}
}

// waitForShutdown blocks until a signal or an API server failure, then
// drains. A server failure is returned so the process exits nonzero and a
// supervisor restarts it.
func (a *App) waitForShutdown(sub *events.Subscription, errCh <-chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var startErr error
	select {
	case sig := <-sigChan:
		log.Printf("🛑 Received %v, shutting down...", sig)
	case err := <-errCh:
		log.Printf("❌ API server failed, shutting down: %v", err)
		startErr = fmt.Errorf("api server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  API shutdown: %v", err)
	}

	a.cancel()
	sub.Close()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Println("⚠️  Shutdown deadline exceeded, exiting with loops still draining")
	}

	if err := a.bus.Close(); err != nil {
		log.Printf("⚠️  Bus close: %v", err)
	}
	log.Println("✅ Signal system stopped")
	return startErr
}
