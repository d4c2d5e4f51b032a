// Package scraper is the Market Scraper service: leaderboard polling,
// position and candle ingestion, persistence, and the scraper API.
package scraper

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
	"hyperwatch/database"
	"hyperwatch/database/candles"
	"hyperwatch/database/positions"
	"hyperwatch/database/signals"
	"hyperwatch/database/traders"
	"hyperwatch/events"
	"hyperwatch/health"
	"hyperwatch/scoring"
	"hyperwatch/venue"
	"hyperwatch/websocket"
)

const shutdownTimeout = 10 * time.Second

// App is the scraper composition root. It owns every component and their
// lifecycle.
type App struct {
	cfg *config.Config

	db       *database.Database
	bus      events.Bus
	client   *venue.Client
	tracker  *scoring.Tracker
	registry *health.Registry

	posMgr    *websocket.PositionManager
	candleMgr *websocket.CandleManager

	poller     *LeaderboardPoller
	positions  *PositionPipeline
	candlePipe *CandlePipeline
	sink       *SignalSink

	broker *api.Broker
	server *api.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires all scraper components. Connections are established here;
// background loops start in Start.
func New(cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg.Mongo.URL, cfg.Mongo.Database)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	bus, err := events.NewBus(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}

	tradersRepo := traders.NewRepository(db)
	positionsRepo := positions.NewRepository(db)
	candlesRepo := candles.NewRepository(db, cfg.Hyperliquid.Symbol)
	signalsRepo := signals.NewRepository(db)

	if err := tradersRepo.EnsureIndexes(ctx, cfg.Retention.ScoresDays); err != nil {
		return nil, err
	}
	if err := positionsRepo.EnsureIndexes(ctx, cfg.Retention.PositionsDays); err != nil {
		return nil, err
	}
	if err := candlesRepo.EnsureIndexes(ctx, cfg.Retention.CandlesDays); err != nil {
		return nil, err
	}
	if err := signalsRepo.EnsureIndexes(ctx, cfg.Retention.SignalsDays, cfg.Retention.LeaderboardDays); err != nil {
		return nil, err
	}

	client := venue.NewClient(cfg.Hyperliquid.APIURL, cfg.Hyperliquid.LeaderboardURL)
	tracker := scoring.NewTracker(cfg.Scoring)
	registry := health.NewRegistry()

	posMgr := websocket.NewPositionManager(cfg.Hyperliquid.WSURL)
	candleMgr := websocket.NewCandleManager(cfg.Hyperliquid.WSURL, cfg.Hyperliquid.Symbol)

	// Restore the tracked set so a restart resubscribes immediately instead
	// of waiting for the next leaderboard refresh.
	if err := seedTracker(ctx, tracker, tradersRepo); err != nil {
		log.Printf("⚠️  Restore tracked set: %v", err)
	}
	posMgr.Subscribe(tracker.Addresses())

	broker := api.NewBroker()
	interval := time.Duration(cfg.Scheduler.LeaderboardRefreshSeconds) * time.Second
	posPipe := NewPositionPipeline(posMgr, tracker, positionsRepo, bus)

	app := &App{
		cfg:        cfg,
		db:         db,
		bus:        bus,
		client:     client,
		tracker:    tracker,
		registry:   registry,
		posMgr:     posMgr,
		candleMgr:  candleMgr,
		poller:     NewLeaderboardPoller(client, tracker, tradersRepo, signalsRepo, posMgr, posPipe, registry, interval),
		positions:  posPipe,
		candlePipe: NewCandlePipeline(candleMgr, client, candlesRepo, bus, cfg.Hyperliquid.Symbol),
		sink:       NewSignalSink(bus, signalsRepo),
		broker:     broker,
		server:     api.NewServer(tracker, posMgr, tradersRepo, positionsRepo, candlesRepo, signalsRepo, registry, broker, client, cfg.Hyperliquid.Symbol),
	}
	return app, nil
}

// Start launches every loop and blocks until a shutdown signal arrives.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	log.Printf("✅ Market scraper starting (symbol=%s, %d traders restored)",
		a.cfg.Hyperliquid.Symbol, a.tracker.Size())

	a.candlePipe.Backfill(ctx)

	a.runLoop(ctx, "position-ws", func() { a.posMgr.Run(ctx) })
	a.runLoop(ctx, "candle-ws", func() { a.candleMgr.Run(ctx) })
	a.runLoop(ctx, "position-pipeline", func() { a.positions.Run(ctx) })
	a.runLoop(ctx, "candle-pipeline", func() { a.candlePipe.Run(ctx) })
	a.runLoop(ctx, "leaderboard", func() { a.poller.Start(ctx) })
	a.runLoop(ctx, "signal-sink", func() {
		if err := a.sink.Run(ctx); err != nil {
			log.Printf("❌ Signal sink: %v", err)
			a.registry.SetUnhealthy("signal_sink", err)
		}
	})
	a.runLoop(ctx, "sse-broker", func() { a.broker.Run(ctx) })
	a.runLoop(ctx, "sse-fanout", func() { a.fanOutEvents(ctx) })
	a.runLoop(ctx, "health", func() { a.healthLoop(ctx) })

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(a.cfg.API.Host, a.cfg.API.Port); err != nil {
			errCh <- err
		}
	}()

	return a.waitForShutdown(errCh)
}

func (a *App) runLoop(ctx context.Context, name string, fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
		if ctx.Err() == nil {
			log.Printf("⚠️  Loop %s exited early", name)
		}
	}()
}

// fanOutEvents mirrors published events onto the SSE broker for dashboards.
func (a *App) fanOutEvents(ctx context.Context) {
	sub, err := a.bus.Subscribe(ctx, events.ChannelPositionsScored, events.ChannelSignalsOut)
	if err != nil {
		log.Printf("⚠️  SSE fan-out subscribe: %v", err)
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
		}
	}
}

// healthLoop periodically records component health and logs a heartbeat.
func (a *App) healthLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.Scheduler.HealthCheckSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			degraded := a.posMgr.Degraded()
			if len(degraded) > 0 {
				a.registry.SetDegraded("position_ws", fmt.Errorf("%d degraded subscriptions", len(degraded)))
			} else {
				a.registry.SetHealthy("position_ws")
			}
			log.Printf("ℹ️  Health: overall=%s tracked=%d degraded=%d",
				a.registry.Overall(), a.tracker.Size(), len(degraded))
		}
	}
}

// waitForShutdown blocks until a signal or an API server failure, then
// drains. A server failure is returned so the process exits nonzero and a
// supervisor restarts it.
func (a *App) waitForShutdown(errCh <-chan error) error {
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

	a.gracefulShutdown()
	return startErr
}

// gracefulShutdown stops intake first, drains in-flight work with a bounded
// deadline, then closes connections.
func (a *App) gracefulShutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.poller.Stop()
	a.posMgr.Stop()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  API shutdown: %v", err)
	}

	a.cancel()

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
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := a.db.Close(closeCtx); err != nil {
		log.Printf("⚠️  Mongo close: %v", err)
	}

	log.Println("✅ Market scraper stopped")
}

// seedTracker restores the persisted active tracked set into the tracker.
func seedTracker(ctx context.Context, tracker *scoring.Tracker, repo *traders.Repository) error {
	docs, err := repo.GetActive(ctx)
	if err != nil {
		return err
	}

	seed := make([]scoring.ScoredTrader, 0, len(docs))
	for _, doc := range docs {
		windows := make(map[string]venue.WindowPerf, len(doc.Windows))
		for name, w := range doc.Windows {
			windows[name] = venue.WindowPerf{PnL: w.PnL, ROI: w.ROI, Vlm: w.Vlm}
		}
		seed = append(seed, scoring.ScoredTrader{
			LeaderboardRow: venue.LeaderboardRow{
				Address:      doc.Eth,
				DisplayName:  doc.DisplayName,
				AccountValue: doc.AccountValue,
				Windows:      windows,
			},
			Score: doc.Score,
			Tags:  doc.Tags,
		})
	}
	tracker.Seed(seed)
	return nil
}
