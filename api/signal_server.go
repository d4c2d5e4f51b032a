package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"hyperwatch/events"
	"hyperwatch/health"
)

// SignalSource serves the current aggregate signal per symbol.
type SignalSource interface {
	CurrentSignal(symbol string) (events.AggregateSignal, bool)
	Warming() bool
}

// AlertSource serves recent whale alerts from the in-memory store.
type AlertSource interface {
	RecentAlerts(limit int) []events.WhaleAlert
}

// SignalServer is the signal system's HTTP API.
type SignalServer struct {
	signals  SignalSource
	alerts   AlertSource
	registry *health.Registry
	broker   *Broker

	httpServer *http.Server
}

// NewSignalServer creates the signal API server.
func NewSignalServer(signals SignalSource, alerts AlertSource, registry *health.Registry, broker *Broker) *SignalServer {
	return &SignalServer{
		signals:  signals,
		alerts:   alerts,
		registry: registry,
		broker:   broker,
	}
}

// Start starts the HTTP server. Blocks until Shutdown or a listen error.
func (s *SignalServer) Start(host string, port int) error {
	mux := http.NewServeMux()

	mux.Handle("GET /api/events", s.broker) // SSE endpoint
	mux.HandleFunc("GET /api/signal/{symbol}", s.handleSignal)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("GET /health", s.handleHealth)

	handler := corsMiddleware(loggingMiddleware(mux))

	addr := fmt.Sprintf("%s:%d", host, port)
	s.httpServer = &http.Server{Addr: addr, Handler: handler}

	log.Printf("🚀 Signal API starting on %s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests with the caller's deadline.
func (s *SignalServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *SignalServer) handleSignal(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	sig, ok := s.signals.CurrentSignal(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no signal for %s", symbol))
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (s *SignalServer) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	writeJSON(w, http.StatusOK, s.alerts.RecentAlerts(limit))
}

func (s *SignalServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	overall := s.registry.Overall()
	if overall == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"warming":    s.signals.Warming(),
		"components": s.registry.Snapshot(),
	})
}
