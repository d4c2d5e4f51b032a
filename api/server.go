// Package api exposes the HTTP surfaces of both services: the scraper's
// snapshot/read API and the signal system's signal/alert API, plus a
// shared SSE broker.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

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

// SnapshotTrader is one tracked trader with its live position set, as
// served by /api/snapshot. The signal system bootstraps from this.
type SnapshotTrader struct {
	Address      string               `json:"address"`
	DisplayName  string               `json:"name,omitempty"`
	Score        float64              `json:"score"`
	Tags         []string             `json:"tags"`
	AccountValue float64              `json:"acct"`
	ROI          events.WindowROI     `json:"roi"`
	Positions    []events.PositionRaw `json:"positions"`
}

// SnapshotResponse is the /api/snapshot payload. Price is the current mark
// price of the scraper's symbol, zero when the venue lookup failed.
type SnapshotResponse struct {
	T       int64            `json:"t"`
	Price   float64          `json:"price,omitempty"`
	Traders []SnapshotTrader `json:"traders"`
}

// Server is the scraper's HTTP API.
type Server struct {
	tracker   *scoring.Tracker
	posMgr    *websocket.PositionManager
	traders   *traders.Repository
	positions *positions.Repository
	candles   *candles.Repository
	signals   *signals.Repository
	registry  *health.Registry
	broker    *Broker
	client    *venue.Client
	symbol    string

	httpServer *http.Server
}

// NewServer creates the scraper API server.
func NewServer(tracker *scoring.Tracker, posMgr *websocket.PositionManager, tr *traders.Repository, pr *positions.Repository, cr *candles.Repository, sr *signals.Repository, registry *health.Registry, broker *Broker, client *venue.Client, symbol string) *Server {
	return &Server{
		tracker:   tracker,
		posMgr:    posMgr,
		traders:   tr,
		positions: pr,
		candles:   cr,
		signals:   sr,
		registry:  registry,
		broker:    broker,
		client:    client,
		symbol:    symbol,
	}
}

// Start starts the HTTP server. Blocks until Shutdown or a listen error.
func (s *Server) Start(host string, port int) error {
	mux := http.NewServeMux()

	mux.Handle("GET /api/events", s.broker) // SSE endpoint
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/traders", s.handleTraders)
	mux.HandleFunc("GET /api/traders/{address}", s.handleTrader)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/fills", s.handleFills)
	mux.HandleFunc("GET /api/candles", s.handleCandles)
	mux.HandleFunc("GET /api/signals", s.handleSignals)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("GET /health", s.handleHealth)

	handler := corsMiddleware(loggingMiddleware(mux))

	addr := fmt.Sprintf("%s:%d", host, port)
	s.httpServer = &http.Server{Addr: addr, Handler: handler}

	log.Printf("🚀 Scraper API starting on %s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests with the caller's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleSnapshot serves the full tracked set with each trader's latest
// buffered positions. Traders without a buffered snapshot yet appear with
// an empty position list.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	traders := s.tracker.Current()
	now := time.Now().UnixMilli()

	resp := SnapshotResponse{T: now, Traders: make([]SnapshotTrader, 0, len(traders))}
	// Best effort: the consumer falls back to candle closes when zero.
	if marks, err := s.client.MarkPrices(r.Context()); err == nil {
		resp.Price = marks[s.symbol]
	} else {
		log.Printf("⚠️  Snapshot mark price lookup: %v", err)
	}
	for _, tr := range traders {
		st := SnapshotTrader{
			Address:      tr.Address,
			DisplayName:  tr.DisplayName,
			Score:        tr.Score,
			Tags:         tr.Tags,
			AccountValue: tr.AccountValue,
			ROI: events.WindowROI{
				Day:     tr.Windows[venue.WindowDay].ROI,
				Week:    tr.Windows[venue.WindowWeek].ROI,
				Month:   tr.Windows[venue.WindowMonth].ROI,
				AllTime: tr.Windows[venue.WindowAllTime].ROI,
			},
			Positions: []events.PositionRaw{},
		}
		if snap, ok := s.posMgr.Snapshot(tr.Address); ok {
			for _, pos := range snap.Positions {
				if pos.Szi == 0 {
					continue
				}
				st.Positions = append(st.Positions, events.PositionRaw{
					Address:  tr.Address,
					Coin:     pos.Coin,
					Szi:      pos.Szi,
					EntryPx:  pos.EntryPx,
					MarkPx:   pos.MarkPx,
					Upnl:     pos.UnrealizedPnl,
					Leverage: pos.Leverage,
					T:        snap.Time,
				})
			}
		}
		resp.Traders = append(resp.Traders, st)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTraders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Current())
}

// handleTrader serves the persisted record for one trader, tracked or not.
func (s *Server) handleTrader(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(r.PathValue("address"))
	doc, err := s.traders.Get(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("trader %s not found", address))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handlePositions serves the persisted position history for one trader.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(r.URL.Query().Get("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("address is required"))
		return
	}
	limit := queryInt(r, "limit", 100)

	docs, err := s.positions.History(r.Context(), address, int64(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleFills proxies the venue's recent fills for one tracked trader.
func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(r.URL.Query().Get("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("address is required"))
		return
	}
	if _, ok := s.tracker.Lookup(address); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("trader %s is not tracked", address))
		return
	}

	fills, err := s.client.UserFills(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	limit := queryInt(r, "limit", 100)
	if len(fills) > limit {
		fills = fills[:limit]
	}
	writeJSON(w, http.StatusOK, fills)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1h"
	}

	// since takes precedence over limit when both are given.
	if raw := r.URL.Query().Get("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("since must be epoch millis"))
			return
		}
		docs, err := s.candles.Since(r.Context(), interval, time.UnixMilli(ms).UTC())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, docs)
		return
	}

	limit := queryInt(r, "limit", 100)
	docs, err := s.candles.Recent(r.Context(), interval, int64(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("symbol is required"))
		return
	}
	limit := queryInt(r, "limit", 50)

	docs, err := s.signals.RecentSignals(r.Context(), symbol, int64(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	docs, err := s.signals.RecentWhaleAlerts(r.Context(), int64(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	overall := s.registry.Overall()
	if overall == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": s.registry.Snapshot(),
		"tracked":    s.tracker.Size(),
		"degraded":   s.posMgr.Degraded(),
	})
}

// Middleware

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  Encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
