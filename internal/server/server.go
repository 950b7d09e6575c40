// Package server exposes the engine's operational API: health, state
// and position inspection, kill-switch control and the live alert
// stream.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/internal/state"
	"github.com/aristath/vigil/internal/store"
)

// alertBuffer is the per-subscriber queue depth; slow consumers drop.
const alertBuffer = 32

// DecisionReader is the slice of the decision store the API serves.
type DecisionReader interface {
	RecentDecisions(limit int) ([]domain.TradeDecision, error)
}

// TradeReader is the slice of the trade store the API serves.
type TradeReader interface {
	Stats() (store.TradeStats, error)
	History(limit int) ([]store.Trade, error)
}

// AlertSource registers alert handlers; the dispatcher satisfies it.
type AlertSource interface {
	Register(h domain.AlertHandler)
}

// Config holds server configuration.
type Config struct {
	Port      int
	Core      *state.Core
	Decisions DecisionReader
	Trades    TradeReader
	Alerts    AlertSource
	Log       zerolog.Logger
}

// Server is the engine's HTTP surface.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	core      *state.Core
	decisions DecisionReader
	trades    TradeReader
	log       zerolog.Logger
	startup   time.Time

	mu   sync.Mutex
	subs map[chan domain.Alert]struct{}
}

// New creates the server and registers routes.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		core:      cfg.Core,
		decisions: cfg.Decisions,
		trades:    cfg.Trades,
		log:       cfg.Log.With().Str("component", "server").Logger(),
		startup:   time.Now(),
		subs:      make(map[chan domain.Alert]struct{}),
	}

	s.setupMiddleware()
	s.setupRoutes()

	if cfg.Alerts != nil {
		cfg.Alerts.Register(s.broadcast)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/positions", s.handlePositions)
		r.Get("/decisions/recent", s.handleRecentDecisions)
		r.Get("/trades/stats", s.handleTradeStats)
		r.Post("/killswitch", s.handleKillSwitch)
	})

	s.router.Get("/ws/alerts", s.handleAlertsWS)
}

// Start blocks serving HTTP until the listener closes.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler { return s.router }

// broadcast fans one alert to every websocket subscriber. Full queues
// drop the alert rather than block the guardian.
func (s *Server) broadcast(a domain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- a:
		default:
		}
	}
}

func (s *Server) subscribe() chan domain.Alert {
	ch := make(chan domain.Alert, alertBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan domain.Alert) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing left to do but note it.
		return
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
