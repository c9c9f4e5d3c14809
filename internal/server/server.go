// Package server exposes the dashboard JSON API
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
	"github.com/Rajchodisetti/stock-alerts/internal/alerts"
	"github.com/Rajchodisetti/stock-alerts/internal/dedup"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
	"github.com/Rajchodisetti/stock-alerts/internal/watchlist"
)

// Market is the resolver surface the API reads
type Market interface {
	GetQuote(ctx context.Context, symbol string) (*adapters.Quote, error)
	GetQuotesBatch(ctx context.Context, symbols []string) (map[string]*adapters.Quote, error)
	GetHistory(ctx context.Context, symbol string, lookbackDays int) (*adapters.HistoricalSeries, error)
	GetFundamentals(ctx context.Context, symbol string) (*adapters.Fundamentals, error)
	GetEarnings(ctx context.Context, symbol string, windowDays int) ([]adapters.EarningsEvent, error)
	CompanyName(symbol string) string
	ForgetSymbol(symbol string)
	ProviderStatus() []adapters.ProviderSnapshot
	Providers() []string
}

var _ Market = (*adapters.Resolver)(nil)

// Config holds server configuration. Budget, History and System are optional.
type Config struct {
	Port      int
	Market    Market
	Watchlist watchlist.Store
	Dedup     dedup.Log
	History   *alerts.History
	Budget    func() []adapters.ProviderBudget
	System    func() observ.SystemStatus
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	port      int
	market    Market
	watchlist *watchlist.Manager
	history   *alerts.History
	budget    func() []adapters.ProviderBudget
	system    func() observ.SystemStatus
}

func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       observ.Component("server"),
		port:      cfg.Port,
		market:    cfg.Market,
		watchlist: watchlist.NewManager(cfg.Watchlist, cfg.Market, cfg.Dedup),
		history:   cfg.History,
		budget:    cfg.Budget,
		system:    cfg.System,
	}
	if s.system == nil {
		s.system = observ.System
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(25 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Method(http.MethodGet, "/health", observ.HealthHandler())
	s.router.Method(http.MethodGet, "/metrics", observ.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/quote/{symbol}", s.handleQuote)
		r.Get("/quotes", s.handleQuotes)
		r.Get("/history/{symbol}", s.handleHistory)
		r.Get("/fundamentals/{symbol}", s.handleFundamentals)
		r.Get("/stats/{symbol}", s.handleStats)
		r.Get("/earnings/{symbol}", s.handleEarnings)
		r.Get("/market/sentiment", s.handleSentiment)

		r.Route("/watchlist", func(r chi.Router) {
			r.Get("/", s.handleWatchlist)
			r.Post("/", s.handleWatchlistAdd)
			r.Delete("/{symbol}", s.handleWatchlistRemove)
		})

		r.Get("/providers", s.handleProviders)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/system/status", s.handleSystemStatus)
	})
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving HTTP until Shutdown
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
		observ.IncCounter("http_requests_total", map[string]string{
			"method": r.Method,
			"status": fmt.Sprintf("%dxx", ww.Status()/100),
		})
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
