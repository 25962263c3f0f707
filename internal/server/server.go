// Package server exposes the betting API over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/coderashu-1/Trade/internal/server/handler"
	"github.com/coderashu-1/Trade/internal/server/middleware"
	"github.com/coderashu-1/Trade/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey enables authentication when non-empty.
	APIKey string
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Only Health is
// required.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Markets  *handler.MarketHandler
	Sessions *handler.SessionHandler
	Bets     *handler.BetHandler
}

// Server is the API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and builds the middleware chain.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	if handlers.Markets != nil {
		mux.HandleFunc("GET /api/pairs", handlers.Markets.ListPairs)
		mux.HandleFunc("GET /api/price", handlers.Markets.GetPrice)
		mux.HandleFunc("GET /api/candles", handlers.Markets.GetCandles)
	}

	if handlers.Sessions != nil {
		mux.HandleFunc("POST /api/sessions", handlers.Sessions.Open)
		mux.HandleFunc("GET /api/sessions", handlers.Sessions.List)
		mux.HandleFunc("GET /api/sessions/{user}", handlers.Sessions.Get)
		mux.HandleFunc("DELETE /api/sessions/{user}", handlers.Sessions.Close)
		mux.HandleFunc("PUT /api/sessions/{user}/symbol", handlers.Sessions.SetSymbol)
		mux.HandleFunc("POST /api/sessions/{user}/bets", handlers.Sessions.PlaceBet)
		mux.HandleFunc("DELETE /api/sessions/{user}/bets/pending", handlers.Sessions.CancelPending)
	}

	if handlers.Bets != nil {
		mux.HandleFunc("GET /api/bets", handlers.Bets.ListBets)
		mux.HandleFunc("GET /api/bets/{id}", handlers.Bets.GetBet)
		mux.HandleFunc("GET /api/balance", handlers.Bets.GetBalance)
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
