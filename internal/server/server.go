// Package server exposes the gateway over HTTP and WebSocket. Route
// registration, middleware and graceful shutdown live here; all trading
// semantics live behind the handler service interfaces.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ambjn/ostium-whop/internal/domain"
	"github.com/ambjn/ostium-whop/internal/server/handler"
	"github.com/ambjn/ostium-whop/internal/server/middleware"
	"github.com/ambjn/ostium-whop/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is requests per client per RateWindow; 0 disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Wallet  *handler.WalletHandler
	Trading *handler.TradingHandler
	Market  *handler.MarketHandler
}

// Server is the HTTP + WebSocket API server for the trading gateway.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)

	// Wallet lifecycle.
	mux.HandleFunc("POST /wallet/create", handlers.Wallet.CreateWallet)
	mux.HandleFunc("POST /wallet/from-private-key", handlers.Wallet.ImportWallet)
	mux.HandleFunc("GET /wallet/status", handlers.Wallet.Status)
	mux.HandleFunc("DELETE /wallet", handlers.Wallet.Clear)

	// Trading operations.
	mux.HandleFunc("POST /trading/place-order", handlers.Trading.PlaceOrder)
	mux.HandleFunc("POST /trading/close-trade", handlers.Trading.CloseTrade)
	mux.HandleFunc("POST /trading/add-collateral", handlers.Trading.AddCollateral)
	mux.HandleFunc("POST /trading/remove-collateral", handlers.Trading.RemoveCollateral)
	mux.HandleFunc("POST /trading/update-stop-loss", handlers.Trading.UpdateStopLoss)
	mux.HandleFunc("POST /trading/update-take-profit", handlers.Trading.UpdateTakeProfit)
	mux.HandleFunc("GET /trading/positions", handlers.Trading.Positions)
	mux.HandleFunc("GET /trading/history", handlers.Trading.History)
	mux.HandleFunc("GET /trading/track-order/{id}", handlers.Trading.TrackOrder)
	mux.HandleFunc("GET /trading/balances", handlers.Trading.Balances)
	mux.HandleFunc("POST /trading/faucet", handlers.Trading.Faucet)
	mux.HandleFunc("PUT /trading/slippage/{pct}", handlers.Trading.SetSlippage)

	// Market data (read-only).
	mux.HandleFunc("GET /market/price/{from}/{to}", handlers.Market.Price)
	mux.HandleFunc("GET /market/pairs", handlers.Market.Pairs)
	mux.HandleFunc("GET /market/status", handlers.Market.Status)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
