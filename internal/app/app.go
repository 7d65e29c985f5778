// Package app provides top-level application lifecycle management for the
// trading gateway. It wires together all dependencies (stores, chain client,
// wallet session, transaction lifecycle components, notifications) and runs
// the HTTP server, confirmation tracker, position ledger and WebSocket hub
// until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ambjn/ostium-whop/internal/config"
	"github.com/ambjn/ostium-whop/internal/server"
	"github.com/ambjn/ostium-whop/internal/server/handler"
	"github.com/ambjn/ostium-whop/internal/server/ws"
)

// shutdownTimeout bounds how long in-flight HTTP requests may run after a
// shutdown signal before the listener is torn down.
const shutdownTimeout = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the
// long-running goroutines, and blocks until the context is cancelled or a
// component fails. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting gateway",
		slog.String("network", a.cfg.Chain.Network),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("redis", a.cfg.Redis.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)

	// Confirmation tracker: polls receipts for outstanding transactions.
	g.Go(func() error {
		return deps.Tracker.Run(ctx)
	})

	// Position ledger: folds terminal outcomes into the local view.
	g.Go(func() error {
		return deps.Ledger.Run(ctx, deps.Tracker.Outcomes())
	})

	// WebSocket hub: bridges bus events to connected clients.
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Network:   a.cfg.Chain.Network,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// HTTP server.
	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(deps.Facade, a.logger),
			Wallet:  handler.NewWalletHandler(deps.Facade, a.logger),
			Trading: handler.NewTradingHandler(deps.Facade, a.logger),
			Market:  handler.NewMarketHandler(deps.Facade, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down gateway")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
