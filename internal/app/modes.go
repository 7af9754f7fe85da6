package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fluster/fluster/internal/notify"
	"github.com/fluster/fluster/internal/oracle"
	"github.com/fluster/fluster/internal/scheduler"
	"github.com/fluster/fluster/internal/server"
	"github.com/fluster/fluster/internal/server/handler"
	"github.com/fluster/fluster/internal/server/ws"
	"github.com/fluster/fluster/internal/service"
	"github.com/fluster/fluster/internal/vault"
)

// services bundles the application-layer services built on top of the wired
// dependencies. Every mode builds the same set; what differs is which
// goroutines run.
type services struct {
	betting *service.BettingService
	vaults  *service.VaultService
	pools   *service.PoolService
}

// buildServices constructs the vault, oracle, scheduler, and service layer
// from the wired dependencies.
func (a *App) buildServices(deps *Dependencies) *services {
	custody := vault.New(deps.VaultAccountStore, deps.Keyring, a.logger)
	priceOracle := oracle.New(deps.FeedCache, a.cfg.Engine.OracleMaxStaleness.Duration, a.logger)
	registrar := scheduler.NewService(deps.TriggerStore, custody, a.cfg.Engine.AutomationFee, a.logger)

	betting := service.NewBettingService(
		service.BettingConfig{
			RateLimit:        a.cfg.Engine.RateLimit,
			RateWindow:       a.cfg.Engine.RateWindow.Duration,
			RequireSignature: a.cfg.Engine.RequireSignature,
		},
		deps.UnitOfWork,
		deps.PoolStore,
		deps.PositionStore,
		custody,
		priceOracle,
		registrar,
		deps.RateLimiter,
		deps.SignalBus,
		deps.AuditStore,
		a.logger,
	)
	vaults := service.NewVaultService(
		deps.UnitOfWork,
		deps.PoolStore,
		deps.VaultAccountStore,
		deps.PositionStore,
		custody,
		deps.AuditStore,
		a.cfg.Engine.RequireSignature,
		a.logger,
	)
	pools := service.NewPoolService(
		deps.UnitOfWork,
		deps.PoolStore,
		deps.VaultAccountStore,
		deps.Keyring,
		deps.AuditStore,
		a.logger,
	)

	return &services{betting: betting, vaults: vaults, pools: pools}
}

// ServeMode runs the HTTP API, the WebSocket hub, and the notification
// watcher. Settlement dispatch is left to a separate dispatch-mode process.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	a.startWatcher(ctx, g, deps)
	return g.Wait()
}

// DispatchMode runs only the settlement dispatcher and the notification
// watcher. Multiple dispatch processes may run concurrently; the poll lock
// ensures a single active dispatcher per tick.
func (a *App) DispatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dispatch mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startDispatcher(ctx, g, deps)
	a.startWatcher(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything in a single process: HTTP API, WebSocket hub,
// settlement dispatcher, and notification watcher.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	a.startDispatcher(ctx, g, deps)
	a.startWatcher(ctx, g, deps)
	return g.Wait()
}

// startHTTPServer builds the handlers and WebSocket hub and launches the HTTP
// server goroutines on the group.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Bets:      handler.NewBetHandler(svcs.betting, a.logger),
		Positions: handler.NewPositionHandler(svcs.betting, a.logger),
		Vault:     handler.NewVaultHandler(svcs.vaults, a.logger),
		Pools:     handler.NewPoolHandler(svcs.pools, a.logger),
	}
	if deps.Archiver != nil && deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Archiver, deps.BlobReader, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminAPIKey: a.cfg.Authority.AdminAPIKey,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
		)
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startDispatcher launches the settlement trigger dispatcher on the group.
func (a *App) startDispatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	dispatcher := scheduler.NewDispatcher(
		scheduler.DispatcherConfig{
			PollInterval: a.cfg.Scheduler.PollInterval.Duration,
			BatchSize:    a.cfg.Scheduler.BatchSize,
			LockTTL:      a.cfg.Scheduler.LockTTL.Duration,
		},
		deps.TriggerStore,
		deps.LockManager,
		deps.SignalBus,
		a.logger,
	)
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
}

// startWatcher launches the event-to-notification bridge on the group.
func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	watcher := notify.NewWatcher(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
}
