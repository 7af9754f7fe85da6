package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fluster/fluster/internal/domain"
	"github.com/fluster/fluster/internal/server/handler"
	"github.com/fluster/fluster/internal/server/middleware"
	"github.com/fluster/fluster/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // gates the /api/admin routes
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Bets      *handler.BetHandler
	Positions *handler.PositionHandler
	Vault     *handler.VaultHandler
	Pools     *handler.PoolHandler
	Archive   *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API for the betting service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS) and attaches the WebSocket hub.
// Admin routes carry their own key check; user routes authenticate per
// request via payload signatures, so there is no blanket API key.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Bet endpoints. Cancel, reveal, and claim are accepted no-ops.
	mux.HandleFunc("POST /api/bets", handlers.Bets.OpenBet)
	mux.HandleFunc("POST /api/bets/{pool_id}/cancel", handlers.Bets.CancelBet)
	mux.HandleFunc("POST /api/bets/{pool_id}/reveal", handlers.Bets.RevealResult)
	mux.HandleFunc("POST /api/bets/{pool_id}/claim", handlers.Bets.ClaimPayout)

	// Position endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{pool_id}", handlers.Positions.GetPosition)

	// Vault endpoints.
	mux.HandleFunc("POST /api/vault/deposit", handlers.Vault.Deposit)
	mux.HandleFunc("POST /api/vault/withdraw", handlers.Vault.Withdraw)
	mux.HandleFunc("POST /api/vault/close", handlers.Vault.CloseAccount)
	mux.HandleFunc("GET /api/vault", handlers.Vault.ListAccounts)
	mux.HandleFunc("GET /api/vault/{pool_id}", handlers.Vault.GetAccount)

	// Pool endpoints. Reads are public; administration needs the admin key.
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("POST /api/admin/pools", middleware.AdminOnly(cfg.AdminAPIKey, handlers.Pools.InitializePool))
	mux.HandleFunc("PUT /api/admin/pools/{id}", middleware.AdminOnly(cfg.AdminAPIKey, handlers.Pools.UpdatePool))

	// Maintenance endpoints.
	if handlers.Archive != nil {
		mux.HandleFunc("POST /api/admin/archive", middleware.AdminOnly(cfg.AdminAPIKey, handlers.Archive.RunArchive))
		mux.HandleFunc("GET /api/admin/archives", middleware.AdminOnly(cfg.AdminAPIKey, handlers.Archive.ListArchives))
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain. Per-IP limiting sits in front of the
	// per-owner limit inside the betting service.
	var h http.Handler = mux
	if limiter != nil {
		h = middleware.RateLimit(limiter, 120, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
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
