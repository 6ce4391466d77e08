// Package server exposes the read-side HTTP API (health, odds history,
// listener state, operator views) and the live WebSocket feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/infofisync/internal/domain"
	"github.com/alanyoungcy/infofisync/internal/server/handler"
	"github.com/alanyoungcy/infofisync/internal/server/middleware"
	"github.com/alanyoungcy/infofisync/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects everything except health and /ws; empty disables.
	APIKey string
	// RateLimitPerMinute is per client IP; 0 disables.
	RateLimitPerMinute int
}

// Routes are the handlers to mount. Nil handlers are skipped so each mode
// serves what it has wired.
type Routes struct {
	Health    *handler.HealthHandler
	Odds      *handler.OddsHandler
	Listeners *handler.ListenerHandler
	Ops       *handler.OpsHandler
	Hub       *ws.Hub
	Limiter   domain.RateLimiter
}

// Server is the HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New registers routes and builds the middleware chain.
func New(cfg Config, routes Routes, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           Handler(cfg, routes, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Handler builds the routed, wrapped http.Handler.
func Handler(cfg Config, routes Routes, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if routes.Health != nil {
		mux.HandleFunc("GET /api/health", routes.Health.HealthCheck)
	}
	if routes.Odds != nil {
		mux.HandleFunc("GET /api/odds/{season}/{market}", routes.Odds.GetHistory)
	}
	if routes.Listeners != nil {
		mux.HandleFunc("GET /api/listeners", routes.Listeners.List)
	}
	if routes.Ops != nil {
		mux.HandleFunc("GET /api/markets/failed", routes.Ops.FailedAttempts)
		mux.HandleFunc("GET /api/audit", routes.Ops.Audit)
	}
	if routes.Hub != nil {
		mux.HandleFunc("GET /ws", routes.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/ws")(h)
	h = middleware.RateLimit(routes.Limiter, cfg.RateLimitPerMinute, time.Minute)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger)(h)
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
