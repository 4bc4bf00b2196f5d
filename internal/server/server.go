// Package server exposes the ops API: recovery state, journal listings, the
// manual shutdown trigger, the live WebSocket feed, and metrics exposition.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradeguard/internal/server/handler"
	"github.com/alanyoungcy/tradeguard/internal/server/middleware"
	"github.com/alanyoungcy/tradeguard/internal/server/ws"
)

// authExemptPaths bypass API-key authentication: liveness probes carry no
// credentials and browser WebSocket clients cannot set headers.
var authExemptPaths = []string{"/api/health", "/ws"}

// quietLogPaths are logged at debug level to keep scrape and probe traffic
// out of the info log.
var quietLogPaths = []string{"/api/health", "/metrics"}

// Config holds the HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Recovery *handler.RecoveryHandler
	Journal  *handler.JournalHandler
	Shutdown *handler.ShutdownHandler
}

// Server is the headless HTTP + WebSocket ops API for the guard sidecar.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, auth, logging) and attaches the WebSocket
// hub and the metrics exposition handler when present.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, metricsHandler http.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Recovery state and replay diagnostics.
	mux.HandleFunc("GET /api/recovery/state", handlers.Recovery.GetState)
	mux.HandleFunc("POST /api/recovery/replay", handlers.Recovery.RunReplay)

	// Journal listings.
	mux.HandleFunc("GET /api/recovery/attempts", handlers.Journal.ListAttempts)
	mux.HandleFunc("GET /api/recovery/events", handlers.Journal.ListEvents)

	// Manual shutdown trigger.
	mux.HandleFunc("POST /api/shutdown", handlers.Shutdown.TriggerShutdown)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Prometheus exposition.
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Build the middleware chain: CORS, then auth, then request logging.
	var h http.Handler = mux

	h = middleware.Logging(logger, quietLogPaths)(h)

	h = middleware.Auth(cfg.APIKey, authExemptPaths)(h)

	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
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
