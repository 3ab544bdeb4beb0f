// Package api provides the HTTP surface of the Kestrel decision engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fraudshield/kestrel/internal/blacklist"
	"github.com/fraudshield/kestrel/internal/domain"
	"github.com/fraudshield/kestrel/internal/orchestrator"
	"github.com/fraudshield/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, catalog *rules.Catalog, orch *orchestrator.Orchestrator, store *blacklist.Store, version string) *Server {
	handler := NewHandler(repo, cache, bus, catalog, orch, store, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Transaction analysis
	router.Post("/analyze", handler.Analyze)
	router.Post("/comprehensive-check", handler.ComprehensiveCheck)
	router.Post("/evaluate-model", handler.EvaluateModel)

	// Per-context checks
	router.Post("/check/transaction", handler.CheckTransaction)
	router.Post("/check/account-access", handler.CheckAccountAccess)
	router.Post("/check/ip", handler.CheckIP)
	router.Post("/check/device", handler.CheckDevice)
	router.Post("/check/session", handler.CheckSession)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)
	router.Post("/rules/{id}/activate", handler.ActivateRule)
	router.Post("/rules/{id}/deactivate", handler.DeactivateRule)
	router.Post("/rules/{id}/testmode", handler.SetRuleTestMode)

	// Rule event audit trail
	router.Get("/events", handler.ListEvents)
	router.Post("/events/{id}/resolve", handler.ResolveEvent)

	// Blacklist management
	router.Get("/blacklist", handler.ListBlacklist)
	router.Post("/blacklist", handler.AddBlacklistItem)
	router.Post("/blacklist/{id}/invalidate", handler.InvalidateBlacklistItem)
	router.Post("/blacklist/cleanup", handler.CleanupBlacklist)

	// Stored results
	router.Get("/results/{transactionId}", handler.GetResult)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
