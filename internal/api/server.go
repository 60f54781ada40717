package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-crm/kestrel/internal/detect"
	"github.com/opensource-crm/kestrel/internal/domain"
	"github.com/opensource-crm/kestrel/internal/engine"
	"github.com/opensource-crm/kestrel/internal/revenue"
	"github.com/opensource-crm/kestrel/internal/warning"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, orchestrator *engine.Orchestrator, calculator *revenue.Calculator, warnings *warning.Detector, ruleDetector *detect.RuleDetector, version string) *Server {
	handler := NewHandler(repo, cache, bus, orchestrator, calculator, warnings, ruleDetector, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Opportunity ingestion
		r.Post("/opportunities", handler.CreateOpportunity)
		r.Get("/opportunities/{id}", handler.GetOpportunity)
		r.Post("/opportunities/{id}/shards", handler.CreateShard)

		// Evaluation
		r.Post("/opportunities/{id}/evaluate", handler.Evaluate)
		r.Post("/opportunities/{id}/evaluate/queue", handler.QueueEvaluate)

		// Risk queries
		r.Get("/opportunities/{id}/risks", handler.Risks)
		r.Get("/opportunities/{id}/risk/evolution", handler.RiskEvolution)
		r.Get("/opportunities/{id}/risk/breakdown", handler.RiskBreakdown)
		r.Get("/opportunities/{id}/risk/patterns", handler.RiskPatterns)

		// Financial exposure
		r.Get("/opportunities/{id}/revenue-at-risk", handler.RevenueAtRisk)
		r.Get("/revenue-at-risk", handler.PortfolioRevenueAtRisk)
		r.Get("/revenue-at-risk/team/{ownerId}", handler.TeamRevenueAtRisk)

		// Early warnings
		r.Get("/opportunities/{id}/warnings", handler.Warnings)

		// Risk catalog management
		r.Get("/catalog", handler.ListCatalog)
		r.Post("/catalog", handler.CreateCatalogEntry)
		r.Get("/catalog/{riskId}", handler.GetCatalogEntry)
		r.Put("/catalog/{riskId}", handler.UpdateCatalogEntry)
		r.Delete("/catalog/{riskId}", handler.DeleteCatalogEntry)
		r.Post("/catalog/{riskId}/duplicate", handler.DuplicateCatalogEntry)
		r.Post("/catalog/{riskId}/enable", handler.EnableCatalogEntry)
		r.Post("/catalog/{riskId}/disable", handler.DisableCatalogEntry)
	})

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
