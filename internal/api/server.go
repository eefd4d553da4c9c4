package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openresale/harrier/internal/analytics"
	"github.com/openresale/harrier/internal/baseline"
	"github.com/openresale/harrier/internal/domain"
	"github.com/openresale/harrier/internal/pack"
	"github.com/openresale/harrier/internal/worker"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, revaluer *worker.Worker, baselines *baseline.Service, packer *pack.Service, stats *analytics.Service, version string) *Server {
	handler := NewHandler(repo, cache, bus, revaluer, baselines, packer, stats, version)
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

	// Listings and evaluation
	router.Post("/listings", handler.CreateListing)
	router.Get("/listings/{id}", handler.GetListing)
	router.Get("/listings/{id}/valuation", handler.GetValuation)
	router.Post("/listings/{id}/evaluate", handler.EvaluateListing)
	router.Post("/recalculate", handler.Recalculate)

	// Rule-set management
	router.Get("/rulesets", handler.ListRuleSets)
	router.Get("/rulesets/{id}", handler.GetRuleSet)
	router.Post("/rulesets/{id}/hydrate", handler.HydrateRuleSet)
	router.Get("/rulesets/{id}/export", handler.ExportRuleSet)
	router.Post("/rules", handler.SaveRule)

	// Baseline lifecycle
	router.Get("/baseline", handler.GetBaseline)
	router.Post("/baseline", handler.InstantiateBaseline)
	router.Post("/baseline/diff", handler.DiffBaseline)
	router.Post("/baseline/adopt", handler.AdoptBaseline)

	// Packaging
	router.Get("/export", handler.ExportAll)
	router.Post("/import", handler.Import)

	// Analytics
	router.Get("/pricetargets/{cpu}", handler.GetPriceTarget)
	router.Get("/performance", handler.ListPerformanceValues)
	router.Post("/analytics/refresh", handler.RefreshAnalytics)

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
