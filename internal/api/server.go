package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/fraudgate/internal/audit"
	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/metrics"
	"github.com/opensource-finance/fraudgate/internal/notify"
	"github.com/opensource-finance/fraudgate/internal/rules"
	"github.com/opensource-finance/fraudgate/internal/screening"
)

// Dependencies are the components the API serves. Repo, Cache, Bus and
// Metrics are optional.
type Dependencies struct {
	Rules     *rules.Store
	Audit     *audit.Recorder
	Hub       *notify.Hub
	Screening *screening.Service

	Repo    domain.Repository
	Cache   domain.Cache
	Bus     domain.EventBus
	Metrics *metrics.Metrics
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies, metricsPath, version string) *Server {
	handler := NewHandler(deps, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.Handle(metricsPath, deps.Metrics.Handler())
	}

	// The notification stream is long-lived and must not be buffered.
	router.Get("/api/notifications/stream", deps.Hub.ServeHTTP)

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", handler.ListRules)
			r.Post("/", handler.CreateRule)
			r.Get("/operators", handler.ListOperators)
			r.Get("/actions", handler.ListActions)
			r.Post("/reload", handler.ReloadRules)
			r.Get("/{id}", handler.GetRule)
			r.Put("/{id}", handler.UpdateRule)
			r.Delete("/{id}", handler.DeleteRule)
			r.Patch("/{id}/toggle", handler.ToggleRule)
		})

		r.Get("/audit", handler.ListAudit)
		r.Get("/audit/stats", handler.AuditStats)

		r.Post("/notifications", handler.PublishNotification)
		r.Get("/notifications", handler.RecentNotifications)

		r.Post("/applications", handler.ScreenApplication)
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
