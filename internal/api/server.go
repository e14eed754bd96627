package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/commission/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no actor required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/deals", func(r chi.Router) {
			r.Get("/", handler.ListDeals)
			r.Post("/", handler.CreateDeal)
			r.Get("/summary", handler.DealSummary)
			r.Get("/{id}", handler.GetDeal)
			r.Put("/{id}", handler.UpdateDeal)
			r.Patch("/{id}/status", handler.TransitionDeal)
			r.Get("/{id}/audit", handler.DealAudit)
		})

		r.Get("/policy", handler.ListPolicies)
		r.Post("/policy", handler.SavePolicy)
		r.Post("/simulation/preview", handler.Simulate)

		r.Get("/onboarding/progress/{userId}", handler.GetProgress)
		r.Post("/onboarding/progress/update", handler.UpdateProgress)

		r.Get("/notifications/{userId}", handler.ListNotifications)
		r.Get("/audit", handler.ListAudit)

		r.Get("/risk/rules", handler.ListRiskRules)
		r.Post("/risk/rules", handler.SaveRiskRule)
		r.Post("/risk/rules/reload", handler.ReloadRiskRules)
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
