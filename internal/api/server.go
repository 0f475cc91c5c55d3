package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ratelimit"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators of the HTTP layer. Cache, Bus, Batch, Limiter
// and Gatherer are optional.
type Deps struct {
	Service  *decision.Service
	Batch    *worker.Coordinator
	Engine   *rules.Engine
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Limiter  *ratelimit.Limiter
	Gatherer prometheus.Gatherer

	MaxBatchItems int
}

// Handler holds dependencies for API handlers.
type Handler struct {
	service  *decision.Service
	batch    *worker.Coordinator
	engine   *rules.Engine
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	maxBatch int
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(d Deps, version string) *Handler {
	return &Handler{
		service:  d.Service,
		batch:    d.Batch,
		engine:   d.Engine,
		repo:     d.Repo,
		cache:    d.Cache,
		bus:      d.Bus,
		maxBatch: d.MaxBatchItems,
		version:  version,
	}
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, d Deps, version string) *Server {
	handler := NewHandler(d, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(cfg.SlowRequestThreshold))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.Route("/api/v1", func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware)
		}

		r.Route("/scores", func(r chi.Router) {
			r.Post("/", handler.Score)
			r.Get("/", handler.ListScores)
			r.Post("/batch", handler.ScoreBatch)
			r.Post("/async", handler.ScoreAsync)
			r.Get("/lookup", handler.LookupScore)
			r.Get("/stats", handler.ScoreStats)
			r.Get("/{id}", handler.GetScore)
			r.Post("/{id}/recalculate", handler.Recalculate)
		})

		r.Route("/decisions", func(r chi.Router) {
			r.Get("/pending", handler.PendingDecisions)
			r.Put("/{id}", handler.ResolveDecision)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", handler.ListPolicies)
			r.Post("/", handler.CreatePolicy)
			r.Post("/reload", handler.ReloadPolicies)
			r.Get("/{id}", handler.GetPolicy)
			r.Put("/{id}", handler.UpdatePolicy)
			r.Patch("/{id}/status", handler.SetPolicyStatus)
			r.Delete("/{id}", handler.DeletePolicy)
		})
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
