package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mselser95/binary-arb/pkg/healthprobe"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server provides HTTP endpoints for metrics, health checks and the
// operator API.
type Server struct {
	server        *http.Server
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
}

// Config holds server configuration. Control, Books and Cycles are optional;
// their routes are only mounted when set.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker
	Control       Commander
	Books         BookView
	Cycles        CycleLister
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	return &Server{
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           NewRouter(cfg),
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger:        cfg.Logger,
		healthChecker: cfg.HealthChecker,
	}
}

// NewRouter builds the route table.
func NewRouter(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	r.Route("/api", func(r chi.Router) {
		if cfg.Control != nil {
			ch := &controlHandler{control: cfg.Control, logger: cfg.Logger}
			r.Get("/status", ch.HandleStatus)
			r.Post("/control/{command}", ch.HandleCommand)
		}
		if cfg.Books != nil {
			bh := NewOrderbookHandler(cfg.Books, cfg.Logger)
			r.Get("/orderbook", bh.HandleOrderbook)
			r.Get("/markets", bh.HandleMarkets)
		}
		if cfg.Cycles != nil {
			cy := &cyclesHandler{cycles: cfg.Cycles, logger: cfg.Logger}
			r.Get("/cycles", cy.HandleCycles)
		}
	})

	return r
}

// Start starts the HTTP server.
// This is a blocking call that returns when the server stops or encounters an error.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}
