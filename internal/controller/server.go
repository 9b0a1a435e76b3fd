// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"feedplane/internal/auth"
	"feedplane/internal/controller/handlers"
	"feedplane/internal/controller/middleware"

	"golang.org/x/time/rate"
)

// Config configures the HTTP server.
type Config struct {
	Addr       string
	AdminToken string
	// RateLimit is requests per second per client; rate.Inf disables it.
	RateLimit rate.Limit
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
	// WriteTimeout bounds a response; ticks run inside the request so it must
	// cover a feed run. Zero disables it.
	WriteTimeout time.Duration
}

// Server is the HTTP server for the admin API.
type Server struct {
	httpServer *http.Server
}

// NewHandler builds the routed handler with its middleware stack.
func NewHandler(cfg Config, deps handlers.Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = cfg.Logger
	}
	h := handlers.New(deps)
	admin := middleware.RequireAdmin

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	// Scope-aware: anonymous callers get the public short-circuit.
	mux.HandleFunc("GET /queue", h.Queue)

	// Operator apis
	mux.Handle("GET /jobs", admin(http.HandlerFunc(h.ListJobs)))
	mux.Handle("POST /jobs", admin(http.HandlerFunc(h.CreateJob)))
	mux.Handle("GET /jobs/{id}", admin(http.HandlerFunc(h.GetJob)))
	mux.Handle("DELETE /jobs/{id}", admin(http.HandlerFunc(h.DeleteJob)))
	mux.Handle("POST /feeds/{type}/tick", admin(http.HandlerFunc(h.TickFeed)))
	mux.Handle("GET /uploads/{ref}", admin(http.HandlerFunc(h.UploadStatus)))

	limit := cfg.RateLimit
	if limit == 0 {
		limit = rate.Inf
	}
	burst := 1
	if limit != rate.Inf {
		burst = int(2*limit) + 1
	}
	limiter := middleware.NewRateLimiter(middleware.WithLimit(limit, burst))

	var handler http.Handler = mux
	handler = middleware.Identify(auth.NewTokenVerifier(cfg.AdminToken))(handler)
	handler = limiter.Middleware()(handler)
	handler = middleware.RequestID(cfg.Logger)(handler)
	return handler
}

// New creates a new controller server.
func New(cfg Config, deps handlers.Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(cfg, deps),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
