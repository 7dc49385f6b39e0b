// Package core provides the API chassis for the tourbook payments service.
// It creates a chi router usable both as a standard HTTP server (local dev)
// and behind AWS Lambda Proxy Integration. It enforces cross-cutting
// concerns before requests reach domain handlers: panic recovery, request
// correlation, logging, CORS and authentication.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tourbook/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a handler group onto the /v1 router.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the HTTP API. Fields are exported so the
// entry point and tests can inject collaborators before MountRoutes.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator

	// V1RouteRegistrars are mounted under /v1 by MountRoutes. Populated by
	// main.go so core does not import the handler packages.
	V1RouteRegistrars []RouteRegistrar

	// HealthProbes are executed by GET /health.
	HealthProbes []HealthProbe

	// Closers are released by Shutdown in order.
	Closers []func()

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately by MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, closeFn := range s.Closers {
		closeFn()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
