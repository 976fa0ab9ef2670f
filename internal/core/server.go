// Package core provides the HTTP chassis of the notification engine. It owns
// the chi router and the cross-cutting middleware (panic recovery, request
// IDs, logging, metrics, admin authentication) that run before requests reach
// the notification handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"avisos/internal/config"
)

// MetricsCollector records HTTP request telemetry.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of authenticated routes.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the HTTP surface so tests can inject
// fakes for each of them.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	// RouteRegistrars are mounted behind AuthMiddleware by MountRoutes.
	RouteRegistrars []RouteRegistrar

	router  *chi.Mux
	closers []func() error
}

// NewServer validates the mandatory dependencies and prepares an empty
// router. Callers fill the optional fields and then call MountRoutes.
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

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests that register ad-hoc routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a resource to close during Shutdown, in reverse order
// of registration.
func (s *Server) OnShutdown(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases the resources registered with OnShutdown. It keeps going
// after a failure and returns the first error.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Logger.ErrorContext(ctx, "error closing resource", "error", err)
			if first == nil {
				first = fmt.Errorf("closing resources: %w", err)
			}
		}
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return first
}
