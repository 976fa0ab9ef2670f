package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"avisos/internal/types"
)

// defaultRequestTimeout applies when the config leaves Server.RequestTimeout
// unset.
const defaultRequestTimeout = 30 * time.Second

var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Api-Key",
}

// MountRoutes registers the global middleware chain, the public operational
// routes and every RouteRegistrar behind the admin authentication.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Get("/health", s.HandleHealth)
	if s.MetricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", s.MetricsHandler)
	}

	s.router.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		for _, registrar := range s.RouteRegistrars {
			registrar(r)
		}
	})
}

// registerGlobalMiddleware applies middleware in strict order:
//  1. Recoverer        outermost, so every panic becomes a 500 envelope.
//  2. ContextTimeout   bounds handler work, including synchronous job runs.
//  3. RequestID        correlation ID for logs and error envelopes.
//  4. SecurityHeaders
//  5. RequestLogger
//  6. CORS
//  7. Metrics
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses the caller's X-Request-Id or generates one, and
// echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-" + hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}
