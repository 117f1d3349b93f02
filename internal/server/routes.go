package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/threadline/threadline/internal/appid"
	"github.com/threadline/threadline/internal/core/engine"
	"github.com/threadline/threadline/internal/observability"
	"github.com/threadline/threadline/internal/server/handlers"
	servermw "github.com/threadline/threadline/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	if !s.opts.DisableHealth {
		s.router.Get("/health", s.health.HealthHandler)
		s.router.Get("/health/live", s.health.LivenessHandler)
		s.router.Get("/health/ready", s.health.ReadinessHandler)
		s.router.Get("/health/startup", s.health.StartupHandler)
	}

	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	if s.opts.Limiter != nil {
		s.registerRateLimitRoutes()
	}

	if s.opts.Profiling {
		s.router.Mount("/debug", chimw.Profiler())
	}

	// Admin signal endpoint (optional, requires THREADLINE_ADMIN_TOKEN)
	s.registerSignalEndpoint()
}

func (s *Server) registerRateLimitRoutes() {
	h := &handlers.RateLimitHandler{
		Limiter:           s.opts.Limiter,
		TrustProxyHeaders: s.opts.TrustProxyHeaders,
	}
	if s.opts.Store != nil {
		h.Admin = s.opts.Store
	}

	s.router.Post("/v1/rate-limit/{endpoint}", h.Check)
	s.router.Get("/v1/rate-limit/{endpoint}", h.CallerStatus)

	s.router.Route("/admin/rate-limits", func(r chi.Router) {
		// admin calls count against the default policy before the role check
		r.Use(servermw.RateLimit(s.opts.Limiter, engine.DefaultPolicyEndpoint, servermw.RateLimitOptions{
			TrustProxyHeaders: s.opts.TrustProxyHeaders,
		}))
		r.Use(servermw.RequireRole(s.opts.AdminRole))

		r.Get("/", h.List)
		r.Delete("/", h.ResetMany)
		r.Post("/cleanup", h.Cleanup)
		r.Get("/{endpoint}/{identifier}", h.Status)
		r.Delete("/{endpoint}/{identifier}", h.Reset)
	})
}

// registerSignalEndpoint optionally registers the admin signal endpoint
func (s *Server) registerSignalEndpoint() {
	tokenVar := appid.EnvVar("ADMIN_TOKEN")
	adminToken := os.Getenv(tokenVar)
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + tokenVar + " set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
