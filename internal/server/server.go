package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/threadline/threadline/internal/auth"
	"github.com/threadline/threadline/internal/core/engine"
	apperrors "github.com/threadline/threadline/internal/errors"
	"github.com/threadline/threadline/internal/metrics"
	"github.com/threadline/threadline/internal/observability"
	"github.com/threadline/threadline/internal/server/handlers"
	servermw "github.com/threadline/threadline/internal/server/middleware"
)

// Store is the counter store surface the server needs for admin routes and health.
type Store interface {
	handlers.RateLimitAdmin
	handlers.Pinger
}

// Options configures a Server.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Version string

	// Limiter enforces rate limits; nil disables the rate limit routes.
	Limiter *engine.RateLimiter
	// Store backs the admin listing and the store health check.
	Store Store
	// Verifier parses bearer tokens; nil leaves every caller anonymous.
	Verifier          *auth.Verifier
	AdminRole         string
	TrustProxyHeaders bool

	// DisableHealth drops the /health probes.
	DisableHealth bool
	// Profiling mounts net/http/pprof under /debug.
	Profiling bool
	// HealthCheckers are registered alongside the store check.
	HealthCheckers map[string]handlers.HealthChecker
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	opts   Options
	health *handlers.HealthManager
	conns  atomic.Int64
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	if opts.AdminRole == "" {
		opts.AdminRole = "admin"
	}

	r := chi.NewRouter()

	// Middleware order: RequestID → Metrics → Recovery → Authenticate.
	// Client addresses are resolved by the rate limit middleware itself so
	// that proxy headers are only honoured when configured.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)
	r.Use(servermw.Authenticate(opts.Verifier))

	// Standardized error responses using centralized HandleError
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		opts:   opts,
		health: handlers.NewHealthManager(opts.Version),
	}
	if opts.Store != nil {
		s.health.RegisterChecker("store", handlers.PingChecker{Target: opts.Store})
	}
	for name, checker := range opts.HealthCheckers {
		s.health.RegisterChecker(name, checker)
	}

	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  durationOr(s.opts.ReadTimeout, 30*time.Second),
		WriteTimeout: durationOr(s.opts.WriteTimeout, 30*time.Second),
		IdleTimeout:  durationOr(s.opts.IdleTimeout, 120*time.Second),
		ConnState:    s.trackConn,
	}
	metrics.SetServerStartTime(time.Now().Unix())

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.opts.Host),
			zap.Int("port", s.opts.Port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.opts.Port
}

// trackConn keeps the active connection gauge in step with the listener.
func (s *Server) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		metrics.SetActiveConnections(s.conns.Add(1))
	case http.StateHijacked, http.StateClosed:
		metrics.SetActiveConnections(s.conns.Add(-1))
	}
}

// HandleError writes err as the standard JSON error envelope.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
