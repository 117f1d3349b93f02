package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/threadline/threadline/internal/appid"
	"github.com/threadline/threadline/internal/auth"
	"github.com/threadline/threadline/internal/core/backend"
	errwrap "github.com/threadline/threadline/internal/errors"
	"github.com/threadline/threadline/internal/metrics"
	"github.com/threadline/threadline/internal/observability"
	"github.com/threadline/threadline/internal/server"
	"github.com/threadline/threadline/internal/server/handlers"
)

var (
	serverPort   int
	serverHost   string
	serverStrict bool
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rate limit gateway",
	Long: `Start the HTTP server with graceful shutdown support.

The server exposes POST /v1/rate-limit/{endpoint} for gateway checks and
the /admin/rate-limits routes for operators holding the admin role.
Expired counters are swept every rate_limit.cleanup_interval.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload rate limit policies from config`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		overrides := map[string]any{}
		if cmd.Flags().Changed("host") {
			overrides["server"] = map[string]any{"host": serverHost}
		}
		if cmd.Flags().Changed("port") {
			section, _ := overrides["server"].(map[string]any)
			if section == nil {
				section = map[string]any{}
			}
			section["port"] = serverPort
			overrides["server"] = section
		}
		if cmd.Flags().Changed("strict") {
			overrides["rate_limit"] = map[string]any{"strict": serverStrict}
		}

		cfg, err := loadConfig(ctx, overrides)
		if err != nil {
			return err
		}

		identity := appid.Get()
		namespace := identity.ConfigName
		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)
		logger := observability.ServerLogger

		var checkers map[string]handlers.HealthChecker
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
			checkers = map[string]handlers.HealthChecker{"telemetry": telemetryHealthChecker{}}
		}

		db, err := backend.Open(ctx, cfg.Store)
		if err != nil {
			logger.Error("Failed to open rate limit store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
			return errwrap.WrapDatabaseError(ctx, err, "store initialization failed")
		}

		limiter := newLimiter(cfg, db, logger)
		handlers.SetLimiterInfo(db.Driver(), cfg.RateLimit.Strict)
		verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if verifier == nil {
			logger.Warn("No JWT secret configured; every caller is keyed by client address and admin routes are unreachable")
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("store", db.Driver()),
			zap.Bool("strict", cfg.RateLimit.Strict),
			zap.Bool("metrics", cfg.Metrics.Enabled))

		srv := server.New(server.Options{
			Host:              cfg.Server.Host,
			Port:              cfg.Server.Port,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       cfg.Server.IdleTimeout,
			Version:           versionInfo.Version,
			Limiter:           limiter,
			Store:             db,
			Verifier:          verifier,
			AdminRole:         cfg.Auth.AdminRole,
			TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
			DisableHealth:     !cfg.Health.Enabled,
			Profiling:         cfg.Debug.Enabled,
			HealthCheckers:    checkers,
		})

		janitorCtx, stopJanitor := context.WithCancel(context.Background())
		janitorDone := limiter.StartJanitor(janitorCtx, cfg.RateLimit.CleanupInterval)
		go reportUptime(janitorCtx, time.Now())

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: server, janitor, store, metrics, logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Failed to stop metrics exporter", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close rate limit store", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stopJanitor()
			<-janitorDone
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: reloading rate limit policies")

			reloaded, err := loadConfig(ctx, overrides)
			if err != nil {
				logger.Error("Failed to reload config", zap.Error(err))
				return errwrap.WrapInvalidInput(ctx, err, "config reload failed")
			}

			limiter.ApplyPolicies(policiesFromConfig(reloaded.RateLimit.Policies))
			logger.Info("Rate limit policies reloaded",
				zap.Int("configured", len(reloaded.RateLimit.Policies)))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			stopJanitor()
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

// reportUptime refreshes the uptime gauge until ctx is cancelled.
func reportUptime(ctx context.Context, started time.Time) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			metrics.SetServerUptime(int64(now.Sub(started).Seconds()))
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
	serveCmd.Flags().BoolVar(&serverStrict, "strict", false, "enforce limits atomically in the store")
}
