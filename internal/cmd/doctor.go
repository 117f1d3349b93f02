package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/threadline/threadline/internal/appid"
	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/core/backend"
	"github.com/threadline/threadline/internal/core/engine"
	"github.com/threadline/threadline/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on configuration, the rate limit store and auth setup.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		logger := observability.CLILogger
		identity := appid.Get()

		logger.Info("=== " + identity.BinaryName + " doctor ===")
		logger.Info("")

		allChecks := true
		totalChecks := 6

		// Check 1: Go version
		goVersion := runtime.Version()
		logger.Info(fmt.Sprintf("[1/%d] Checking Go runtime... ✅ %s %s/%s", totalChecks, goVersion, runtime.GOOS, runtime.GOARCH),
			zap.String("go_version", goVersion))

		// Check 2: Crucible / gofulmen
		version := crucible.GetVersion()
		if version.Crucible != "" && version.Gofulmen != "" {
			logger.Info(fmt.Sprintf("[2/%d] Checking Gofulmen/Crucible... ✅ v%s / v%s", totalChecks, version.Gofulmen, version.Crucible))
		} else {
			logger.Warn(fmt.Sprintf("[2/%d] Checking Gofulmen/Crucible... ⚠️  version metadata unavailable", totalChecks))
			allChecks = false
		}

		// Check 3: Config
		cfg, cfgErr := loadConfig(ctx)
		if cfgErr != nil {
			logger.Error(fmt.Sprintf("[3/%d] Checking configuration... ❌ %v", totalChecks, cfgErr))
			logger.Info("")
			logger.Warn("⚠️  Remaining checks skipped (config not loaded).")
			return
		}
		configPath := config.DefaultConfigPath()
		logger.Info(fmt.Sprintf("[3/%d] Checking configuration... ✅ %s (%s)", totalChecks, configPath, existenceStatus(fileExists(configPath))))

		// Check 4: Store
		db, storeErr := backend.Open(ctx, cfg.Store)
		if storeErr != nil {
			logger.Error(fmt.Sprintf("[4/%d] Checking rate limit store... ❌ %s", totalChecks, cfg.Store.Driver), zap.Error(storeErr))
			allChecks = false
		} else {
			defer db.Close() //nolint:errcheck
			count, err := db.CountRateLimits(ctx, core.RateLimitQuery{All: true})
			if err != nil {
				logger.Warn(fmt.Sprintf("[4/%d] Checking rate limit store... ⚠️  %s reachable, listing failed", totalChecks, db.Driver()), zap.Error(err))
				allChecks = false
			} else {
				logger.Info(fmt.Sprintf("[4/%d] Checking rate limit store... ✅ %s (%s, %d counters)", totalChecks, db.Driver(), storeLocation(cfg.Store), count))
			}
		}

		// Check 5: Policies
		limiter := newLimiter(cfg, nil, nil)
		policies := limiter.Policies
		if policies == nil {
			policies = engine.DefaultPolicies
		}
		endpoints := make([]string, 0, len(policies))
		for endpoint := range policies {
			endpoints = append(endpoints, endpoint)
		}
		sort.Strings(endpoints)
		summary := make([]string, 0, len(endpoints))
		for _, endpoint := range endpoints {
			p := limiter.Policy(endpoint)
			summary = append(summary, fmt.Sprintf("%s=%d/%s", endpoint, p.MaxRequests, p.Window))
		}
		mode := "relaxed"
		if cfg.RateLimit.Strict {
			mode = "strict"
		}
		logger.Info(fmt.Sprintf("[5/%d] Checking policies... ✅ %s mode", totalChecks, mode))
		if len(summary) > 0 {
			logger.Info("       " + strings.Join(summary, " "))
		}

		// Check 6: Auth
		if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
			logger.Warn(fmt.Sprintf("[6/%d] Checking auth... ⚠️  %s not set; admin routes are unreachable", totalChecks, appid.EnvVar("JWT_SECRET")))
			allChecks = false
		} else {
			logger.Info(fmt.Sprintf("[6/%d] Checking auth... ✅ issuer %q, admin role %q", totalChecks, cfg.Auth.Issuer, cfg.Auth.AdminRole))
		}

		logger.Info("")
		if allChecks {
			logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", identity.BinaryName))
		} else {
			logger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		logger.Info("")
		logger.Info("=== End Diagnostics ===")
	},
}

var doctorInitForce bool

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(buildInitConfig()), 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := cfgFile
		if configPath == "" {
			configPath = config.DefaultConfigPath()
		}
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}

		if _, err := loadConfig(cmd.Context()); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
}

func storeLocation(cfg config.StoreConfig) string {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case config.DriverRedis:
		return cfg.Redis.Addr
	default:
		if strings.TrimSpace(cfg.URL) != "" {
			return cfg.URL
		}
		if abs, err := filepath.Abs(cfg.Path); err == nil {
			return abs
		}
		return cfg.Path
	}
}

func buildInitConfig() string {
	lines := []string{
		"# threadline config - created by 'threadline doctor init'",
		"store:",
		"  driver: libsql",
		"  # driver: redis",
		"  # redis:",
		"  #   addr: localhost:6379",
		"auth:",
		"  # jwt_secret: \"\"  # Set via " + appid.EnvVar("JWT_SECRET"),
		"  admin_role: admin",
		"rate_limit:",
		"  strict: false",
		"  timeout: 2s",
		"  cleanup_interval: 1m",
		"  trust_proxy_headers: true",
		"  policies:",
		"    comment:",
		"      window: 1m",
		"      max_requests: 5",
		"    vote:",
		"      window: 10s",
		"      max_requests: 10",
		"    reaction:",
		"      window: 5s",
		"      max_requests: 20",
		"    auth:",
		"      window: 5m",
		"      max_requests: 5",
		"    api:",
		"      window: 1m",
		"      max_requests: 100",
	}
	return strings.Join(lines, "\n") + "\n"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}
