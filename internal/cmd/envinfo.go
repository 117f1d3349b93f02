package cmd

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/threadline/threadline/internal/appid"
	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, effective configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		version := crucible.GetVersion()
		identity := appid.Get()

		logger.Info("=== " + identity.BinaryName + " Environment Information ===")
		logger.Info("")

		logger.Info("Application:")
		logger.Info("  Name:       " + identity.BinaryName)
		logger.Info("  Version:    " + versionInfo.Version)
		logger.Info("  Commit:     " + versionInfo.Commit)
		logger.Info("  Built:      " + versionInfo.BuildDate)
		logger.Info("  Env Prefix: " + identity.EnvPrefix)
		logger.Info("")

		logger.Info("SSOT:")
		logger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		logger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		logger.Info("")

		logger.Info("Runtime:")
		logger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		logger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		logger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		logger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		logger.Info("")

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			logger.Warn("Config load failed", zap.Error(err))
			return
		}

		logger.Info("Configuration:")
		logger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		logger.Info("  Server:         "+fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), zap.String("host", cfg.Server.Host), zap.Int("port", cfg.Server.Port))
		logger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		logger.Info("  Store Driver:   "+cfg.Store.Driver, zap.String("store_driver", cfg.Store.Driver))
		logger.Info("  Store Location: " + storeLocation(cfg.Store))
		logger.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		logger.Info(fmt.Sprintf("  JWT Secret:     %s", secretStatus(cfg.Auth.JWTSecret)))
		logger.Info("")

		logger.Info("Rate Limiting:")
		logger.Info(fmt.Sprintf("  Strict:             %t", cfg.RateLimit.Strict))
		logger.Info("  Timeout:            " + cfg.RateLimit.Timeout.String())
		logger.Info("  Cleanup Interval:   " + cfg.RateLimit.CleanupInterval.String())
		logger.Info(fmt.Sprintf("  Trust Proxy Headers: %t", cfg.RateLimit.TrustProxyHeaders))
		names := make([]string, 0, len(cfg.RateLimit.Policies))
		for name := range cfg.RateLimit.Policies {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := cfg.RateLimit.Policies[name]
			logger.Info(fmt.Sprintf("  Policy %-12s %d per %s", name+":", p.MaxRequests, p.Window))
		}
		logger.Info("")

		logger.Info("=== End Environment Information ===")
	},
}

func secretStatus(value string) string {
	if value != "" {
		return "(set)"
	}
	return "(not set)"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
