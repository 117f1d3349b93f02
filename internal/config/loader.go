// Package config provides centralized configuration management for threadline.
// It layers built-in defaults, an optional YAML file, and THREADLINE_*
// environment variables with viper, then decodes the merged tree into a typed
// Config with mapstructure.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/threadline/threadline/internal/appid"
)

const (
	DriverLibsql = "libsql"
	DriverRedis  = "redis"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load loads configuration from defaults, the discovered config file, and the
// environment. Runtime overrides are applied last.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", runtimeOverrides...)
}

// LoadFile is Load with an explicit config file. An empty path falls back to
// discovery; an explicit path that cannot be read is an error.
func LoadFile(ctx context.Context, path string, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}
	if err := applyPolicyEnvOverrides(appid.EnvVar("RATE_LIMIT_POLICY_"), envOverrides); err != nil {
		return nil, err
	}
	if len(envOverrides) > 0 {
		if err := v.MergeConfigMap(envOverrides); err != nil {
			return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
		}
	}

	for _, overrides := range runtimeOverrides {
		if len(overrides) == 0 {
			continue
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to merge runtime overrides: %w", err)
		}
	}

	cfg, err := decode(v.AllSettings())
	if err != nil {
		return nil, err
	}

	if cfg.Store.Driver == DriverLibsql && strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch c.Store.Driver {
	case DriverLibsql:
	case DriverRedis:
		if strings.TrimSpace(c.Store.Redis.Addr) == "" {
			return errors.New("store.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported store driver %q (want %s or %s)", c.Store.Driver, DriverLibsql, DriverRedis)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.RateLimit.Timeout < 0 {
		return errors.New("rate_limit.timeout must not be negative")
	}
	if c.RateLimit.CleanupInterval < 0 {
		return errors.New("rate_limit.cleanup_interval must not be negative")
	}
	for endpoint, policy := range c.RateLimit.Policies {
		if policy.Window <= 0 || policy.MaxRequests <= 0 {
			return fmt.Errorf("rate_limit.policies.%s needs a positive window and max_requests", endpoint)
		}
	}
	return nil
}

func decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	path = strings.TrimSpace(path)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir := filepath.Dir(DefaultConfigPath()); dir != "." {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// It's OK if config file doesn't exist, we have defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	// Store defaults
	v.SetDefault("store.driver", DriverLibsql)
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "threadline:rl")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "threadline")
	v.SetDefault("auth.admin_role", "admin")

	// Rate limit defaults
	v.SetDefault("rate_limit.strict", false)
	v.SetDefault("rate_limit.timeout", "2s")
	v.SetDefault("rate_limit.cleanup_interval", "1m")
	v.SetDefault("rate_limit.trust_proxy_headers", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	env := appid.EnvVar

	return []EnvVarSpec{
		// Server config
		{Name: env("HOST"), Path: []string{"server", "host"}, Type: EnvString},
		{Name: env("PORT"), Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: env("READ_TIMEOUT"), Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: env("WRITE_TIMEOUT"), Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: env("IDLE_TIMEOUT"), Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: env("SHUTDOWN_TIMEOUT"), Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config
		{Name: env("LOG_LEVEL"), Path: []string{"logging", "level"}, Type: EnvString},
		{Name: env("LOG_PROFILE"), Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: env("DB_DRIVER"), Path: []string{"store", "driver"}, Type: EnvString},
		{Name: env("DB_PATH"), Path: []string{"store", "path"}, Type: EnvString},
		{Name: env("DB_URL"), Path: []string{"store", "url"}, Type: EnvString},
		{Name: env("DB_AUTH_TOKEN"), Path: []string{"store", "auth_token"}, Type: EnvString},
		{Name: env("REDIS_ADDR"), Path: []string{"store", "redis", "addr"}, Type: EnvString},
		{Name: env("REDIS_PASSWORD"), Path: []string{"store", "redis", "password"}, Type: EnvString},
		{Name: env("REDIS_DB"), Path: []string{"store", "redis", "db"}, Type: EnvInt},
		{Name: env("REDIS_PREFIX"), Path: []string{"store", "redis", "prefix"}, Type: EnvString},

		// Metrics config
		{Name: env("METRICS_ENABLED"), Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: env("METRICS_PORT"), Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: env("HEALTH_ENABLED"), Path: []string{"health", "enabled"}, Type: EnvBool},

		// Auth config
		{Name: env("JWT_SECRET"), Path: []string{"auth", "jwt_secret"}, Type: EnvString},
		{Name: env("JWT_ISSUER"), Path: []string{"auth", "issuer"}, Type: EnvString},
		{Name: env("ADMIN_ROLE"), Path: []string{"auth", "admin_role"}, Type: EnvString},

		// Rate limit config
		{Name: env("RATE_LIMIT_STRICT"), Path: []string{"rate_limit", "strict"}, Type: EnvBool},
		{Name: env("RATE_LIMIT_TIMEOUT"), Path: []string{"rate_limit", "timeout"}, Type: EnvString},
		{Name: env("RATE_LIMIT_CLEANUP_INTERVAL"), Path: []string{"rate_limit", "cleanup_interval"}, Type: EnvString},
		{Name: env("RATE_LIMIT_TRUST_PROXY_HEADERS"), Path: []string{"rate_limit", "trust_proxy_headers"}, Type: EnvBool},

		// Debug config
		{Name: env("DEBUG_ENABLED"), Path: []string{"debug", "enabled"}, Type: EnvBool},
	}
}

// applyPolicyEnvOverrides maps {prefix}<ENDPOINT>_WINDOW and
// {prefix}<ENDPOINT>_MAX_REQUESTS onto rate_limit.policies.<endpoint>.
func applyPolicyEnvOverrides(prefix string, envOverrides map[string]any) error {
	for _, item := range os.Environ() {
		key, value, ok := strings.Cut(item, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		rest := key[len(prefix):]
		var field string
		switch {
		case strings.HasSuffix(rest, "_MAX_REQUESTS"):
			field = "max_requests"
			rest = strings.TrimSuffix(rest, "_MAX_REQUESTS")
		case strings.HasSuffix(rest, "_WINDOW"):
			field = "window"
			rest = strings.TrimSuffix(rest, "_WINDOW")
		default:
			continue
		}

		endpoint := toSlug(rest)
		if endpoint == "" {
			continue
		}

		rateLimit := ensureMap(envOverrides, "rate_limit")
		policies := ensureMap(rateLimit, "policies")
		policy := ensureMap(policies, endpoint)

		if field == "max_requests" {
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			policy[field] = n
			continue
		}
		policy[field] = value
	}
	return nil
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.Get().ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(appid.Get().ConfigName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	identity := appid.Get()
	dataDir := gfconfig.GetAppDataDir(identity.ConfigName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + identity.BinaryName + ".db"
	}
	return filepath.Join(dataDir, identity.BinaryName+".db")
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func toSlug(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		clean = append(clean, p)
	}
	return strings.Join(clean, "-")
}
