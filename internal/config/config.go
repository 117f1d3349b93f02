package config

import (
	"time"
)

// Config represents the complete application configuration.
// Values are layered in this order, later layers winning:
// Layer 1: Built-in defaults (setDefaults)
// Layer 2: YAML config file (~/.config/threadline/config.yaml or --config)
// Layer 3: Environment variables (THREADLINE_*) and runtime overrides
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects and configures the counter store.
//
// Driver "libsql" uses Path (local file) or URL/AuthToken (Turso).
// Driver "redis" uses the Redis block.
type StoreConfig struct {
	Driver    string      `mapstructure:"driver"`
	Path      string      `mapstructure:"path"`
	URL       string      `mapstructure:"url"`
	AuthToken string      `mapstructure:"auth_token"`
	Redis     RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains the Redis counter store connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	// JWTSecret is the HS256 signing key. Empty disables token parsing,
	// which leaves every caller anonymous and the admin routes closed.
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	// AdminRole is the role claim required for /admin routes.
	AdminRole string `mapstructure:"admin_role"`
}

// RateLimitConfig configures the limiter.
type RateLimitConfig struct {
	// Strict makes the ceiling hold under concurrent bursts on one key.
	Strict bool `mapstructure:"strict"`
	// Timeout bounds each limiter call against the store.
	Timeout time.Duration `mapstructure:"timeout"`
	// CleanupInterval is the janitor period; zero disables it.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// TrustProxyHeaders enables CF-Connecting-IP, X-Forwarded-For and
	// X-Real-IP when resolving the client address.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
	// Policies override or extend the built-in per-endpoint windows.
	Policies map[string]PolicyConfig `mapstructure:"policies"`
}

// PolicyConfig is one fixed window.
type PolicyConfig struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`
}
