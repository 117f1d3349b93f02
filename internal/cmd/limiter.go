package cmd

import (
	"github.com/fulmenhq/gofulmen/logging"

	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/core/engine"
)

// newLimiter builds a limiter over store using the configured policies and mode.
func newLimiter(cfg *config.Config, store engine.RateLimitStore, logger *logging.Logger) *engine.RateLimiter {
	limiter := &engine.RateLimiter{
		Store:   store,
		Timeout: cfg.RateLimit.Timeout,
		Strict:  cfg.RateLimit.Strict,
	}
	if logger != nil {
		limiter.Logger = logger
	}
	limiter.ApplyPolicies(policiesFromConfig(cfg.RateLimit.Policies))
	return limiter
}

func policiesFromConfig(policies map[string]config.PolicyConfig) map[string]engine.Policy {
	out := make(map[string]engine.Policy, len(policies))
	for endpoint, p := range policies {
		out[endpoint] = engine.Policy{Window: p.Window, MaxRequests: p.MaxRequests}
	}
	return out
}
