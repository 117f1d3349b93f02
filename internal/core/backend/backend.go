// Package backend opens the configured counter store behind one interface.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/core/engine"
	"github.com/threadline/threadline/internal/core/redisstore"
	"github.com/threadline/threadline/internal/core/store"
)

// Backend is a counter store usable by the limiter, the admin surface and
// health checks.
type Backend interface {
	engine.AtomicRateLimitStore

	ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitEntry, error)
	CountRateLimits(ctx context.Context, q core.RateLimitQuery) (int, error)
	ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error)

	Ping(ctx context.Context) error
	Close() error
	Driver() string
}

var (
	_ Backend = (*store.Store)(nil)
	_ Backend = (*redisstore.Store)(nil)
)

// Open connects to the store named by cfg.Driver. libsql stores are migrated
// before they are returned.
func Open(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", config.DriverLibsql:
		s, err := store.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case config.DriverRedis:
		return redisstore.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redisstore.WithPrefix(cfg.Redis.Prefix))
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}
