package cmd

import (
	"context"
	"fmt"

	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/core/backend"
)

func openBackend(ctx context.Context) (backend.Backend, *config.Config, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	db, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errStoreUnavailable, err)
	}
	return db, cfg, nil
}
