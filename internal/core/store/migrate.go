package store

import (
	"context"
	"fmt"
)

// migrations are applied in order; the position of each batch is its schema
// version, recorded in PRAGMA user_version.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS rate_limits (
			identifier TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 1,
			reset_at INTEGER NOT NULL,
			PRIMARY KEY (identifier, endpoint)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limits_reset_at ON rate_limits(reset_at)`,
	},
	{
		`CREATE INDEX IF NOT EXISTS idx_rate_limits_endpoint ON rate_limits(endpoint)`,
	},
}

// SchemaVersion is the version Migrate brings the database to.
func SchemaVersion() int {
	return len(migrations)
}

// Migrate applies every migration newer than the database's user_version.
// Statements are idempotent, so a database created before versioning is
// brought forward safely.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for version := current; version < len(migrations); version++ {
		for _, stmt := range migrations[version] {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store migration %d failed: %w", version+1, err)
			}
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version+1)); err != nil {
			return fmt.Errorf("record schema version %d: %w", version+1, err)
		}
	}
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	ctx, db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
