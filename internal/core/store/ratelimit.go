package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/threadline/threadline/internal/core"
)

func (s *Store) prepare(ctx context.Context, key core.RateLimitKey) (context.Context, core.RateLimitKey, error) {
	ctx, _, err := s.conn(ctx)
	if err != nil {
		return ctx, key, err
	}
	key = key.Normalize()
	if !key.Valid() {
		return ctx, key, errors.New("identifier and endpoint are required")
	}
	return ctx, key, nil
}

// DeleteExpiredRateLimits removes every record whose window ended before now.
func (s *Store) DeleteExpiredRateLimits(ctx context.Context, now time.Time) (int64, error) {
	ctx, db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, `
		DELETE FROM rate_limits WHERE reset_at < ?
	`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("sweep rate limits: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rate limits: %w", err)
	}
	return affected, nil
}

// GetRateLimit returns the stored record for a key, or nil when none exists.
func (s *Store) GetRateLimit(ctx context.Context, key core.RateLimitKey) (*core.RateLimitRecord, error) {
	ctx, key, err := s.prepare(ctx, key)
	if err != nil {
		return nil, err
	}

	var (
		count   int
		resetAt int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT count, reset_at
		FROM rate_limits
		WHERE identifier = ? AND endpoint = ?
	`, key.Identifier, key.Endpoint)

	if err := row.Scan(&count, &resetAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}

	return &core.RateLimitRecord{Count: count, ResetAt: fromMillis(resetAt)}, nil
}

// InsertRateLimit opens a window with count 1. A record created by a racing
// caller in the meantime is incremented instead and keeps its reset_at.
func (s *Store) InsertRateLimit(ctx context.Context, key core.RateLimitKey, resetAt time.Time) error {
	ctx, key, err := s.prepare(ctx, key)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO rate_limits (identifier, endpoint, count, reset_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(identifier, endpoint) DO UPDATE SET
			count = rate_limits.count + 1
	`, key.Identifier, key.Endpoint, toMillis(resetAt))
	if err != nil {
		return fmt.Errorf("create rate limit: %w", err)
	}
	return nil
}

// IncrementRateLimit bumps the count by one and leaves reset_at untouched.
func (s *Store) IncrementRateLimit(ctx context.Context, key core.RateLimitKey) error {
	ctx, key, err := s.prepare(ctx, key)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		UPDATE rate_limits SET count = count + 1
		WHERE identifier = ? AND endpoint = ?
	`, key.Identifier, key.Endpoint)
	if err != nil {
		return fmt.Errorf("increment rate limit: %w", err)
	}
	return nil
}

// AcquireRateLimit consumes one request in a single statement: it opens a
// fresh window when the key is absent or expired, increments while the count
// is below limit, and otherwise leaves the row alone. The returned record is
// the state after the statement.
func (s *Store) AcquireRateLimit(ctx context.Context, key core.RateLimitKey, now time.Time, window time.Duration, limit int) (*core.RateLimitRecord, bool, error) {
	ctx, key, err := s.prepare(ctx, key)
	if err != nil {
		return nil, false, err
	}

	nowMs := toMillis(now)
	resetMs := toMillis(now.Add(window))

	var (
		count   int
		resetAt int64
	)

	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO rate_limits (identifier, endpoint, count, reset_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(identifier, endpoint) DO UPDATE SET
			count = CASE WHEN rate_limits.reset_at < ? THEN 1 ELSE rate_limits.count + 1 END,
			reset_at = CASE WHEN rate_limits.reset_at < ? THEN excluded.reset_at ELSE rate_limits.reset_at END
		WHERE rate_limits.count < ? OR rate_limits.reset_at < ?
		RETURNING count, reset_at
	`, key.Identifier, key.Endpoint, resetMs, nowMs, nowMs, limit, nowMs)

	err = row.Scan(&count, &resetAt)
	if err == nil {
		return &core.RateLimitRecord{Count: count, ResetAt: fromMillis(resetAt)}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("acquire rate limit: %w", err)
	}

	current, err := s.GetRateLimit(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// DeleteRateLimit removes the record for a single key.
func (s *Store) DeleteRateLimit(ctx context.Context, key core.RateLimitKey) error {
	ctx, key, err := s.prepare(ctx, key)
	if err != nil {
		return err
	}

	if _, err := s.DB.ExecContext(ctx, `
		DELETE FROM rate_limits WHERE identifier = ? AND endpoint = ?
	`, key.Identifier, key.Endpoint); err != nil {
		return fmt.Errorf("delete rate limit: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
