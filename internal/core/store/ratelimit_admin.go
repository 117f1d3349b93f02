package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/threadline/threadline/internal/core"
)

func whereClause(q core.RateLimitQuery) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}

	var (
		conds []string
		args  []any
	)
	if endpoint := strings.ToLower(strings.TrimSpace(q.Endpoint)); endpoint != "" {
		conds = append(conds, "endpoint = ?")
		args = append(args, endpoint)
	}
	if identifier := strings.TrimSpace(q.Identifier); identifier != "" {
		conds = append(conds, "identifier = ?")
		args = append(args, identifier)
	}
	if prefix := strings.TrimSpace(q.Prefix); prefix != "" {
		conds = append(conds, "identifier LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(prefix)+"%")
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func (s *Store) ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitEntry, error) {
	ctx, db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	where, args, err := whereClause(q)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT identifier, endpoint, count, reset_at
		FROM rate_limits
		%s
		ORDER BY endpoint, identifier
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []core.RateLimitEntry{}
	for rows.Next() {
		var (
			identifier string
			endpoint   string
			count      int
			resetAt    int64
		)
		if err := rows.Scan(&identifier, &endpoint, &count, &resetAt); err != nil {
			return nil, fmt.Errorf("scan rate limits: %w", err)
		}

		entries = append(entries, core.RateLimitEntry{
			RateLimitKey:    core.RateLimitKey{Identifier: identifier, Endpoint: endpoint},
			RateLimitRecord: core.RateLimitRecord{Count: count, ResetAt: fromMillis(resetAt)},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}

	return entries, nil
}

func (s *Store) CountRateLimits(ctx context.Context, q core.RateLimitQuery) (int, error) {
	ctx, db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}

	row := db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM rate_limits
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limits: %w", err)
	}
	return count, nil
}

func (s *Store) ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error) {
	ctx, db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM rate_limits
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return affected, nil
}
