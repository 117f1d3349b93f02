package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/threadline/threadline/internal/core"
)

func (s *Store) matchingKeys(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitKey, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("store is not initialized")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}

	keys := make([]core.RateLimitKey, 0, len(members))
	for _, m := range members {
		key, ok := parseMember(m)
		if !ok || !q.Matches(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Endpoint != keys[j].Endpoint {
			return keys[i].Endpoint < keys[j].Endpoint
		}
		return keys[i].Identifier < keys[j].Identifier
	})
	return keys, nil
}

func (s *Store) ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitEntry, error) {
	keys, err := s.matchingKeys(ctx, q)
	if err != nil {
		return nil, err
	}

	entries := []core.RateLimitEntry{}
	for _, key := range keys {
		record, err := s.GetRateLimit(ctx, key)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		entries = append(entries, core.RateLimitEntry{RateLimitKey: key, RateLimitRecord: *record})
	}
	return entries, nil
}

func (s *Store) CountRateLimits(ctx context.Context, q core.RateLimitQuery) (int, error) {
	keys, err := s.matchingKeys(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Store) ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error) {
	keys, err := s.matchingKeys(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	recordKeys := make([]string, 0, len(keys))
	members := make([]any, 0, len(keys))
	for _, key := range keys {
		recordKeys = append(recordKeys, s.recordKey(key))
		members = append(members, member(key))
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, recordKeys...)
	pipe.ZRem(ctx, s.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return del.Val(), nil
}
