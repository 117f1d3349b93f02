// Package redisstore keeps rate-limit counters in Redis.
//
// Each key is a hash holding count and reset_at (unix millis). A sorted set
// indexed by reset_at backs the expiry sweep and the admin listing. Scripts
// touch keys derived from the index, so the store targets standalone Redis
// rather than Cluster.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/threadline/threadline/internal/core"
)

const defaultPrefix = "threadline:rl"

var sweepScript = redis.NewScript(`
local index = KEYS[1]
local prefix = ARGV[1]
local now = ARGV[2]

local members = redis.call("ZRANGEBYSCORE", index, "-inf", "(" .. now)
for _, member in ipairs(members) do
  redis.call("DEL", prefix .. ":" .. member)
  redis.call("ZREM", index, member)
end
return #members
`)

var insertScript = redis.NewScript(`
local key = KEYS[1]
local index = KEYS[2]
local member = ARGV[1]
local reset_at = ARGV[2]

if redis.call("EXISTS", key) == 1 then
  return redis.call("HINCRBY", key, "count", 1)
end
redis.call("HSET", key, "count", 1, "reset_at", reset_at)
redis.call("ZADD", index, reset_at, member)
return 1
`)

var incrementScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
return redis.call("HINCRBY", key, "count", 1)
`)

var acquireScript = redis.NewScript(`
local key = KEYS[1]
local index = KEYS[2]
local member = ARGV[1]
local now = tonumber(ARGV[2])
local window_ms = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])

local fields = redis.call("HMGET", key, "count", "reset_at")
local count = tonumber(fields[1])
local reset_at = tonumber(fields[2])

if count == nil or reset_at == nil or reset_at < now then
  reset_at = now + window_ms
  redis.call("HSET", key, "count", 1, "reset_at", reset_at)
  redis.call("ZADD", index, reset_at, member)
  return {1, 1, reset_at}
end

if count < limit then
  count = redis.call("HINCRBY", key, "count", 1)
  return {1, count, reset_at}
end
return {0, count, reset_at}
`)

// Store implements the rate-limit counter contract on Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// Option customizes a Store.
type Option func(*Store)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if trimmed := strings.Trim(strings.TrimSpace(prefix), ":"); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

// New wraps an existing client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis store: %w", err)
	}
	return New(client, opts...), nil
}

// Close releases the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Ping verifies the connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("store is not initialized")
	}
	return s.client.Ping(ctx).Err()
}

// Driver returns the store driver name.
func (s *Store) Driver() string {
	return "redis"
}

func (s *Store) indexKey() string {
	return s.prefix + ":index"
}

func member(key core.RateLimitKey) string {
	return key.Endpoint + ":" + key.Identifier
}

func parseMember(value string) (core.RateLimitKey, bool) {
	endpoint, identifier, ok := strings.Cut(value, ":")
	if !ok || endpoint == "" || identifier == "" {
		return core.RateLimitKey{}, false
	}
	return core.RateLimitKey{Identifier: identifier, Endpoint: endpoint}, true
}

func (s *Store) recordKey(key core.RateLimitKey) string {
	return s.prefix + ":" + member(key)
}

func (s *Store) prepare(key core.RateLimitKey) (core.RateLimitKey, error) {
	if s == nil || s.client == nil {
		return key, errors.New("store is not initialized")
	}
	key = key.Normalize()
	if !key.Valid() {
		return key, errors.New("identifier and endpoint are required")
	}
	if strings.Contains(key.Endpoint, ":") {
		return key, fmt.Errorf("endpoint %q must not contain ':'", key.Endpoint)
	}
	return key, nil
}

// DeleteExpiredRateLimits removes every record whose window ended before now.
func (s *Store) DeleteExpiredRateLimits(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("store is not initialized")
	}

	deleted, err := sweepScript.Run(ctx, s.client, []string{s.indexKey()}, s.prefix, now.UTC().UnixMilli()).Int64()
	if err != nil {
		return 0, fmt.Errorf("sweep rate limits: %w", err)
	}
	return deleted, nil
}

// GetRateLimit returns the stored record for a key, or nil when none exists.
func (s *Store) GetRateLimit(ctx context.Context, key core.RateLimitKey) (*core.RateLimitRecord, error) {
	key, err := s.prepare(key)
	if err != nil {
		return nil, err
	}

	values, err := s.client.HMGet(ctx, s.recordKey(key), "count", "reset_at").Result()
	if err != nil {
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}
	return decodeRecord(values)
}

// InsertRateLimit opens a window with count 1. A record created by a racing
// caller in the meantime is incremented instead and keeps its reset_at.
func (s *Store) InsertRateLimit(ctx context.Context, key core.RateLimitKey, resetAt time.Time) error {
	key, err := s.prepare(key)
	if err != nil {
		return err
	}

	keys := []string{s.recordKey(key), s.indexKey()}
	if err := insertScript.Run(ctx, s.client, keys, member(key), resetAt.UTC().UnixMilli()).Err(); err != nil {
		return fmt.Errorf("create rate limit: %w", err)
	}
	return nil
}

// IncrementRateLimit bumps the count by one and leaves reset_at untouched.
// A key deleted concurrently stays deleted.
func (s *Store) IncrementRateLimit(ctx context.Context, key core.RateLimitKey) error {
	key, err := s.prepare(key)
	if err != nil {
		return err
	}

	if err := incrementScript.Run(ctx, s.client, []string{s.recordKey(key)}).Err(); err != nil {
		return fmt.Errorf("increment rate limit: %w", err)
	}
	return nil
}

// AcquireRateLimit consumes one request atomically. See store.Store for the
// semantics; the Lua script gives the same single-step guarantee.
func (s *Store) AcquireRateLimit(ctx context.Context, key core.RateLimitKey, now time.Time, window time.Duration, limit int) (*core.RateLimitRecord, bool, error) {
	key, err := s.prepare(key)
	if err != nil {
		return nil, false, err
	}

	keys := []string{s.recordKey(key), s.indexKey()}
	res, err := acquireScript.Run(ctx, s.client, keys, member(key), now.UTC().UnixMilli(), window.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return nil, false, fmt.Errorf("acquire rate limit: %w", err)
	}
	if len(res) != 3 {
		return nil, false, fmt.Errorf("acquire rate limit: unexpected redis response")
	}

	record := &core.RateLimitRecord{Count: int(res[1]), ResetAt: time.UnixMilli(res[2]).UTC()}
	return record, res[0] == 1, nil
}

// DeleteRateLimit removes the record for a single key.
func (s *Store) DeleteRateLimit(ctx context.Context, key core.RateLimitKey) error {
	key, err := s.prepare(key)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.recordKey(key))
	pipe.ZRem(ctx, s.indexKey(), member(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete rate limit: %w", err)
	}
	return nil
}

func decodeRecord(values []any) (*core.RateLimitRecord, error) {
	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return nil, nil
	}

	count, err := toInt64(values[0])
	if err != nil {
		return nil, fmt.Errorf("decode rate limit count: %w", err)
	}
	resetAt, err := toInt64(values[1])
	if err != nil {
		return nil, fmt.Errorf("decode rate limit reset_at: %w", err)
	}

	return &core.RateLimitRecord{Count: int(count), ResetAt: time.UnixMilli(resetAt).UTC()}, nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", value)
	}
}
