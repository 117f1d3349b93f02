package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/metrics"
)

// DefaultPolicyEndpoint names the policy used for endpoints without their own entry.
const DefaultPolicyEndpoint = "api"

// DefaultTimeout bounds a single limiter call, store round-trips included.
const DefaultTimeout = 2 * time.Second

// Policy is a fixed window: at most MaxRequests calls per Window.
type Policy struct {
	Window      time.Duration `json:"window" yaml:"window"`
	MaxRequests int           `json:"max_requests" yaml:"max_requests"`
}

// Valid reports whether the policy can admit at least one request.
func (p Policy) Valid() bool {
	return p.Window > 0 && p.MaxRequests > 0
}

// DefaultPolicies are the built-in windows per endpoint tag.
var DefaultPolicies = map[string]Policy{
	"comment":              {Window: time.Minute, MaxRequests: 5},
	"vote":                 {Window: 10 * time.Second, MaxRequests: 10},
	"reaction":             {Window: 5 * time.Second, MaxRequests: 20},
	"auth":                 {Window: 5 * time.Minute, MaxRequests: 5},
	DefaultPolicyEndpoint: {Window: time.Minute, MaxRequests: 100},
}

// RateLimitStore is the counter store the limiter drives.
type RateLimitStore interface {
	DeleteExpiredRateLimits(ctx context.Context, now time.Time) (int64, error)
	GetRateLimit(ctx context.Context, key core.RateLimitKey) (*core.RateLimitRecord, error)
	InsertRateLimit(ctx context.Context, key core.RateLimitKey, resetAt time.Time) error
	IncrementRateLimit(ctx context.Context, key core.RateLimitKey) error
	DeleteRateLimit(ctx context.Context, key core.RateLimitKey) error
}

// AtomicRateLimitStore can consume a request against the ceiling in one step.
type AtomicRateLimitStore interface {
	RateLimitStore
	AcquireRateLimit(ctx context.Context, key core.RateLimitKey, now time.Time, window time.Duration, limit int) (*core.RateLimitRecord, bool, error)
}

// Logger is the subset of the structured logger the limiter writes to.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_time"`
	Limit     int       `json:"limit"`
	// FailedOpen is set when the store could not be consulted.
	FailedOpen bool `json:"-"`
}

// Status is a read-only view of a counter.
type Status struct {
	Count     int       `json:"count"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_time"`
	Limit     int       `json:"limit"`
}

// RateLimiter enforces fixed-window limits per (identifier, endpoint).
//
// In the default mode Check runs sweep, lookup and create-or-increment as
// separate store calls, so concurrent bursts on one key may overshoot
// MaxRequests slightly. With Strict set and an AtomicRateLimitStore, the
// count can never exceed MaxRequests.
type RateLimiter struct {
	Store    RateLimitStore
	Policies map[string]Policy
	Clock    func() time.Time
	Timeout  time.Duration
	Strict   bool
	Logger   Logger

	// mu guards Policies once ApplyPolicies may run alongside Check.
	mu sync.RWMutex
}

// Check decides whether identifier may call endpoint now and records the call.
// Store failures fail open.
func (r *RateLimiter) Check(ctx context.Context, identifier, endpoint string, override *Policy) (decision Decision) {
	now := r.now()
	policy := r.resolvePolicy(endpoint, override)
	key := core.RateLimitKey{Identifier: identifier, Endpoint: endpoint}.Normalize()

	if r == nil || r.Store == nil {
		return failOpen(now, policy)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			r.warn("Rate limit check panicked", key, fmt.Errorf("panic: %v", recovered))
			decision = failOpen(now, policy)
		}
		metrics.RecordRateLimitDecision(key.Endpoint, outcome(decision))
	}()

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var err error
	if atomic, ok := r.Store.(AtomicRateLimitStore); ok && r.Strict {
		decision, err = r.checkAtomic(ctx, atomic, key, policy, now)
	} else {
		decision, err = r.checkRelaxed(ctx, key, policy, now)
	}
	if err != nil {
		r.warn("Rate limit check failed, allowing request", key, err)
		return failOpen(now, policy)
	}
	if !decision.Allowed && r.Logger != nil {
		r.Logger.Debug("Rate limit exceeded",
			zap.String("identifier", key.Identifier),
			zap.String("endpoint", key.Endpoint),
			zap.Time("reset_time", decision.ResetAt))
	}
	return decision
}

func (r *RateLimiter) checkRelaxed(ctx context.Context, key core.RateLimitKey, policy Policy, now time.Time) (Decision, error) {
	if _, err := r.Store.DeleteExpiredRateLimits(ctx, now); err != nil {
		metrics.RecordRateLimitStoreError("sweep")
		return Decision{}, err
	}

	record, err := r.Store.GetRateLimit(ctx, key)
	if err != nil {
		metrics.RecordRateLimitStoreError("get")
		return Decision{}, err
	}

	if record != nil && record.Expired(now) {
		// created by a racing caller after our sweep ran against an older clock
		if err := r.Store.DeleteRateLimit(ctx, key); err != nil {
			metrics.RecordRateLimitStoreError("delete")
			return Decision{}, err
		}
		record = nil
	}

	if record == nil {
		resetAt := now.Add(policy.Window)
		if err := r.Store.InsertRateLimit(ctx, key, resetAt); err != nil {
			metrics.RecordRateLimitStoreError("insert")
			return Decision{}, err
		}
		return Decision{Allowed: true, Remaining: policy.MaxRequests - 1, ResetAt: resetAt, Limit: policy.MaxRequests}, nil
	}

	if record.Count >= policy.MaxRequests {
		return Decision{Allowed: false, Remaining: 0, ResetAt: record.ResetAt, Limit: policy.MaxRequests}, nil
	}

	if err := r.Store.IncrementRateLimit(ctx, key); err != nil {
		metrics.RecordRateLimitStoreError("increment")
		return Decision{}, err
	}
	return Decision{
		Allowed:   true,
		Remaining: policy.MaxRequests - record.Count - 1,
		ResetAt:   record.ResetAt,
		Limit:     policy.MaxRequests,
	}, nil
}

func (r *RateLimiter) checkAtomic(ctx context.Context, store AtomicRateLimitStore, key core.RateLimitKey, policy Policy, now time.Time) (Decision, error) {
	if _, err := store.DeleteExpiredRateLimits(ctx, now); err != nil {
		metrics.RecordRateLimitStoreError("sweep")
		return Decision{}, err
	}

	record, acquired, err := store.AcquireRateLimit(ctx, key, now, policy.Window, policy.MaxRequests)
	if err != nil {
		metrics.RecordRateLimitStoreError("acquire")
		return Decision{}, err
	}

	if !acquired {
		resetAt := now
		if record != nil {
			resetAt = record.ResetAt
		}
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt, Limit: policy.MaxRequests}, nil
	}

	remaining := policy.MaxRequests - record.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: record.ResetAt, Limit: policy.MaxRequests}, nil
}

// Reset deletes the counter for a key. It reports false on store failure.
func (r *RateLimiter) Reset(ctx context.Context, identifier, endpoint string) bool {
	if r == nil || r.Store == nil {
		return false
	}

	key := core.RateLimitKey{Identifier: identifier, Endpoint: endpoint}.Normalize()
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.Store.DeleteRateLimit(ctx, key); err != nil {
		metrics.RecordRateLimitStoreError("delete")
		r.warn("Rate limit reset failed", key, err)
		return false
	}
	return true
}

// Status reports the counter for a key without creating or mutating it.
// A nil status with an error means the state is unknown; a missing record
// yields a fresh status.
func (r *RateLimiter) Status(ctx context.Context, identifier, endpoint string) (*Status, error) {
	if r == nil || r.Store == nil {
		return nil, fmt.Errorf("rate limiter is not initialized")
	}

	now := r.now()
	policy := r.resolvePolicy(endpoint, nil)
	key := core.RateLimitKey{Identifier: identifier, Endpoint: endpoint}.Normalize()

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	record, err := r.Store.GetRateLimit(ctx, key)
	if err != nil {
		metrics.RecordRateLimitStoreError("get")
		r.warn("Rate limit status failed", key, err)
		return nil, err
	}

	if record == nil || record.Expired(now) {
		return &Status{
			Count:     0,
			Remaining: policy.MaxRequests,
			ResetAt:   now.Add(policy.Window),
			Limit:     policy.MaxRequests,
		}, nil
	}

	remaining := policy.MaxRequests - record.Count
	if remaining < 0 {
		remaining = 0
	}
	return &Status{
		Count:     record.Count,
		Remaining: remaining,
		ResetAt:   record.ResetAt,
		Limit:     policy.MaxRequests,
	}, nil
}

// Cleanup deletes every expired counter and returns how many were removed.
func (r *RateLimiter) Cleanup(ctx context.Context) int64 {
	if r == nil || r.Store == nil {
		return 0
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	deleted, err := r.Store.DeleteExpiredRateLimits(ctx, r.now())
	if err != nil {
		metrics.RecordRateLimitStoreError("sweep")
		if r.Logger != nil {
			r.Logger.Warn("Rate limit cleanup failed", zap.Error(err))
		}
		return 0
	}
	if deleted < 0 {
		deleted = 0
	}
	metrics.RecordRateLimitCleanup(deleted)
	return deleted
}

// ApplyPolicies replaces the policy table with the built-in table overlaid by
// policies. Entries that cannot admit a request are skipped, and an empty
// input restores the built-ins.
func (r *RateLimiter) ApplyPolicies(policies map[string]Policy) {
	if r == nil {
		return
	}

	table := make(map[string]Policy, len(DefaultPolicies)+len(policies))
	for endpoint, policy := range DefaultPolicies {
		table[endpoint] = policy
	}
	for endpoint, policy := range policies {
		endpoint = normalizeEndpoint(endpoint)
		if endpoint == "" || !policy.Valid() {
			continue
		}
		table[endpoint] = policy
	}

	r.mu.Lock()
	r.Policies = table
	r.mu.Unlock()
}

// Policy returns the effective policy for an endpoint.
func (r *RateLimiter) Policy(endpoint string) Policy {
	return r.resolvePolicy(endpoint, nil)
}

func (r *RateLimiter) resolvePolicy(endpoint string, override *Policy) Policy {
	if override != nil && override.Valid() {
		return *override
	}

	var policies map[string]Policy
	if r != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		policies = r.Policies
	}
	if policies == nil {
		policies = DefaultPolicies
	}

	if policy, ok := policies[normalizeEndpoint(endpoint)]; ok && policy.Valid() {
		return policy
	}
	if policy, ok := policies[DefaultPolicyEndpoint]; ok && policy.Valid() {
		return policy
	}
	return DefaultPolicies[DefaultPolicyEndpoint]
}

func normalizeEndpoint(endpoint string) string {
	return core.RateLimitKey{Endpoint: endpoint}.Normalize().Endpoint
}

func (r *RateLimiter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := DefaultTimeout
	if r != nil && r.Timeout > 0 {
		timeout = r.Timeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *RateLimiter) warn(msg string, key core.RateLimitKey, err error) {
	if r == nil || r.Logger == nil {
		return
	}
	r.Logger.Warn(msg,
		zap.String("identifier", key.Identifier),
		zap.String("endpoint", key.Endpoint),
		zap.Error(err))
}

func failOpen(now time.Time, policy Policy) Decision {
	return Decision{Allowed: true, Remaining: 0, ResetAt: now, Limit: policy.MaxRequests, FailedOpen: true}
}

func outcome(d Decision) string {
	switch {
	case d.FailedOpen:
		return "fail_open"
	case d.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}
