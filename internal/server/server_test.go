package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/threadline/internal/auth"
	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/core/engine"
	apperrors "github.com/threadline/threadline/internal/errors"
)

// mapStore is a minimal in-process counter store for router tests.
type mapStore struct {
	mu    sync.Mutex
	state map[core.RateLimitKey]core.RateLimitRecord
}

func newMapStore() *mapStore {
	return &mapStore{state: make(map[core.RateLimitKey]core.RateLimitRecord)}
}

func (m *mapStore) DeleteExpiredRateLimits(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.state {
		if r.Expired(now) {
			delete(m.state, k)
			n++
		}
	}
	return n, nil
}

func (m *mapStore) GetRateLimit(ctx context.Context, key core.RateLimitKey) (*core.RateLimitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *mapStore) InsertRateLimit(ctx context.Context, key core.RateLimitKey, resetAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state[key]
	if ok {
		r.Count++
	} else {
		r = core.RateLimitRecord{Count: 1, ResetAt: resetAt}
	}
	m.state[key] = r
	return nil
}

func (m *mapStore) IncrementRateLimit(ctx context.Context, key core.RateLimitKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.state[key]; ok {
		r.Count++
		m.state[key] = r
	}
	return nil
}

func (m *mapStore) DeleteRateLimit(ctx context.Context, key core.RateLimitKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key)
	return nil
}

func (m *mapStore) ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.RateLimitEntry
	for k, r := range m.state {
		if q.Matches(k) {
			out = append(out, core.RateLimitEntry{RateLimitKey: k, RateLimitRecord: r})
		}
	}
	return out, nil
}

func (m *mapStore) ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.state {
		if q.Matches(k) {
			delete(m.state, k)
			n++
		}
	}
	return n, nil
}

func (m *mapStore) Ping(ctx context.Context) error { return nil }

func newTestServer(t *testing.T) (*Server, *auth.Verifier) {
	t.Helper()
	store := newMapStore()
	verifier := auth.NewVerifier("test-secret", "threadline")
	limiter := &engine.RateLimiter{
		Store: store,
		Policies: map[string]engine.Policy{
			"vote": {Window: 10 * time.Second, MaxRequests: 2},
			"api":  {Window: time.Minute, MaxRequests: 100},
		},
	}
	return New(Options{
		Host:              "127.0.0.1",
		Version:           "test",
		Limiter:           limiter,
		Store:             store,
		Verifier:          verifier,
		TrustProxyHeaders: true,
	}), verifier
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"})

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

func TestServerVoteScenario(t *testing.T) {
	srv, _ := newTestServer(t)

	vote := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/rate-limit/vote", nil)
		req.Header.Set("CF-Connecting-IP", "192.0.2.44")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, vote().Code)
	assert.Equal(t, http.StatusOK, vote().Code)

	denied := vote()
	require.Equal(t, http.StatusTooManyRequests, denied.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(denied.Body).Decode(&body))
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)
	assert.Contains(t, body.Error.Details, "reset_time")
}

func TestServerAdminRequiresRole(t *testing.T) {
	srv, verifier := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/rate-limits", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	member, err := verifier.Issue("user-1", []string{"member"}, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/admin/rate-limits", nil)
	req.Header.Set("Authorization", "Bearer "+member)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin, err := verifier.Issue("ops-1", []string{"admin"}, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/admin/rate-limits", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerAuthenticatedCallerIsKeyedByPrincipal(t *testing.T) {
	srv, verifier := newTestServer(t)
	token, err := verifier.Issue("user-77", nil, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/rate-limit/vote", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/rate-limit/vote", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Identifier string `json:"identifier"`
		Count      int    `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "user-77", status.Identifier)
	assert.Equal(t, 1, status.Count)
}

func TestServerHealthReady(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerOptionalRoutes(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1", DisableHealth: true, Profiling: true})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// rate limit routes are absent without a limiter
	req = httptest.NewRequest(http.MethodPost, "/v1/rate-limit/vote", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
