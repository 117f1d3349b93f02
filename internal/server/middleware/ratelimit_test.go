package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/threadline/internal/auth"
	"github.com/threadline/threadline/internal/core/engine"
)

type recordingLimiter struct {
	decision   engine.Decision
	identifier string
	endpoint   string
	override   *engine.Policy
}

func (l *recordingLimiter) Check(ctx context.Context, identifier, endpoint string, override *engine.Policy) engine.Decision {
	l.identifier = identifier
	l.endpoint = endpoint
	l.override = override
	return l.decision
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitAllowsAndSetsHeaders(t *testing.T) {
	resetAt := time.Now().Add(time.Minute).Truncate(time.Second)
	limiter := &recordingLimiter{decision: engine.Decision{Allowed: true, Remaining: 4, ResetAt: resetAt, Limit: 5}}

	var seen engine.Decision
	handler := RateLimit(limiter, "comment", RateLimitOptions{TrustProxyHeaders: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ok bool
			seen, ok = DecisionFromContext(r.Context())
			require.True(t, ok)
			w.WriteHeader(http.StatusCreated)
		}))

	req := httptest.NewRequest(http.MethodPost, "/comments", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "203.0.113.7", limiter.identifier)
	assert.Equal(t, "comment", limiter.endpoint)
	assert.Equal(t, "5", rec.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "4", rec.Header().Get(HeaderRateLimitRemaining))
	assert.Equal(t, strconv.FormatInt(resetAt.Unix(), 10), rec.Header().Get(HeaderRateLimitReset))
	assert.Equal(t, limiter.decision, seen)
}

func TestRateLimitDeniesWith429(t *testing.T) {
	resetAt := time.Now().Add(8 * time.Second)
	limiter := &recordingLimiter{decision: engine.Decision{Allowed: false, Remaining: 0, ResetAt: resetAt, Limit: 2}}

	called := false
	handler := RequestID(RateLimit(limiter, "vote", RateLimitOptions{})(okHandler(&called)))

	req := httptest.NewRequest(http.MethodPost, "/votes", nil)
	req.RemoteAddr = "198.51.100.4:5123"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.False(t, called, "downstream handler must not run")
	assert.Equal(t, "198.51.100.4", limiter.identifier)
	assert.Equal(t, "0", rec.Header().Get(HeaderRateLimitRemaining))

	retryAfter, err := strconv.Atoi(rec.Header().Get(HeaderRetryAfter))
	require.NoError(t, err)
	assert.InDelta(t, 8, retryAfter, 1)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)
	assert.Equal(t, "Rate limit exceeded", body.Error.Message)
	assert.Equal(t, resetAt.UTC().Format(time.RFC3339Nano), body.Error.Details["reset_time"])
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestRateLimitFailOpenPassesThrough(t *testing.T) {
	limiter := &recordingLimiter{decision: engine.Decision{Allowed: true, ResetAt: time.Now(), FailedOpen: true}}

	called := false
	handler := RateLimit(limiter, "vote", RateLimitOptions{})(okHandler(&called))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/votes", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderRateLimitLimit))
}

func TestRateLimitPassesOverride(t *testing.T) {
	override := &engine.Policy{Window: time.Second, MaxRequests: 1}
	limiter := &recordingLimiter{decision: engine.Decision{Allowed: true, Limit: 1}}

	called := false
	handler := RateLimit(limiter, "upload", RateLimitOptions{Override: override})(okHandler(&called))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Same(t, override, limiter.override)
}

func TestIdentifierPrefersPrincipal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("CF-Connecting-IP", "192.0.2.1")
	assert.Equal(t, "192.0.2.1", Identifier(req, true))

	req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{ID: "user-42"}))
	assert.Equal(t, "user-42", Identifier(req, true))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		trust   bool
		want    string
	}{
		{"CloudflareFirst", map[string]string{"CF-Connecting-IP": "192.0.2.1", "X-Forwarded-For": "192.0.2.2", "X-Real-IP": "192.0.2.3"}, "10.0.0.1:80", true, "192.0.2.1"},
		{"ForwardedFirstHop", map[string]string{"X-Forwarded-For": " 192.0.2.2 , 10.0.0.9", "X-Real-IP": "192.0.2.3"}, "10.0.0.1:80", true, "192.0.2.2"},
		{"RealIP", map[string]string{"X-Real-IP": "192.0.2.3"}, "10.0.0.1:80", true, "192.0.2.3"},
		{"EmptyForwardedFallsThrough", map[string]string{"X-Forwarded-For": " , 10.0.0.9", "X-Real-IP": "192.0.2.3"}, "10.0.0.1:80", true, "192.0.2.3"},
		{"RemoteAddr", nil, "10.0.0.1:80", true, "10.0.0.1"},
		{"IPv6RemoteAddr", nil, "[2001:db8::1]:443", true, "2001:db8::1"},
		{"UntrustedHeadersIgnored", map[string]string{"CF-Connecting-IP": "192.0.2.1"}, "10.0.0.1:80", false, "10.0.0.1"},
		{"Unknown", nil, "", true, UnknownClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req, tt.trust))
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 0, retryAfterSeconds(now.Add(-time.Second), now))
	assert.Equal(t, 1, retryAfterSeconds(now.Add(100*time.Millisecond), now))
	assert.Equal(t, 10, retryAfterSeconds(now.Add(10*time.Second), now))
}
