package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/threadline/internal/server/middleware"
)

func TestHTTPStatusFromCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeValidationFailed, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeServiceUnavailable, http.StatusServiceUnavailable},
		{CodeExternalService, http.StatusBadGateway},
		{CodeDatabase, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusFromCode(tt.code))
		})
	}
}

func TestHTTPStatusFromNilEnvelope(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestNewRateLimitedErrorCarriesResetTime(t *testing.T) {
	resetAt := time.Date(2025, 3, 1, 12, 0, 10, 0, time.UTC)
	envelope := NewRateLimitedError(resetAt)

	assert.Equal(t, CodeRateLimited, envelope.Code)
	details := ResponseDetails(envelope)
	require.NotNil(t, details)
	assert.Equal(t, "2025-03-01T12:00:10Z", details["reset_time"])
}

func TestEnsureEnvelopeWrapsPlainErrors(t *testing.T) {
	envelope := EnsureEnvelope(stderrors.New("boom"))
	require.NotNil(t, envelope)
	assert.Equal(t, CodeInternal, envelope.Code)

	original := NewNotFoundError("missing")
	assert.Same(t, original, EnsureEnvelope(original))
}

func TestWrapDatabaseErrorKeepsCause(t *testing.T) {
	envelope := WrapDatabaseError(context.Background(), stderrors.New("disk full"), "store failed")
	assert.Equal(t, CodeDatabase, envelope.Code)
	assert.Equal(t, "disk full", ResponseDetails(envelope)["wrapped_error"])
}

func TestRespondWithEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/rate-limits", nil)
	rec := httptest.NewRecorder()

	RespondWithEnvelope(rec, req, NewRateLimitedError(time.Now().Add(time.Minute)))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeRateLimited, body.Error.Code)
	assert.Contains(t, body.Error.Details, "reset_time")
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestWrapUsesRequestIDFromContext(t *testing.T) {
	var ctx context.Context
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/rate-limit/vote", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	envelope := WrapInternal(ctx, stderrors.New("boom"), "limiter failed")
	assert.Equal(t, "req-7", envelope.CorrelationID)
}

func TestEnsureCorrelationIDFallback(t *testing.T) {
	envelope := EnsureCorrelationID(NewInvalidInputError("bad"), context.Background())
	assert.True(t, strings.HasPrefix(envelope.CorrelationID, "fallback-"))
}
