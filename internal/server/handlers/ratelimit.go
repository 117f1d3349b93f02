package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/core/engine"
	apperrors "github.com/threadline/threadline/internal/errors"
	"github.com/threadline/threadline/internal/metrics"
	"github.com/threadline/threadline/internal/server/middleware"
)

// RateLimitService is the limiter surface the HTTP handlers drive.
type RateLimitService interface {
	Check(ctx context.Context, identifier, endpoint string, override *engine.Policy) engine.Decision
	Status(ctx context.Context, identifier, endpoint string) (*engine.Status, error)
	Reset(ctx context.Context, identifier, endpoint string) bool
	Cleanup(ctx context.Context) int64
}

// RateLimitAdmin lists and bulk-resets stored counters.
type RateLimitAdmin interface {
	ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitEntry, error)
	ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error)
}

// RateLimitHandler serves the gateway check routes and the admin routes.
type RateLimitHandler struct {
	Limiter           RateLimitService
	Admin             RateLimitAdmin
	TrustProxyHeaders bool
	Clock             func() time.Time
}

// StatusResponse is the JSON body for a counter status.
type StatusResponse struct {
	Identifier string `json:"identifier"`
	Endpoint   string `json:"endpoint"`
	engine.Status
}

// EntryResponse is one stored counter in an admin listing.
type EntryResponse struct {
	core.RateLimitEntry
	Expired bool `json:"expired"`
}

// ListResponse is the admin listing body.
type ListResponse struct {
	Entries []EntryResponse `json:"entries"`
	Count   int             `json:"count"`
}

// Check consumes one call for the requester on {endpoint} and reports the
// decision. Denied calls get the same 429 the middleware produces.
func (h *RateLimitHandler) Check(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.endpointParam(w, r)
	if !ok {
		return
	}

	identifier := middleware.Identifier(r, h.TrustProxyHeaders)
	decision := h.Limiter.Check(r.Context(), identifier, endpoint, nil)
	middleware.WriteRateLimitHeaders(w, decision)
	if !decision.Allowed {
		middleware.WriteRateLimited(w, r, decision)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// CallerStatus reports the requester's counter on {endpoint} without consuming a call.
func (h *RateLimitHandler) CallerStatus(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.endpointParam(w, r)
	if !ok {
		return
	}
	h.writeStatus(w, r, middleware.Identifier(r, h.TrustProxyHeaders), endpoint)
}

// Status reports the counter for {endpoint}/{identifier}.
func (h *RateLimitHandler) Status(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyParams(w, r)
	if !ok {
		return
	}
	h.writeStatus(w, r, key.Identifier, key.Endpoint)
}

// Reset deletes the counter for {endpoint}/{identifier}.
func (h *RateLimitHandler) Reset(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyParams(w, r)
	if !ok {
		return
	}

	ok = h.Limiter.Reset(r.Context(), key.Identifier, key.Endpoint)
	metrics.RecordOperation("admin_reset", ok)
	if !ok {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("rate limit store unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identifier": key.Identifier,
		"endpoint":   key.Endpoint,
		"reset":      true,
	})
}

// List returns stored counters filtered by the endpoint, identifier and
// prefix query parameters. No filter lists everything.
func (h *RateLimitHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Admin == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("rate limit admin not configured"))
		return
	}

	q := queryFromRequest(r)
	if q.Validate() != nil {
		q.All = true
	}

	entries, err := h.Admin.ListRateLimits(r.Context(), q)
	metrics.RecordOperation("admin_list", err == nil)
	if err != nil {
		metrics.RecordOperationError("admin_list", "store")
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list rate limits"))
		return
	}

	now := h.now()
	resp := ListResponse{Entries: make([]EntryResponse, 0, len(entries)), Count: len(entries)}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, EntryResponse{RateLimitEntry: entry, Expired: entry.Expired(now)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetMany deletes every counter matching the query. A filter or all=true
// is required.
func (h *RateLimitHandler) ResetMany(w http.ResponseWriter, r *http.Request) {
	if h.Admin == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("rate limit admin not configured"))
		return
	}

	q := queryFromRequest(r)
	if err := q.Validate(); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "a filter or all=true is required"))
		return
	}

	deleted, err := h.Admin.ResetRateLimits(r.Context(), q)
	metrics.RecordOperation("admin_reset_many", err == nil)
	if err != nil {
		metrics.RecordOperationError("admin_reset_many", "store")
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to reset rate limits"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// Cleanup sweeps expired counters.
func (h *RateLimitHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	deleted := h.Limiter.Cleanup(r.Context())
	metrics.RecordOperation("admin_cleanup", true)
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *RateLimitHandler) writeStatus(w http.ResponseWriter, r *http.Request, identifier, endpoint string) {
	status, err := h.Limiter.Status(r.Context(), identifier, endpoint)
	if err != nil || status == nil {
		envelope := apperrors.NewServiceUnavailableError("rate limit status unknown")
		respondWithError(w, r, envelope)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Identifier: identifier, Endpoint: endpoint, Status: *status})
}

func (h *RateLimitHandler) endpointParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	endpoint := core.RateLimitKey{Endpoint: chi.URLParam(r, "endpoint")}.Normalize().Endpoint
	if endpoint == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("endpoint is required"))
		return "", false
	}
	if strings.Contains(endpoint, ":") {
		respondWithError(w, r, apperrors.NewInvalidInputError("endpoint must not contain ':'"))
		return "", false
	}
	return endpoint, true
}

func (h *RateLimitHandler) keyParams(w http.ResponseWriter, r *http.Request) (core.RateLimitKey, bool) {
	key := core.RateLimitKey{
		Identifier: chi.URLParam(r, "identifier"),
		Endpoint:   chi.URLParam(r, "endpoint"),
	}.Normalize()
	if !key.Valid() {
		respondWithError(w, r, apperrors.NewInvalidInputError("endpoint and identifier are required"))
		return key, false
	}
	if strings.Contains(key.Endpoint, ":") {
		respondWithError(w, r, apperrors.NewInvalidInputError("endpoint must not contain ':'"))
		return key, false
	}
	return key, true
}

func (h *RateLimitHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now().UTC()
}

func queryFromRequest(r *http.Request) core.RateLimitQuery {
	values := r.URL.Query()
	all, _ := strconv.ParseBool(values.Get("all"))
	return core.RateLimitQuery{
		All:        all,
		Endpoint:   strings.TrimSpace(values.Get("endpoint")),
		Identifier: strings.TrimSpace(values.Get("identifier")),
		Prefix:     strings.TrimSpace(values.Get("prefix")),
	}
}
