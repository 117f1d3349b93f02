package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/threadline/threadline/internal/auth"
	"github.com/threadline/threadline/internal/core/engine"
	"github.com/threadline/threadline/internal/observability"
)

// Rate limit response headers
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// UnknownClient is the identifier used when no address can be determined.
const UnknownClient = "unknown"

// Limiter decides whether a call is admitted.
type Limiter interface {
	Check(ctx context.Context, identifier, endpoint string, override *engine.Policy) engine.Decision
}

// RateLimitOptions tunes the rate limit middleware.
type RateLimitOptions struct {
	// TrustProxyHeaders reads CF-Connecting-IP, X-Forwarded-For and X-Real-IP.
	TrustProxyHeaders bool
	// Override replaces the endpoint policy for this route.
	Override *engine.Policy
}

type decisionContextKey struct{}

// DecisionFromContext returns the decision made for this request, if any.
func DecisionFromContext(ctx context.Context) (engine.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(engine.Decision)
	return d, ok
}

// RateLimit admits or rejects requests for endpoint before they reach next.
// Denied requests get a 429 envelope carrying reset_time.
func RateLimit(limiter Limiter, endpoint string, opts RateLimitOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			identifier := Identifier(r, opts.TrustProxyHeaders)
			decision := limiter.Check(r.Context(), identifier, endpoint, opts.Override)
			WriteRateLimitHeaders(w, decision)

			if !decision.Allowed {
				if observability.ServerLogger != nil {
					observability.ServerLogger.Info("Rate limit exceeded",
						zap.String("identifier", identifier),
						zap.String("endpoint", endpoint),
						zap.String("request_id", GetRequestID(r.Context())))
				}
				WriteRateLimited(w, r, decision)
				return
			}

			ctx := context.WithValue(r.Context(), decisionContextKey{}, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteRateLimitHeaders sets X-RateLimit-* for a decision. Fail-open
// decisions carry no meaningful counters and are left without headers.
func WriteRateLimitHeaders(w http.ResponseWriter, d engine.Decision) {
	if d.FailedOpen {
		return
	}
	h := w.Header()
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// WriteRateLimited writes the 429 response for a denied decision.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, d engine.Decision) {
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(d.ResetAt, time.Now())))

	envelope := errors.NewErrorEnvelope("RATE_LIMITED", "Rate limit exceeded").
		WithCorrelationID(GetRequestID(r.Context())).
		WithDetails(map[string]interface{}{
			"reset_time": d.ResetAt.UTC().Format(time.RFC3339Nano),
		})
	writeErrorResponse(w, envelope, http.StatusTooManyRequests)
}

func retryAfterSeconds(resetAt, now time.Time) int {
	seconds := math.Ceil(resetAt.Sub(now).Seconds())
	if seconds < 0 {
		return 0
	}
	return int(seconds)
}

// Identifier picks the rate limit subject for a request: the authenticated
// principal when present, otherwise the client address.
func Identifier(r *http.Request, trustProxyHeaders bool) string {
	if p := auth.PrincipalFrom(r.Context()); p != nil && strings.TrimSpace(p.ID) != "" {
		return p.ID
	}
	return ClientIP(r, trustProxyHeaders)
}

// ClientIP resolves the caller address. With trustProxyHeaders the order is
// CF-Connecting-IP, the first X-Forwarded-For hop, then X-Real-IP; the
// socket address comes last and "unknown" when nothing is usable.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return UnknownClient
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
