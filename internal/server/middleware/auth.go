package middleware

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/threadline/threadline/internal/auth"
	"github.com/threadline/threadline/internal/observability"
)

// Authenticate attaches the bearer token's principal to the request context.
// Missing or invalid tokens leave the request anonymous; it never rejects.
func Authenticate(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ExtractBearer(r.Header.Get("Authorization"))
			if token == "" || verifier == nil {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verifier.Parse(token)
			if err != nil {
				if observability.ServerLogger != nil {
					observability.ServerLogger.Debug("Ignoring invalid bearer token",
						zap.String("request_id", GetRequestID(r.Context())),
						zap.Error(err))
				}
				next.ServeHTTP(w, r)
				return
			}

			principal := &auth.Principal{ID: claims.Subject, Roles: claims.Roles}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole rejects requests without a principal (401) or without role (403).
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.PrincipalFrom(r.Context())
			if principal == nil {
				envelope := errors.NewErrorEnvelope("UNAUTHORIZED", "authentication required").
					WithCorrelationID(GetRequestID(r.Context()))
				writeErrorResponse(w, envelope, http.StatusUnauthorized)
				return
			}
			if !principal.HasRole(role) {
				envelope := errors.NewErrorEnvelope("FORBIDDEN", "insufficient role").
					WithCorrelationID(GetRequestID(r.Context()))
				writeErrorResponse(w, envelope, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
