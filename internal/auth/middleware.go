package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
)

type contextKey struct{}

var claimsKey = contextKey{}

// ClaimsFromContext returns the verified claims attached by Middleware, and
// whether any were present.
func ClaimsFromContext(ctx context.Context) (*tracking.TokenClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*tracking.TokenClaims)
	return claims, ok
}

// ContextWithClaims attaches verified claims to ctx. Exposed for tests and
// for handlers constructed outside the middleware chain.
func ContextWithClaims(ctx context.Context, claims *tracking.TokenClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// Middleware wraps next with bearer-token authentication. A missing
// Authorization header is rejected as a missing credential, a failed
// verification as an invalid one; on success the normalized claims are
// attached to the request context for downstream handlers.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header || raw == "" {
			writeJSONError(w, http.StatusUnauthorized, "malformed authorization header")
			return
		}

		claims, err := v.Verify(raw)
		if err != nil {
			v.logger.Warn().Err(err).Msg("Rejected bearer credential.")
			writeJSONError(w, http.StatusUnauthorized, rejectionMessage(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, ErrWrongPurpose):
		return "token purpose not accepted"
	case errors.Is(err, ErrMissingSubject):
		return "token has no subject"
	default:
		return "invalid authentication token"
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
