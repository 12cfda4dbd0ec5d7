package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"credsync/internal/platform/secrets"
)

// RequireOperatorKey guards the operator surface with a bearer key compared
// against a bcrypt hash. The plaintext key is never stored server-side.
func RequireOperatorKey(keyHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			key, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || key == "" {
				logger.WarnContext(ctx, "operator request missing key",
					"request_id", GetRequestID(ctx),
					"path", r.URL.Path,
				)
				writeUnauthorized(w)
				return
			}
			if err := secrets.Verify(key, keyHash); err != nil {
				logger.WarnContext(ctx, "operator request with invalid key",
					"request_id", GetRequestID(ctx),
					"path", r.URL.Path,
				)
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Missing or invalid operator key"}`))
}
