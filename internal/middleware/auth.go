package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"

	"halocore/internal/infrastructure"
)

// AdminAPIKeyHeader carries the admin credential on privileged routes.
const AdminAPIKeyHeader = "X-Admin-API-Key"

// AdminAuth guards the admin control surface. The configured key is
// compared in constant time; an empty configured key disables the surface
// entirely rather than leaving it open.
func AdminAuth(apiKey string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if apiKey == "" {
				logger.ErrorContext(ctx, "admin API key not configured, rejecting request",
					"path", r.URL.Path)
				writeAuthProblem(w, ctx, http.StatusServiceUnavailable,
					"/errors/service-unavailable", "Service Unavailable",
					"Admin API is not configured")
				return
			}

			presented := r.Header.Get(AdminAPIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				logger.WarnContext(ctx, "admin authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr)
				writeAuthProblem(w, ctx, http.StatusUnauthorized,
					"/errors/unauthorized", "Unauthorized",
					"A valid admin API key is required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthProblem(w http.ResponseWriter, ctx context.Context, status int, problemType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	traceID := infrastructure.GetTraceID(ctx)
	w.Write([]byte(`{"type":"` + problemType + `","title":"` + title + `","status":` + strconv.Itoa(status) + `,"detail":"` + detail + `","trace_id":"` + traceID + `"}`))
}
