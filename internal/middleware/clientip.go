package middleware

import (
	"context"
	"net/http"
)

const clientIPContextKey contextKey = "client_ip"

// WithClientIP resolves the caller's IP once per request and stores it in
// the context. Country detection reads it from there rather than parsing
// proxy headers itself.
//
// The resolved value trusts X-Forwarded-For and X-Real-IP, so the service
// must only be reachable through a proxy that sets them.
func WithClientIP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPContextKey, GetClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIPFromContext retrieves the client IP stored by WithClientIP.
// Empty when the middleware did not run.
func GetClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPContextKey).(string); ok {
		return ip
	}
	return ""
}
