package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

// ActorContextKey carries the authenticated admin's name.
const ActorContextKey contextKey = "actor"

// AuthMiddleware enforces bearer-token authentication on the admin
// surface. The token is a static shared secret; an empty configured token
// disables the check (local development).
func AuthMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), "local")))
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization format. Expected 'Bearer <token>'", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		actor := r.Header.Get("X-Admin-Name")
		if actor == "" {
			actor = "admin"
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func withActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorContextKey, actor)
}

// ActorFromContext returns the admin name set by AuthMiddleware.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ActorContextKey).(string); ok {
		return v
	}
	return "unknown"
}
