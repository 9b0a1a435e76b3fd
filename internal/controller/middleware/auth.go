// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"feedplane/internal/auth"
	"feedplane/internal/cache"
	"feedplane/pkg/api"
)

// scopeKey is the context key for the caller scope.
type scopeKey struct{}

// NewContextWithScope returns ctx carrying scope.
func NewContextWithScope(ctx context.Context, scope cache.Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the caller scope. Requests that never passed
// through Identify are treated as public.
func ScopeFromContext(ctx context.Context) cache.Scope {
	if scope, ok := ctx.Value(scopeKey{}).(cache.Scope); ok {
		return scope
	}
	return cache.ScopePublic
}

// Identify sets the caller scope from an optional bearer token. Anonymous
// requests are public; a presented but wrong token is rejected.
func Identify(verifier *auth.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := cache.ScopePublic
			if header := r.Header.Get("Authorization"); header != "" {
				token, ok := auth.BearerToken(header)
				if !ok || !verifier.Verify(token) {
					writeError(w, "Invalid authorization token", http.StatusUnauthorized)
					return
				}
				scope = cache.ScopeAdmin
			}
			next.ServeHTTP(w, r.WithContext(NewContextWithScope(r.Context(), scope)))
		})
	}
}

// RequireAdmin rejects requests that are not in the admin scope. It must run after Identify.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ScopeFromContext(r.Context()) != cache.ScopeAdmin {
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
