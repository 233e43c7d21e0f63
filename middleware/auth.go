package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"invitecanvas/handlers/auth"
)

type contextKey string

const ClaimsContextKey = contextKey("claims")

// WithClaims stores claims in ctx the way AuthJWT does.
func WithClaims(ctx context.Context, claims *auth.AppClaims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

// Claims returns the claims AuthJWT placed in ctx.
func Claims(ctx context.Context) (*auth.AppClaims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*auth.AppClaims)
	return claims, ok && claims != nil
}

func AuthJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Authorization header is required"})
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		tokenString := parts[1]
		claims, err := auth.ParseJWT(tokenString)
		if err != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Invalid token"})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}
