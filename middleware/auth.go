package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"reaction-commerce/apperr"
	"reaction-commerce/models"
	"reaction-commerce/utils"
)

type contextKey string

const UserContextKey = contextKey("user")

// ClaimsFrom returns the token claims attached by Auth.
func ClaimsFrom(ctx context.Context) (*utils.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*utils.Claims)
	return claims, ok
}

// WithClaims attaches claims to ctx.
func WithClaims(ctx context.Context, claims *utils.Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// Auth verifies the bearer token and attaches its claims to the context.
func Auth(tokens *utils.JWT) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apperr.Write(w, apperr.New(apperr.CodeInvalidCredentials, "Authorization header missing"))
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				apperr.Write(w, apperr.New(apperr.CodeInvalidCredentials, "Invalid Authorization header format"))
				return
			}
			claims, err := tokens.ParseJWT(parts[1])
			if err != nil {
				apperr.Write(w, apperr.Wrap(err, apperr.CodeInvalidCredentials, "Invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// AdminMiddleware ensures that the user has admin privileges
func AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok || claims.Role != models.RoleAdmin {
			apperr.Write(w, apperr.New(apperr.CodeAccessDenied, "Access Denied"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
