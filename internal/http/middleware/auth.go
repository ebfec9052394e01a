package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/leadforge/leadforge/internal/domain"
)

// AuthConfig holds the configuration for the auth middleware
type AuthConfig struct {
	getJWTSecret func() ([]byte, error)
}

// NewAuthMiddleware creates an auth middleware verifying HS256 bearer tokens.
// The secret is resolved on each request so it can be rotated at runtime.
func NewAuthMiddleware(getJWTSecret func() ([]byte, error)) *AuthConfig {
	return &AuthConfig{getJWTSecret: getJWTSecret}
}

// RequireAuth verifies the bearer token and stores its subject as the user id
func (ac *AuthConfig) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, "Authorization header is required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				writeError(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			secret, err := ac.getJWTSecret()
			if err != nil || len(secret) == 0 {
				writeError(w, "Authentication is not configured", http.StatusInternalServerError)
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				writeError(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			if claims.Subject == "" {
				writeError(w, "User ID not found in token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(domain.WithUserID(r.Context(), claims.Subject)))
		})
	}
}
