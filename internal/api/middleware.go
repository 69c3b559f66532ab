/**
 * @description
 * This file contains custom middleware for the HTTP router. The session
 * middleware validates the platform's JWT auth token (issued at login and
 * carried in an HTTP-only cookie, with an Authorization header fallback) and
 * injects the authenticated user's id into the request context.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserIDContextKey is a custom type for the context key to avoid collisions.
type UserIDContextKey string

const sessionUserIDKey UserIDContextKey = "sessionUserID"

// authTokenCookie is the name of the HTTP-only cookie set at login.
const authTokenCookie = "auth_token"

// SessionAuthMiddleware creates a middleware that validates the platform's
// HS256 session tokens.
func SessionAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				http.Error(w, "Token Missing", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			rawID, ok := claims["id"].(string)
			if !ok || rawID == "" {
				http.Error(w, "Token payload is invalid (missing ID)", http.StatusUnauthorized)
				return
			}
			userID, parseErr := uuid.Parse(rawID)
			if parseErr != nil {
				http.Error(w, "Token payload is invalid (malformed ID)", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionUserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken pulls the session token from the auth cookie, falling back to
// the Authorization header.
func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(authTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// UserFromContext retrieves the authenticated user's id from the context.
func UserFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(sessionUserIDKey).(uuid.UUID)
	return userID, ok
}
