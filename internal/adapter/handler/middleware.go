package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

type contextKey string

// PatronCtxKey carries the authenticated patron's id through the request
// context.
const PatronCtxKey contextKey = "patronID"

// AuthMiddleware validates the Bearer token and stores the patron id in
// the request context.
func AuthMiddleware(secret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, apiResponse{Message: "missing bearer token"})
				return
			}
			raw := strings.TrimPrefix(authHeader, "Bearer ")

			token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeJSON(w, http.StatusUnauthorized, apiResponse{Message: "invalid token"})
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || subject == "" {
				writeJSON(w, http.StatusUnauthorized, apiResponse{Message: "invalid token"})
				return
			}

			ctx := context.WithValue(r.Context(), PatronCtxKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
