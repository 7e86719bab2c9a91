package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const serviceClaimsKey contextKey = "serviceClaims"

// ServiceAudience is the audience callers must mint booking tokens for.
const ServiceAudience = "salon-booking"

// ServiceJWT enforces an HMAC-signed service token on booking endpoints.
// Tokens must carry a subject naming the calling service and, when an
// audience is present, it must include ServiceAudience.
func ServiceJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeAuthError(w, "service auth disabled")
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				writeAuthError(w, "missing authorization header")
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeAuthError(w, "invalid token")
				return
			}
			if claims.Subject == "" {
				writeAuthError(w, "token subject required")
				return
			}
			if len(claims.Audience) > 0 && !hasAudience(claims.Audience, ServiceAudience) {
				writeAuthError(w, "token audience mismatch")
				return
			}
			ctx := context.WithValue(r.Context(), serviceClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ServiceClaimsFromContext returns the caller's token claims if present.
func ServiceClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(serviceClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}

// CallerFromContext returns the calling service name, or "" when unauthenticated.
func CallerFromContext(ctx context.Context) string {
	claims, ok := ServiceClaimsFromContext(ctx)
	if !ok {
		return ""
	}
	return claims.Subject
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
