package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tutorstack/tutorguard/internal/api/models"
	"github.com/tutorstack/tutorguard/internal/auth"
)

type operatorKey struct{}

// TokenValidator validates operator bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// AdminAuth requires a valid operator bearer token. The token subject is
// stored in the request context as the acting operator.
func AdminAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			token := strings.TrimSpace(header[len(bearerPrefix):])
			if token == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := tokens.Validate(token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					writeUnauthorized(w, r, "operator token has expired")
				case errors.Is(err, auth.ErrNoSigningKey):
					writeUnauthorized(w, r, "admin API is disabled")
				default:
					writeUnauthorized(w, r, "invalid operator token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	w.Header().Set("WWW-Authenticate", `Bearer realm="tutorguard-admin"`)
	problem.Write(w)
}

// GetOperator returns the authenticated operator from ctx.
func GetOperator(ctx context.Context) string {
	if op, ok := ctx.Value(operatorKey{}).(string); ok {
		return op
	}
	return ""
}
