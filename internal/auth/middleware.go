package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/G4FproAPI/Astra-OSS/internal/apierr"
)

type contextKey string

const AdminContextKey contextKey = "admin"

// ParseBearer extracts the token from an "Authorization: Bearer <token>"
// header value. It fails on anything else, including an empty token.
func ParseBearer(header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", apierr.New(apierr.ErrMissingCredential, "Missing or invalid authorization header")
	}
	return parts[1], nil
}

type Middleware struct {
	jwtSecret string
}

func NewMiddleware(jwtSecret string) *Middleware {
	return &Middleware{jwtSecret: jwtSecret}
}

// Authenticate admits requests carrying a valid admin JWT.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			apierr.WriteStatus(w, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		token, err := ParseBearer(authHeader)
		if err != nil {
			apierr.WriteStatus(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := ValidateToken(token, m.jwtSecret)
		if err != nil {
			apierr.WriteStatus(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), AdminContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetAdminFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(AdminContextKey).(*Claims)
	return claims, ok
}
