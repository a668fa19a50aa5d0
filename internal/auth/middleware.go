package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/chitbox/chitbox/internal/log"
)

type contextKey string

// UserEmailKey is the context key used to store the authenticated user's email.
const UserEmailKey contextKey = "user_email"

// RequireAuth checks for a bearer token in the Authorization header and stores
// the user's email in the request context. Returns 401 when authentication fails.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			log.Debug().Str("origin", "api").Str("path", r.URL.Path).Msg("missing or malformed Authorization header")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userEmail, err := ValidateToken(token)
		if err != nil {
			log.Warn().Str("origin", "api").Err(err).Msg("token validation failed")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserEmailKey, userEmail)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token of a "Bearer <token>" header (scheme is case-insensitive).
func bearerToken(r *http.Request) (string, bool) {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(strings.Join(fields[1:], " "))
	return token, token != ""
}

// GetUserEmailFromContext returns the user email from the context.
func GetUserEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok && email != ""
}

// ValidateToken validates the token and returns the user's email.
// Identity is delegated to the fronting proxy; this is a stub.
// In test mode (CHITBOX_TEST_MODE=true) a token of the form "email:user@example.com"
// authenticates as that address. Every other token maps to the default user.
func ValidateToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" || token == "email:" {
		return "", fmt.Errorf("token is empty")
	}

	if os.Getenv("CHITBOX_TEST_MODE") == "true" && strings.HasPrefix(token, "email:") {
		return strings.TrimPrefix(token, "email:"), nil
	}

	return defaultUserEmail(), nil
}

func defaultUserEmail() string {
	if email := os.Getenv("CHITBOX_DEFAULT_USER"); email != "" {
		return email
	}
	return "test@example.com"
}
