package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAuth(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := GetUserEmailFromContext(r.Context())
		if !ok {
			t.Error("Expected user email in context")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(email))
	})

	authHandler := RequireAuth(handler)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid bearer token", header: "Bearer valid_token_12345", wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer valid_token_12345", wantStatus: http.StatusOK},
		{name: "no header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "invalid format", header: "InvalidFormat", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abcd_abcd_abcd", wantStatus: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "empty email token", header: "Bearer email:", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rr := httptest.NewRecorder()
			authHandler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestGetUserEmailFromContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)

	email, ok := GetUserEmailFromContext(req.Context())
	assert.False(t, ok)
	assert.Empty(t, email)
}

func TestValidateToken(t *testing.T) {
	t.Run("maps any token to the default user", func(t *testing.T) {
		t.Setenv("CHITBOX_DEFAULT_USER", "")
		email, err := ValidateToken("any_token")
		require.NoError(t, err)
		assert.Equal(t, "test@example.com", email)
	})

	t.Run("default user is configurable", func(t *testing.T) {
		t.Setenv("CHITBOX_DEFAULT_USER", "owner@chitbox.test")
		email, err := ValidateToken("any_token")
		require.NoError(t, err)
		assert.Equal(t, "owner@chitbox.test", email)
	})

	t.Run("test mode extracts email", func(t *testing.T) {
		t.Setenv("CHITBOX_TEST_MODE", "true")
		email, err := ValidateToken("email:alice@chitbox.test")
		require.NoError(t, err)
		assert.Equal(t, "alice@chitbox.test", email)
	})

	t.Run("email tokens are ignored outside test mode", func(t *testing.T) {
		t.Setenv("CHITBOX_TEST_MODE", "")
		t.Setenv("CHITBOX_DEFAULT_USER", "")
		email, err := ValidateToken("email:alice@chitbox.test")
		require.NoError(t, err)
		assert.Equal(t, "test@example.com", email)
	})
}
