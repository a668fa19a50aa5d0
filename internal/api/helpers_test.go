package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitbox/chitbox/internal/cache"
)

func TestUserResolverCachesIDs(t *testing.T) {
	users := &fakeUsers{}
	resolver := NewUserResolver(users, cache.NewLRU[string, string](8, time.Minute))
	ctx := context.Background()

	for range 3 {
		id, err := resolver.Resolve(ctx, "alice@chitbox.test")
		require.NoError(t, err)
		assert.Equal(t, "user-alice@chitbox.test", id)
	}
	assert.Equal(t, 1, users.callCount())

	_, err := resolver.Resolve(ctx, "bob@chitbox.test")
	require.NoError(t, err)
	assert.Equal(t, 2, users.callCount())
}

func TestUserResolverDoesNotCacheFailures(t *testing.T) {
	users := &fakeUsers{fail: true}
	resolver := NewUserResolver(users, cache.NewLRU[string, string](8, time.Minute))

	_, err := resolver.Resolve(context.Background(), "alice@chitbox.test")
	require.Error(t, err)

	users.fail = false
	id, err := resolver.Resolve(context.Background(), "alice@chitbox.test")
	require.NoError(t, err)
	assert.Equal(t, "user-alice@chitbox.test", id)
}

func TestGetUserIDFromContext(t *testing.T) {
	t.Run("resolves the user", func(t *testing.T) {
		req := createRequestWithUser("GET", "/", "alice@chitbox.test", nil)
		rr := httptest.NewRecorder()

		email, userID, ok := GetUserIDFromContext(req.Context(), rr, newTestResolver(&fakeUsers{}))
		require.True(t, ok)
		assert.Equal(t, "alice@chitbox.test", email)
		assert.Equal(t, "user-alice@chitbox.test", userID)
	})

	t.Run("store failure is a 500", func(t *testing.T) {
		req := createRequestWithUser("GET", "/", "alice@chitbox.test", nil)
		rr := httptest.NewRecorder()

		_, _, ok := GetUserIDFromContext(req.Context(), rr, newTestResolver(&fakeUsers{fail: true}))
		assert.False(t, ok)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}
