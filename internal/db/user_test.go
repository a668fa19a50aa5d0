package db

import (
	"context"
	"testing"

	"github.com/chitbox/chitbox/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateUser(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	t.Run("creates new user", func(t *testing.T) {
		userID, err := GetOrCreateUser(ctx, pool, "test@example.com")
		if err != nil {
			t.Fatalf("GetOrCreateUser failed: %v", err)
		}

		if userID == "" {
			t.Fatal("Expected non-empty user ID")
		}
	})

	t.Run("returns existing user", func(t *testing.T) {
		email := "existing@example.com"

		userID1, err := GetOrCreateUser(ctx, pool, email)
		if err != nil {
			t.Fatalf("First GetOrCreateUser failed: %v", err)
		}

		userID2, err := GetOrCreateUser(ctx, pool, email)
		if err != nil {
			t.Fatalf("Second GetOrCreateUser failed: %v", err)
		}

		if userID1 != userID2 {
			t.Errorf("Expected same user ID, got %s and %s", userID1, userID2)
		}
	})
}

func TestFindUserByEmail(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	userID, err := GetOrCreateUser(ctx, pool, "alice@chitbox.test")
	require.NoError(t, err)

	t.Run("exact match", func(t *testing.T) {
		user, err := FindUserByEmail(ctx, pool, "alice@chitbox.test")
		require.NoError(t, err)
		assert.Equal(t, userID, user.ID)
		assert.Equal(t, "alice@chitbox.test", user.Email)
		assert.False(t, user.CreatedAt.IsZero())
	})

	t.Run("comparison is case-sensitive", func(t *testing.T) {
		_, err := FindUserByEmail(ctx, pool, "Alice@chitbox.test")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("unknown address", func(t *testing.T) {
		_, err := FindUserByEmail(ctx, pool, "nobody@chitbox.test")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestAppPassword(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	userID, err := GetOrCreateUser(ctx, pool, "bob@chitbox.test")
	require.NoError(t, err)

	_, _, err = GetAppPassword(ctx, pool, "bob@chitbox.test")
	assert.ErrorIs(t, err, ErrNoAppPassword)

	require.NoError(t, SetAppPassword(ctx, pool, userID, []byte("ciphertext")))

	gotID, encrypted, err := GetAppPassword(ctx, pool, "bob@chitbox.test")
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, []byte("ciphertext"), encrypted)

	_, _, err = GetAppPassword(ctx, pool, "nobody@chitbox.test")
	assert.ErrorIs(t, err, ErrUserNotFound)

	err = SetAppPassword(ctx, pool, "00000000-0000-0000-0000-000000000000", []byte("x"))
	assert.ErrorIs(t, err, ErrUserNotFound)
}
