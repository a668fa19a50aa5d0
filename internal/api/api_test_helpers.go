package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chitbox/chitbox/internal/auth"
	"github.com/chitbox/chitbox/internal/cache"
	"github.com/chitbox/chitbox/internal/db"
	"github.com/chitbox/chitbox/internal/models"
	"github.com/chitbox/chitbox/internal/outbound"
)

// fakeUsers hands out "user-<email>" ids and counts store lookups.
type fakeUsers struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeUsers) GetOrCreateUser(_ context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", errors.New("connection refused")
	}
	return "user-" + email, nil
}

func (f *fakeUsers) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestResolver(users Users) *UserResolver {
	return NewUserResolver(users, cache.Noop[string, string]{})
}

// fakeOutbox stores entries in memory and applies the queue's required-field rules.
type fakeOutbox struct {
	mu      sync.Mutex
	entries map[string]*models.OutboundEmail
	err     error
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{entries: make(map[string]*models.OutboundEmail)}
}

func (f *fakeOutbox) Enqueue(_ context.Context, e *models.OutboundEmail) error {
	if f.err != nil {
		return f.err
	}
	if e.Subject == "" {
		return fmt.Errorf("%w: subject", outbound.ErrMissingField)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = fmt.Sprintf("ob-%d", len(f.entries)+1)
	e.Status = models.OutboundPending
	e.MaxAttempts = 3
	f.entries[e.ID] = e
	return nil
}

func (f *fakeOutbox) Get(_ context.Context, id string) (*models.OutboundEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, db.ErrOutboundNotFound
	}
	return e, nil
}

// createRequestWithUser creates an HTTP request with user email in context.
func createRequestWithUser(method, url, email string, body []byte) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), auth.UserEmailKey, email)
	return req.WithContext(ctx)
}

// VerifyAuthCheck verifies that the handler returns 401 Unauthorized when no user is in context.
func VerifyAuthCheck(t *testing.T, handlerFunc http.HandlerFunc, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handlerFunc(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no user email in context")
}
