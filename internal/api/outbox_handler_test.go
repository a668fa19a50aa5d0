package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitbox/chitbox/internal/cache"
	"github.com/chitbox/chitbox/internal/db"
	"github.com/chitbox/chitbox/internal/mime"
	"github.com/chitbox/chitbox/internal/models"
	"github.com/chitbox/chitbox/internal/outbound"
	"github.com/chitbox/chitbox/internal/relay"
	"github.com/chitbox/chitbox/internal/testutil"
)

func sendBody(t *testing.T, req models.SendRequest) []byte {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return b
}

func TestOutboxHandler_Send(t *testing.T) {
	outbox := newFakeOutbox()
	handler := NewOutboxHandler(outbox, newTestResolver(&fakeUsers{}))

	t.Run("returns 401 when no user email in context", func(t *testing.T) {
		VerifyAuthCheck(t, handler.Send, "POST", "/api/v1/outbox")
	})

	t.Run("queues the message and returns the entry", func(t *testing.T) {
		body := sendBody(t, models.SendRequest{
			FromName: "Alice",
			To:       "Bob <bob@example.com>",
			Cc:       []string{"carol@example.com"},
			Bcc:      []string{"Dave <dave@example.com>"},
			Subject:  "Hello",
			BodyText: "Hi Bob",
		})
		req := createRequestWithUser("POST", "/api/v1/outbox", "alice@chitbox.test", body)
		rr := httptest.NewRecorder()

		handler.Send(rr, req)

		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

		var entry models.OutboundEmail
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&entry))
		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, models.OutboundPending, entry.Status)
		assert.Equal(t, models.Address{Name: "Alice", Email: "alice@chitbox.test"}, entry.From)
		assert.Equal(t, "bob@example.com", entry.To)
		assert.Equal(t, []models.Address{{Email: "carol@example.com"}}, entry.Cc)
		assert.Equal(t, []models.Address{{Name: "Dave", Email: "dave@example.com"}}, entry.Bcc)
		require.NotNil(t, entry.UserID)
		assert.Equal(t, "user-alice@chitbox.test", *entry.UserID)
	})

	t.Run("rejects a missing field with 400", func(t *testing.T) {
		body := sendBody(t, models.SendRequest{To: "bob@example.com", BodyText: "no subject"})
		req := createRequestWithUser("POST", "/api/v1/outbox", "alice@chitbox.test", body)
		rr := httptest.NewRecorder()

		handler.Send(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "subject")
	})

	t.Run("rejects an invalid cc address with 400", func(t *testing.T) {
		body := sendBody(t, models.SendRequest{To: "bob@example.com", Cc: []string{"not an address"}, Subject: "x", BodyText: "x"})
		req := createRequestWithUser("POST", "/api/v1/outbox", "alice@chitbox.test", body)
		rr := httptest.NewRecorder()

		handler.Send(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects malformed JSON with 400", func(t *testing.T) {
		req := createRequestWithUser("POST", "/api/v1/outbox", "alice@chitbox.test", []byte("{"))
		rr := httptest.NewRecorder()

		handler.Send(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("store failure is a 500", func(t *testing.T) {
		failing := newFakeOutbox()
		failing.err = errors.New("database is down")
		h := NewOutboxHandler(failing, newTestResolver(&fakeUsers{}))

		body := sendBody(t, models.SendRequest{To: "bob@example.com", Subject: "x", BodyText: "x"})
		req := createRequestWithUser("POST", "/api/v1/outbox", "alice@chitbox.test", body)
		rr := httptest.NewRecorder()

		h.Send(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestOutboxHandler_Status(t *testing.T) {
	outbox := newFakeOutbox()
	handler := NewOutboxHandler(outbox, newTestResolver(&fakeUsers{}))

	owner := "user-alice@chitbox.test"
	require.NoError(t, outbox.Enqueue(context.Background(), &models.OutboundEmail{
		UserID: &owner, From: models.Address{Email: "alice@chitbox.test"},
		To: "bob@example.com", Subject: "Hello", BodyText: "Hi",
	}))

	get := func(email, id string) *httptest.ResponseRecorder {
		req := createRequestWithUser("GET", "/api/v1/outbox/"+id, email, nil)
		req.SetPathValue("id", id)
		rr := httptest.NewRecorder()
		handler.Status(rr, req)
		return rr
	}

	t.Run("returns 401 when no user email in context", func(t *testing.T) {
		VerifyAuthCheck(t, handler.Status, "GET", "/api/v1/outbox/ob-1")
	})

	t.Run("owner sees the entry", func(t *testing.T) {
		rr := get("alice@chitbox.test", "ob-1")
		require.Equal(t, http.StatusOK, rr.Code)

		var entry models.OutboundEmail
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&entry))
		assert.Equal(t, "ob-1", entry.ID)
		assert.Equal(t, models.OutboundPending, entry.Status)
	})

	t.Run("other users get 404", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get("mallory@chitbox.test", "ob-1").Code)
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get("alice@chitbox.test", "ob-404").Code)
	})
}

func TestOutboxHandler_WithQueueAndDatabase(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	store := db.NewStore(pool)
	composer := mime.NewComposer("chitbox.test", "abuse@chitbox.test", "")
	var relayed bytes.Buffer
	queue := outbound.NewQueue(store, relay.NewStdoutWithWriter(&relayed, composer), composer, nil, nil, outbound.Options{})
	handler := NewOutboxHandler(queue, NewUserResolver(store, cache.NewLRU[string, string](8, time.Minute)))

	body := sendBody(t, models.SendRequest{To: "bob@example.com", Subject: "Status Update", BodyText: "All green"})
	req := createRequestWithUser("POST", "/api/v1/outbox", "alice@chitbox.test", body)
	rr := httptest.NewRecorder()
	handler.Send(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var queued models.OutboundEmail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&queued))
	assert.Equal(t, models.OutboundPending, queued.Status)
	assert.Contains(t, queued.MessageID, "@chitbox.test>")

	n, err := queue.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, relayed.String(), "Subject: Status Update")

	req = createRequestWithUser("GET", "/api/v1/outbox/"+queued.ID, "alice@chitbox.test", nil)
	req.SetPathValue("id", queued.ID)
	rr = httptest.NewRecorder()
	handler.Status(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var sent models.OutboundEmail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&sent))
	assert.Equal(t, models.OutboundSent, sent.Status)
	assert.Equal(t, 1, sent.Attempts)
	assert.NotNil(t, sent.SentAt)
}
