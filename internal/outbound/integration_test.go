package outbound

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitbox/chitbox/internal/blob"
	"github.com/chitbox/chitbox/internal/db"
	"github.com/chitbox/chitbox/internal/delivery"
	"github.com/chitbox/chitbox/internal/mime"
	"github.com/chitbox/chitbox/internal/models"
	"github.com/chitbox/chitbox/internal/relay"
	"github.com/chitbox/chitbox/internal/testutil"
)

func TestQueueDeliversThroughSMTPRelay(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := db.NewStore(pool)
	userID, err := store.GetOrCreateUser(ctx, "alice@chitbox.test")
	require.NoError(t, err)

	server := testutil.NewTestSMTPServer(t)
	composer := mime.NewComposer("chitbox.test", "", "")
	smtpRelay := relay.NewSMTP(relay.SMTPOptions{Addr: server.Address, Timeout: 5 * time.Second}, composer)
	router := delivery.NewRouter(store, blob.NewStoreFs(afero.NewMemMapFs()))
	q := NewQueue(store, smtpRelay, composer, router, nil, Options{})

	e := &models.OutboundEmail{
		UserID:   &userID,
		From:     models.Address{Name: "Alice", Email: "alice@chitbox.test"},
		To:       "bob@example.com",
		Subject:  "Lunch?",
		BodyText: "Noon at the usual place.",
	}
	require.NoError(t, q.Enqueue(ctx, e))
	assert.True(t, strings.HasSuffix(e.MessageID, "@chitbox.test>"))

	n, err := q.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := store.GetOutbound(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboundSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.SentAt)

	messages := server.GetMessages()
	require.Len(t, messages, 1)
	assert.Contains(t, string(messages[0].Data), "Noon at the usual place.")

	sentID, err := store.FindOrCreateFolder(ctx, userID, models.FolderSent)
	require.NoError(t, err)
	sent, err := store.GetMessagesForFolder(ctx, userID, sentID)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.True(t, sent[0].IsSent)
	assert.True(t, sent[0].IsRead)
	assert.Equal(t, e.MessageID, sent[0].MessageIDHeader)
}

func TestQueueMarksEntryFailedWhenRelayKeepsRejecting(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := db.NewStore(pool)

	server := testutil.NewTestSMTPServer(t)
	server.Backend.FailWith(&smtp.SMTPError{Code: 451, Message: "try again later"})

	composer := mime.NewComposer("chitbox.test", "", "")
	smtpRelay := relay.NewSMTP(relay.SMTPOptions{Addr: server.Address, Timeout: 5 * time.Second}, composer)
	q := NewQueue(store, smtpRelay, composer, nil, nil, Options{})
	c := &clock{t: time.Now().UTC().Truncate(time.Second)}
	q.now = c.now

	e := &models.OutboundEmail{
		From:     models.Address{Email: "alice@chitbox.test"},
		To:       "bob@example.com",
		Subject:  "Retry me",
		BodyText: "body",
	}
	require.NoError(t, q.Enqueue(ctx, e))

	for i := 0; i < 3; i++ {
		_, err := q.ProcessBatch(ctx)
		require.NoError(t, err)
		c.advance(6 * time.Minute)
	}

	stored, err := store.GetOutbound(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboundFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	assert.Contains(t, stored.LastError, "try again later")

	n, err := q.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, server.GetMessages())
}
