package imapd

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitbox/chitbox/internal/auth"
	"github.com/chitbox/chitbox/internal/blob"
	"github.com/chitbox/chitbox/internal/cache"
	"github.com/chitbox/chitbox/internal/db"
	"github.com/chitbox/chitbox/internal/mime"
	"github.com/chitbox/chitbox/internal/models"
	"github.com/chitbox/chitbox/internal/testutil"
)

type fakeStore struct {
	mu       sync.Mutex
	folders  map[string][]*models.Folder
	messages map[string][]*models.Message
	attached map[string][]models.Attachment
	created  []models.FolderType
}

func (s *fakeStore) FindOrCreateFolder(_ context.Context, userID string, folderType models.FolderType) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.folders[userID] {
		if f.Type == folderType {
			return f.ID, nil
		}
	}
	f := &models.Folder{ID: userID + "-" + string(folderType), UserID: userID, Type: folderType, Name: folderType.DisplayName()}
	s.folders[userID] = append(s.folders[userID], f)
	s.created = append(s.created, folderType)
	return f.ID, nil
}

func (s *fakeStore) ListFolders(_ context.Context, userID string) ([]*models.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]*models.Folder(nil), s.folders[userID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) GetFolderByName(_ context.Context, userID, name string) (*models.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.folders[userID] {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, db.ErrFolderNotFound
}

func (s *fakeStore) GetMessagesForFolder(_ context.Context, _ string, folderID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Message, 0, len(s.messages[folderID]))
	for _, m := range s.messages[folderID] {
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

func (s *fakeStore) GetAttachmentsForMessage(_ context.Context, messageID string) ([]models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached[messageID], nil
}

func (s *fakeStore) SetMessagesRead(_ context.Context, _ string, ids []string, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msgs := range s.messages {
		for _, m := range msgs {
			for _, id := range ids {
				if m.ID == id {
					m.IsRead = read
				}
			}
		}
	}
	return nil
}

func (s *fakeStore) isRead(folderID string, i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[folderID][i].IsRead
}

type fakeAuth map[string]string

func (f fakeAuth) Authenticate(_ context.Context, email, password string) (string, error) {
	if pw, ok := f[email]; ok && pw == password {
		return "user-" + strings.Split(email, "@")[0], nil
	}
	return "", auth.ErrInvalidCredentials
}

type fixture struct {
	store  *fakeStore
	server *testutil.TestIMAPServer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	blobs := blob.NewStoreFs(afero.NewMemMapFs())
	key, size, err := blobs.Write(bytes.NewReader([]byte("%PDF-1.4 invoice")))
	require.NoError(t, err)

	date := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		folders: map[string][]*models.Folder{
			"user-bob": {
				{ID: "inbox", UserID: "user-bob", Type: models.FolderInbox, Name: "INBOX"},
				{ID: "sent", UserID: "user-bob", Type: models.FolderSent, Name: "Sent"},
			},
		},
		messages: map[string][]*models.Message{
			"inbox": {
				{
					ID: "m1", UID: 10, UserID: "user-bob", MessageIDHeader: "<m1@example.com>",
					From: models.Address{Name: "Alice", Email: "alice@example.com"},
					To:   []models.Address{{Email: "bob@chitbox.test"}},
					Subject: "Hello", BodyText: "Hi Bob", IsRead: true, SentAt: &date, CreatedAt: date,
				},
				{
					ID: "m2", UID: 12, UserID: "user-bob", MessageIDHeader: "<m2@example.com>",
					From: models.Address{Email: "billing@example.com"},
					To:   []models.Address{{Email: "bob@chitbox.test"}},
					Subject: "Your invoice", BodyText: "Invoice attached", SentAt: &date, CreatedAt: date,
				},
			},
			"sent": {
				{
					ID: "m3", UID: 11, UserID: "user-bob",
					From:    models.Address{Email: "bob@chitbox.test"},
					To:      []models.Address{{Email: "alice@example.com"}},
					Subject: "Re: Hello", BodyText: "Hi Alice", IsRead: true, IsSent: true, CreatedAt: date,
				},
			},
		},
		attached: map[string][]models.Attachment{
			"m2": {{ID: "a1", MessageID: "m2", Filename: "invoice.pdf", OriginalFilename: "invoice.pdf", MimeType: "application/pdf", SizeBytes: size, StorageKey: key}},
		},
	}

	be := NewBackend(store,
		fakeAuth{"bob@chitbox.test": "app-pass", "new@chitbox.test": "app-pass"},
		blobs,
		mime.NewComposer("chitbox.test", "", ""),
		cache.NewLRU[string, []byte](16, time.Minute),
	)

	return &fixture{
		store:  store,
		server: testutil.NewTestIMAPServer(t, be, NewServer(be, "")),
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	c := f.server.Dial(t)
	assert.Error(t, c.Login("bob@chitbox.test", "wrong"))

	c = f.server.Dial(t)
	assert.NoError(t, c.Login("bob@chitbox.test", "app-pass"))
}

func TestLoginCreatesInbox(t *testing.T) {
	f := newFixture(t)
	c := f.server.Connect(t, "new@chitbox.test", "app-pass")

	status, err := c.Select("inbox", true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), status.Messages)
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Equal(t, []models.FolderType{models.FolderInbox}, f.store.created)
}

func TestListMailboxes(t *testing.T) {
	f := newFixture(t)
	c := f.server.Connect(t, "bob@chitbox.test", "app-pass")

	ch := make(chan *imap.MailboxInfo, 10)
	require.NoError(t, c.List("", "*", ch))

	attrs := map[string][]string{}
	for info := range ch {
		attrs[info.Name] = info.Attributes
	}
	require.Contains(t, attrs, "INBOX")
	require.Contains(t, attrs, "Sent")
	assert.Contains(t, attrs["Sent"], imap.SentAttr)
}

func TestSelectAndStatus(t *testing.T) {
	f := newFixture(t)
	c := f.server.Connect(t, "bob@chitbox.test", "app-pass")

	status, err := c.Status("INBOX", []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen, imap.StatusUidNext})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), status.Messages)
	assert.Equal(t, uint32(1), status.Unseen)
	assert.Equal(t, uint32(13), status.UidNext)

	selected, err := c.Select("INBOX", false)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), selected.Messages)
	assert.Equal(t, uint32(2), selected.UnseenSeqNum)

	_, err = c.Select("Nope", false)
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	f := newFixture(t)
	c := f.server.Connect(t, "bob@chitbox.test", "app-pass")
	_, err := c.Select("INBOX", true)
	require.NoError(t, err)

	section := &imap.BodySectionName{Peek: true}
	messages := testutil.FetchAll(t, c, imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchRFC822Size, section.FetchItem())
	require.Len(t, messages, 2)

	first, second := messages[0], messages[1]
	assert.Equal(t, uint32(10), first.Uid)
	assert.Equal(t, "Hello", first.Envelope.Subject)
	assert.Equal(t, "<m1@example.com>", first.Envelope.MessageId)
	assert.Equal(t, []string{imap.SeenFlag}, first.Flags)
	assert.NotZero(t, first.Size)

	assert.Equal(t, uint32(12), second.Uid)
	assert.Empty(t, second.Flags)

	literal := second.GetBody(section)
	require.NotNil(t, literal)
	raw, err := io.ReadAll(literal)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Invoice attached")
	assert.Contains(t, string(raw), "invoice.pdf")
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	c := f.server.Connect(t, "bob@chitbox.test", "app-pass")
	_, err := c.Select("INBOX", true)
	require.NoError(t, err)

	unseen := imap.NewSearchCriteria()
	unseen.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(unseen)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, ids)

	bySubject := imap.NewSearchCriteria()
	bySubject.Header.Add("Subject", "hello")
	uids, err := c.UidSearch(bySubject)
	require.NoError(t, err)
	assert.Equal(t, []uint32{10}, uids)
}

func TestStoreSeen(t *testing.T) {
	f := newFixture(t)
	c := f.server.Connect(t, "bob@chitbox.test", "app-pass")
	_, err := c.Select("INBOX", false)
	require.NoError(t, err)

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(2)
	err = c.Store(seqSet, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.SeenFlag}, nil)
	require.NoError(t, err)
	assert.True(t, f.store.isRead("inbox", 1))

	uidSet := new(imap.SeqSet)
	uidSet.AddNum(10)
	err = c.UidStore(uidSet, imap.FormatFlagsOp(imap.RemoveFlags, true), []interface{}{imap.SeenFlag}, nil)
	require.NoError(t, err)
	assert.False(t, f.store.isRead("inbox", 0))
}

func TestMutationsAreRefused(t *testing.T) {
	f := newFixture(t)
	c := f.server.Connect(t, "bob@chitbox.test", "app-pass")
	_, err := c.Select("INBOX", false)
	require.NoError(t, err)

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(1)
	err = c.Store(seqSet, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.FlaggedFlag}, nil)
	assert.Error(t, err)
	assert.True(t, f.store.isRead("inbox", 0), "a refused STORE changes nothing")

	assert.Error(t, c.Create("Projects"))
	assert.Error(t, c.Delete("Sent"))
	assert.Error(t, c.Expunge(nil))
	assert.Error(t, c.Append("INBOX", nil, time.Now(), bytes.NewBufferString("Subject: x\r\n\r\nbody\r\n")))
}
