package testutil

import (
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer represents a test IMAP server instance.
type TestIMAPServer struct {
	Server  *server.Server
	Address string
	cleanup func()
}

// NewTestIMAPServer serves be on a random local port until the test finishes.
// A nil srv gets a plain server.New(be); pass a configured one to test its settings.
func NewTestIMAPServer(t *testing.T, be backend.Backend, srv *server.Server) *TestIMAPServer {
	t.Helper()

	s := srv
	if s == nil {
		s = server.New(be)
		s.AllowInsecureAuth = true
	}

	// Start server on random port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()

	// Give server time to start
	time.Sleep(50 * time.Millisecond)

	ts := &TestIMAPServer{
		Server:  s,
		Address: listener.Addr().String(),
		cleanup: func() { _ = s.Close() },
	}
	t.Cleanup(ts.Close)

	return ts
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
}

// Dial opens an unauthenticated client connection that is logged out when the test finishes.
func (s *TestIMAPServer) Dial(t *testing.T) *imapclient.Client {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}
	t.Cleanup(func() { _ = client.Logout() })

	return client
}

// Connect dials and logs in.
func (s *TestIMAPServer) Connect(t *testing.T, username, password string) *imapclient.Client {
	t.Helper()

	client := s.Dial(t)
	if err := client.Login(username, password); err != nil {
		t.Fatalf("Failed to login: %v", err)
	}

	return client
}

// FetchAll fetches items for every message of the selected mailbox.
func FetchAll(t *testing.T, client *imapclient.Client, items ...imap.FetchItem) []*imap.Message {
	t.Helper()

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, 0)

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- client.Fetch(seqSet, items, ch)
	}()

	var messages []*imap.Message
	for msg := range ch {
		messages = append(messages, msg)
	}
	if err := <-done; err != nil {
		t.Fatalf("Failed to fetch messages: %v", err)
	}

	return messages
}
