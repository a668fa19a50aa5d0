// Command imap-probe logs into an IMAP server with an app password and reports
// what a mail client would see: capabilities, mailboxes, INBOX status, unseen
// messages and the envelope of the newest one.
//
//	IMAP_SERVER=localhost:1143 IMAP_USER=test@example.com IMAP_PASSWORD=... imap-probe
//
// Set IMAP_TLS=true to connect with implicit TLS.
package main

import (
	"fmt"
	"os"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/chitbox/chitbox/internal/log"
)

type report struct {
	Capabilities []string
	Mailboxes    []string
	Messages     uint32
	UnseenUIDs   []uint32
	Latest       *imap.Message
}

func main() {
	server := os.Getenv("IMAP_SERVER")
	user := os.Getenv("IMAP_USER")
	password := os.Getenv("IMAP_PASSWORD")

	if server == "" || user == "" || password == "" {
		log.Fatal().Msg("IMAP_SERVER, IMAP_USER and IMAP_PASSWORD are required")
	}

	c, err := connect(server, os.Getenv("IMAP_TLS") == "true")
	if err != nil {
		log.Fatal().Err(err).Str("server", server).Msg("failed to connect")
	}
	defer func() {
		if err := c.Logout(); err != nil {
			log.Warn().Err(err).Msg("failed to log out")
		}
	}()

	if err := c.Login(user, password); err != nil {
		log.Fatal().Err(err).Str("user", user).Msg("failed to log in")
	}

	r, err := probe(c)
	if err != nil {
		log.Fatal().Err(err).Msg("probe failed")
	}

	event := log.Info().
		Strs("capabilities", r.Capabilities).
		Strs("mailboxes", r.Mailboxes).
		Uint32("messages", r.Messages).
		Interface("unseen_uids", r.UnseenUIDs)
	if r.Latest != nil && r.Latest.Envelope != nil {
		event = event.
			Uint32("latest_uid", r.Latest.Uid).
			Str("latest_subject", r.Latest.Envelope.Subject).
			Strs("latest_flags", r.Latest.Flags)
	}
	event.Msg("probe finished")
}

func connect(server string, useTLS bool) (*client.Client, error) {
	var (
		c   *client.Client
		err error
	)
	if useTLS {
		c, err = client.DialTLS(server, nil)
	} else {
		c, err = client.Dial(server)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return c, nil
}

// probe runs the read-only checks on an authenticated client.
func probe(c *client.Client) (*report, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	r := &report{}

	caps, err := c.Capability()
	if err != nil {
		return nil, fmt.Errorf("failed to get capabilities: %w", err)
	}
	for capability := range caps {
		r.Capabilities = append(r.Capabilities, capability)
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	listed := make(chan error, 1)
	go func() {
		listed <- c.List("", "*", mailboxes)
	}()
	for m := range mailboxes {
		r.Mailboxes = append(r.Mailboxes, m.Name)
	}
	if err := <-listed; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}

	mbox, err := c.Select(imap.InboxName, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}
	r.Messages = mbox.Messages

	unseen := imap.NewSearchCriteria()
	unseen.WithoutFlags = []string{imap.SeenFlag}
	if r.UnseenUIDs, err = c.UidSearch(unseen); err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	if mbox.Messages == 0 {
		return r, nil
	}

	if r.Latest, err = fetchLatest(c, mbox.Messages); err != nil {
		return nil, err
	}

	return r, nil
}

// fetchLatest fetches envelope, flags and structure of message seqNum.
func fetchLatest(c *client.Client, seqNum uint32) (*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNum)

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchBodyStructure,
		imap.FetchFlags,
		imap.FetchUid,
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("server did not return message %d", seqNum)
	}

	return msg, nil
}
