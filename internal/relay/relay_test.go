package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitbox/chitbox/internal/config"
	"github.com/chitbox/chitbox/internal/mime"
	"github.com/chitbox/chitbox/internal/models"
	"github.com/chitbox/chitbox/internal/testutil"
)

func testEntry() *models.OutboundEmail {
	return &models.OutboundEmail{
		ID:        "entry-1",
		From:      models.Address{Name: "Alice", Email: "alice@chitbox.test"},
		To:        "bob@example.com",
		Cc:        []models.Address{{Email: "carol@example.com"}},
		Bcc:       []models.Address{{Email: "dave@example.com"}},
		Subject:   "Quarterly numbers",
		BodyText:  "See attached.",
		MessageID: "<entry-1@chitbox.test>",
	}
}

func testComposer() *mime.Composer {
	return mime.NewComposer("chitbox.test", "abuse@chitbox.test", "")
}

func headerBlock(data []byte) string {
	s := string(data)
	if i := strings.Index(s, "\r\n\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func TestSMTPRelaySend(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)
	r := NewSMTP(SMTPOptions{Addr: server.Address, LocalName: "chitbox.test", Timeout: 5 * time.Second}, testComposer())

	require.NoError(t, r.Send(context.Background(), testEntry()))

	messages := server.GetMessages()
	require.Len(t, messages, 1)
	msg := messages[0]
	assert.Equal(t, "alice@chitbox.test", msg.From)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com", "dave@example.com"}, msg.To)

	header := headerBlock(msg.Data)
	assert.Contains(t, header, "Subject: Quarterly numbers")
	assert.Contains(t, header, "X-Mailer: ChitBox")
	assert.Contains(t, header, "X-Abuse-Contact: abuse@chitbox.test")
	assert.NotContains(t, header, "dave@example.com", "Bcc must not leak into headers")
	assert.Empty(t, server.Backend.AuthenticatedUsers())
	assert.False(t, msg.TLS, "relay without STARTTLS stays in plain text")
}

func TestSMTPRelayUpgradesWithSTARTTLS(t *testing.T) {
	server, roots := testutil.NewTestSMTPServerTLS(t)
	r := NewSMTP(SMTPOptions{
		Addr:      server.Address,
		LocalName: "chitbox.test",
		Username:  server.Username(),
		Password:  server.Password(),
		Timeout:   5 * time.Second,
		TLSConfig: &tls.Config{RootCAs: roots},
	}, testComposer())

	require.NoError(t, r.Send(context.Background(), testEntry()))

	messages := server.GetMessages()
	require.Len(t, messages, 1)
	assert.True(t, messages[0].TLS)
	assert.Equal(t, []string{server.Username()}, server.Backend.AuthenticatedUsers())
}

func TestSMTPRelayDoesNotDowngradeOnBadCertificate(t *testing.T) {
	server, _ := testutil.NewTestSMTPServerTLS(t)
	r := NewSMTP(SMTPOptions{Addr: server.Address, Timeout: 5 * time.Second}, testComposer())

	err := r.Send(context.Background(), testEntry())
	require.Error(t, err)
	assert.Empty(t, server.GetMessages())
}

func TestSMTPRelayAuthenticates(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)
	r := NewSMTP(SMTPOptions{
		Addr:     server.Address,
		Username: server.Username(),
		Password: server.Password(),
	}, testComposer())

	require.NoError(t, r.Send(context.Background(), testEntry()))
	assert.Equal(t, []string{server.Username()}, server.Backend.AuthenticatedUsers())
}

func TestSMTPRelayRejected(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)
	server.Backend.FailWith(&smtp.SMTPError{Code: 554, EnhancedCode: smtp.EnhancedCode{5, 7, 1}, Message: "rejected"})

	r := NewSMTP(SMTPOptions{Addr: server.Address}, testComposer())
	err := r.Send(context.Background(), testEntry())
	require.Error(t, err)

	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 554, smtpErr.Code)
	assert.Empty(t, server.GetMessages())
}

func TestSMTPRelayUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	r := NewSMTP(SMTPOptions{Addr: addr, Timeout: time.Second}, testComposer())
	assert.Error(t, r.Send(context.Background(), testEntry()))
}

func TestSMTPRelayRequiresMessageID(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)
	entry := testEntry()
	entry.MessageID = ""

	r := NewSMTP(SMTPOptions{Addr: server.Address}, testComposer())
	assert.Error(t, r.Send(context.Background(), entry))
	assert.Empty(t, server.GetMessages())
}

type mockSESClient struct {
	err       error
	lastInput *sesv2.SendEmailInput
	calls     int
}

func (m *mockSESClient) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.calls++
	m.lastInput = params
	if m.err != nil {
		return nil, m.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESRelaySend(t *testing.T) {
	client := &mockSESClient{}
	r := NewSESWithClient(client, testComposer())
	assert.Equal(t, "ses", r.Name())

	require.NoError(t, r.Send(context.Background(), testEntry()))
	require.Equal(t, 1, client.calls)

	input := client.lastInput
	assert.Equal(t, "alice@chitbox.test", aws.ToString(input.FromEmailAddress))
	assert.Equal(t, []string{"bob@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, []string{"carol@example.com"}, input.Destination.CcAddresses)
	assert.Equal(t, []string{"dave@example.com"}, input.Destination.BccAddresses)
	require.NotNil(t, input.Content.Raw)
	assert.Contains(t, headerBlock(input.Content.Raw.Data), "Subject: Quarterly numbers")
	assert.Nil(t, input.Content.Simple)
}

func TestSESRelayError(t *testing.T) {
	client := &mockSESClient{err: errors.New("throttled")}
	r := NewSESWithClient(client, testComposer())

	err := r.Send(context.Background(), testEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Equal(t, 1, client.calls, "retries belong to the queue")
}

func TestStdoutRelay(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutWithWriter(&buf, testComposer())
	assert.Equal(t, "stdout", r.Name())

	require.NoError(t, r.Send(context.Background(), testEntry()))

	out := buf.String()
	assert.Contains(t, out, "MAIL FROM: alice@chitbox.test")
	assert.Contains(t, out, "RCPT TO: [bob@example.com carol@example.com dave@example.com]")
	assert.Contains(t, out, "Subject: Quarterly numbers")
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		cfg      config.Config
		wantName string
		wantErr  bool
	}{
		{
			name:     "smtp",
			cfg:      config.Config{RelayProvider: config.RelayProviderSMTP, RelayHost: "relay.example.com", RelayPort: "587"},
			wantName: "smtp",
		},
		{
			name: "ses",
			cfg: config.Config{
				RelayProvider:      config.RelayProviderSES,
				SESRegion:          "eu-west-1",
				SESAccessKeyID:     "AKIDEXAMPLE",
				SESSecretAccessKey: "secret",
			},
			wantName: "ses",
		},
		{
			name:     "stdout",
			cfg:      config.Config{RelayProvider: config.RelayProviderStdout},
			wantName: "stdout",
		},
		{
			name:    "unknown",
			cfg:     config.Config{RelayProvider: "pigeon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(ctx, &tt.cfg, testComposer())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, r.Name())
		})
	}
}
