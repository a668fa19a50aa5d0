package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// MemoryBackend is a simple in-memory SMTP backend used as a fake relay.
type MemoryBackend struct {
	mu       sync.Mutex
	messages []*MemoryMessage
	failWith error
	authed   []string
}

// MemoryMessage is one message accepted by the MemoryBackend.
type MemoryMessage struct {
	From string
	To   []string
	Data []byte
	// TLS reports whether the transaction ran over an upgraded connection.
	TLS bool
}

// NewMemoryBackend creates a new in-memory SMTP backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		messages: make([]*MemoryMessage, 0),
	}
}

// NewSession creates a new SMTP session.
func (b *MemoryBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &memorySession{backend: b, conn: c}, nil
}

// GetMessages returns all received messages.
func (b *MemoryBackend) GetMessages() []*MemoryMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*MemoryMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

// ClearMessages clears all stored messages.
func (b *MemoryBackend) ClearMessages() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = make([]*MemoryMessage, 0)
}

// FailWith makes every following DATA command return err. Pass nil to accept again.
func (b *MemoryBackend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = err
}

// AuthenticatedUsers returns the usernames that completed AUTH PLAIN.
func (b *MemoryBackend) AuthenticatedUsers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.authed...)
}

type memorySession struct {
	backend *MemoryBackend
	conn    *smtp.Conn
	from    string
	to      []string
}

func (s *memorySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *memorySession) Auth(mech string) (sasl.Server, error) {
	// Accept any credentials for testing
	return sasl.NewPlainServer(func(identity, username, password string) error {
		s.backend.mu.Lock()
		defer s.backend.mu.Unlock()
		s.backend.authed = append(s.backend.authed, username)
		return nil
	}), nil
}

func (s *memorySession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *memorySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *memorySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	if s.backend.failWith != nil {
		return s.backend.failWith
	}

	_, secure := s.conn.TLSConnectionState()
	s.backend.messages = append(s.backend.messages, &MemoryMessage{
		From: s.from,
		To:   s.to,
		Data: data,
		TLS:  secure,
	})

	return nil
}

func (s *memorySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *memorySession) Logout() error {
	return nil
}

// TestSMTPServer represents a test SMTP server instance.
type TestSMTPServer struct {
	Server   *smtp.Server
	Address  string
	Backend  *MemoryBackend
	cleanup  func()
	username string
	password string
}

func startSMTPServer(listenAddr string, tlsConfig *tls.Config) (*TestSMTPServer, error) {
	be := NewMemoryBackend()

	s := smtp.NewServer(be)
	s.Addr = listenAddr
	s.AllowInsecureAuth = true
	s.Domain = "localhost"
	s.TLSConfig = tlsConfig

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	return &TestSMTPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		cleanup:  func() { _ = s.Close() },
		username: "test-user",
		password: "test-pass",
	}, nil
}

// NewTestSMTPServer starts an in-memory SMTP relay on a random local port.
// The memory backend accepts any username/password combination.
func NewTestSMTPServer(t *testing.T) *TestSMTPServer {
	t.Helper()

	s, err := startSMTPServer("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Failed to start SMTP server: %v", err)
	}
	t.Cleanup(s.Close)

	return s
}

// NewTestSMTPServerTLS starts an in-memory relay that advertises STARTTLS with a
// self-signed certificate for 127.0.0.1. The returned pool trusts that certificate.
func NewTestSMTPServerTLS(t *testing.T) (*TestSMTPServer, *x509.CertPool) {
	t.Helper()

	cert, roots, err := selfSignedCert()
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	s, err := startSMTPServer("127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("Failed to start SMTP server: %v", err)
	}
	t.Cleanup(s.Close)

	return s, roots
}

func selfSignedCert() (tls.Certificate, *x509.CertPool, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "chitbox test relay"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	roots := x509.NewCertPool()
	roots.AddCert(parsed)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: parsed}, roots, nil
}

// NewTestSMTPServerForE2E starts the in-memory relay on a fixed port (1025)
// for the local end-to-end harness.
func NewTestSMTPServerForE2E() (*TestSMTPServer, error) {
	return startSMTPServer("127.0.0.1:1025", nil)
}

// Close shuts down the test SMTP server.
func (s *TestSMTPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
}

// Host returns the host part of Address.
func (s *TestSMTPServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Address)
	return host
}

// Port returns the port part of Address.
func (s *TestSMTPServer) Port() string {
	_, port, _ := net.SplitHostPort(s.Address)
	return port
}

// Username returns the test username.
func (s *TestSMTPServer) Username() string {
	return s.username
}

// Password returns the test password.
func (s *TestSMTPServer) Password() string {
	return s.password
}

// GetMessages returns all messages received by the server.
func (s *TestSMTPServer) GetMessages() []*MemoryMessage {
	return s.Backend.GetMessages()
}

// ClearMessages clears all stored messages.
func (s *TestSMTPServer) ClearMessages() {
	s.Backend.ClearMessages()
}
