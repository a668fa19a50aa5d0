// Package smtpd is the inbound SMTP listener. Accepted messages are parsed and
// delivered synchronously before the DATA command is answered.
package smtpd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/chitbox/chitbox/internal/auth"
	"github.com/chitbox/chitbox/internal/delivery"
	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/mime"
	"github.com/chitbox/chitbox/internal/models"
)

var (
	errParse = &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Message could not be processed, try again later",
	}
	errStorage = &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Mailbox temporarily unavailable, try again later",
	}
	errAuthFailed = &smtp.SMTPError{
		Code:         535,
		EnhancedCode: smtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication credentials invalid",
	}
	errAuthUnavailable = &smtp.SMTPError{
		Code:         454,
		EnhancedCode: smtp.EnhancedCode{4, 7, 0},
		Message:      "Temporary authentication failure",
	}
	errAuthMechanism = &smtp.SMTPError{
		Code:         504,
		EnhancedCode: smtp.EnhancedCode{5, 5, 4},
		Message:      "Unsupported authentication mechanism",
	}
)

// Deliverer files a parsed envelope into local mailboxes.
type Deliverer interface {
	Deliver(ctx context.Context, env *models.Envelope) *delivery.Report
}

// Authenticator checks AUTH PLAIN credentials. It returns auth.ErrInvalidCredentials on mismatch.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (string, error)
}

// Backend implements smtp.Backend.
type Backend struct {
	deliverer   Deliverer
	notifier    delivery.Notifier
	auth        Authenticator
	connections atomic.Uint64
}

// NewBackend creates a Backend. notifier and authenticator may be nil;
// without an authenticator AUTH is not advertised.
func NewBackend(deliverer Deliverer, notifier delivery.Notifier, authenticator Authenticator) *Backend {
	return &Backend{
		deliverer: deliverer,
		notifier:  notifier,
		auth:      authenticator,
	}
}

// NewSession is called by go-smtp for every accepted connection.
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	id := b.connections.Add(1)
	metricConnections.Inc()

	ctx := log.WithConnection(log.WithOrigin(context.Background(), "smtp"), id)

	var remote string
	if addr := remoteAddr(c); addr != nil {
		remote = addr.String()
	}
	log.InfoContext(ctx).Str("remote", remote).Msg("connection opened")

	return &session{backend: b, ctx: ctx}, nil
}

func remoteAddr(c *smtp.Conn) net.Addr {
	if c == nil || c.Conn() == nil {
		return nil
	}
	return c.Conn().RemoteAddr()
}

type session struct {
	backend *Backend
	ctx     context.Context
	from    string
	rcpts   []string
	userID  string
}

var _ smtp.AuthSession = (*session)(nil)

func (s *session) AuthMechanisms() []string {
	if s.backend.auth == nil {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if s.backend.auth == nil || mech != sasl.Plain {
		return nil, errAuthMechanism
	}

	return sasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			metricAuth.WithLabelValues("rejected").Inc()
			return errAuthFailed
		}

		userID, err := s.backend.auth.Authenticate(s.ctx, username, password)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.WarnContext(s.ctx).Str("username", username).Msg("authentication failed")
			metricAuth.WithLabelValues("rejected").Inc()
			return errAuthFailed
		}
		if err != nil {
			log.ErrorContext(s.ctx).Err(err).Str("username", username).Msg("authentication unavailable")
			metricAuth.WithLabelValues("error").Inc()
			return errAuthUnavailable
		}

		s.userID = userID
		s.ctx = log.WithUser(s.ctx, userID)
		metricAuth.WithLabelValues("accepted").Inc()
		log.InfoContext(s.ctx).Msg("authenticated")
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	log.DebugContext(s.ctx).Str("from", from).Msg("MAIL FROM")
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.rcpts = append(s.rcpts, to)
	log.DebugContext(s.ctx).Str("to", to).Msg("RCPT TO")
	return nil
}

func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			log.WarnContext(s.ctx).Int("code", smtpErr.Code).Msg("message rejected")
			metricMessages.WithLabelValues("too_large").Inc()
		}
		return err
	}

	env, err := mime.Parse(bytes.NewReader(raw), mime.WithEnvelopeSender(s.from))
	if err != nil {
		log.WarnContext(s.ctx).Err(err).Str("from", s.from).Msg("could not parse message")
		metricMessages.WithLabelValues("malformed").Inc()
		return errParse
	}

	env = env.ScopeToRecipients(s.rcpts)
	report := s.backend.deliverer.Deliver(s.ctx, env)

	metricRecipients.WithLabelValues("delivered").Add(float64(report.Delivered))
	metricRecipients.WithLabelValues("external").Add(float64(report.External))
	metricRecipients.WithLabelValues("failed").Add(float64(report.Failed))

	delivery.Dispatch(report.Events, s.backend.notifier)

	log.InfoContext(s.ctx).
		Str("from", env.From.Email).
		Int("size", len(raw)).
		Int("delivered", report.Delivered).
		Int("external", report.External).
		Int("failed", report.Failed).
		Msg("message processed")

	if report.AllFailed() {
		metricMessages.WithLabelValues("storage_failed").Inc()
		return errStorage
	}

	metricMessages.WithLabelValues("accepted").Inc()
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.rcpts = nil
}

func (s *session) Logout() error {
	log.InfoContext(s.ctx).Msg("connection closed")
	return nil
}
