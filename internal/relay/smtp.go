package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/models"
)

type SMTPOptions struct {
	Addr      string
	LocalName string
	Username  string
	Password  string
	Timeout   time.Duration
	// TLSConfig is used for STARTTLS. ServerName defaults to the host of Addr.
	TLSConfig *tls.Config
}

// SMTP relays through one upstream host. STARTTLS is used when offered and
// AUTH PLAIN when a username is configured.
type SMTP struct {
	opts     SMTPOptions
	composer Composer
}

func NewSMTP(opts SMTPOptions, composer Composer) *SMTP {
	if opts.LocalName == "" {
		opts.LocalName = "localhost"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &SMTP{opts: opts, composer: composer}
}

func (r *SMTP) Name() string {
	return "smtp"
}

func (r *SMTP) Send(ctx context.Context, e *models.OutboundEmail) error {
	raw, err := r.composer.Outbound(e)
	if err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}

	c, err := r.dial()
	if err != nil {
		return err
	}
	defer c.Close()

	c.CommandTimeout = r.opts.Timeout
	c.SubmissionTimeout = r.opts.Timeout

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := r.hello(c); err != nil {
		return err
	}

	if err := c.Mail(e.From.Email, nil); err != nil {
		return fmt.Errorf("relay rejected sender: %w", err)
	}
	for _, rcpt := range e.EnvelopeRecipients() {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("relay rejected recipient %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("relay refused data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("relay rejected message: %w", err)
	}

	if err := c.Quit(); err != nil {
		log.Debug().Err(err).Str("relay", r.opts.Addr).Msg("QUIT failed after successful delivery")
	}

	return nil
}

// dial upgrades with STARTTLS when the relay offers it and stays in plain
// text otherwise. A failed upgrade is an error, not a reason to downgrade.
func (r *SMTP) dial() (*smtp.Client, error) {
	c, err := smtp.DialStartTLS(r.opts.Addr, r.tlsConfig())
	if err == nil {
		return c, nil
	}
	if !strings.Contains(err.Error(), "doesn't support STARTTLS") {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", r.opts.Addr, err)
	}

	log.Debug().Str("relay", r.opts.Addr).Msg("relay does not offer STARTTLS, continuing in plain text")
	c, err = smtp.Dial(r.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", r.opts.Addr, err)
	}
	return c, nil
}

func (r *SMTP) tlsConfig() *tls.Config {
	cfg := &tls.Config{}
	if r.opts.TLSConfig != nil {
		cfg = r.opts.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		host, _, err := net.SplitHostPort(r.opts.Addr)
		if err != nil {
			host = r.opts.Addr
		}
		cfg.ServerName = host
	}
	return cfg
}

// hello introduces the client with LocalName. After STARTTLS the session has
// been reset, so this is the EHLO sent over the encrypted connection.
func (r *SMTP) hello(c *smtp.Client) error {
	if err := c.Hello(r.opts.LocalName); err != nil {
		return fmt.Errorf("relay rejected EHLO: %w", err)
	}

	if r.opts.Username == "" {
		return nil
	}
	if ok, _ := c.Extension("AUTH"); !ok {
		return fmt.Errorf("relay %s does not support AUTH", r.opts.Addr)
	}
	if err := c.Auth(sasl.NewPlainClient("", r.opts.Username, r.opts.Password)); err != nil {
		return fmt.Errorf("relay authentication failed: %w", err)
	}

	return nil
}
