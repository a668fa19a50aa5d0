package smtpd

import (
	stdlog "log"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/chitbox/chitbox/internal/log"
)

// Options are the listener settings taken from configuration.
type Options struct {
	Addr            string
	Domain          string
	MaxMessageBytes int64
	MaxRecipients   int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// NewServer configures a go-smtp server for be. AUTH PLAIN is allowed without TLS
// because TLS is terminated in front of the listener.
func NewServer(be *Backend, opts Options) *smtp.Server {
	s := smtp.NewServer(be)

	s.Addr = opts.Addr
	s.Domain = opts.Domain
	s.MaxMessageBytes = opts.MaxMessageBytes
	s.MaxRecipients = opts.MaxRecipients
	s.ReadTimeout = opts.ReadTimeout
	s.WriteTimeout = opts.WriteTimeout
	s.AllowInsecureAuth = true
	s.ErrorLog = stdlog.New(log.Writer{Origin: "smtp", Level: zerolog.WarnLevel}, "", 0)

	return s
}
