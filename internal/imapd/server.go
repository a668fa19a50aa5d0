package imapd

import (
	stdlog "log"

	"github.com/emersion/go-imap/server"
	"github.com/rs/zerolog"

	"github.com/chitbox/chitbox/internal/log"
)

// NewServer configures a go-imap server for be listening on addr.
func NewServer(be *Backend, addr string) *server.Server {
	s := server.New(be)
	s.Addr = addr
	s.AllowInsecureAuth = true
	s.ErrorLog = stdlog.New(log.Writer{Origin: "imap", Level: zerolog.WarnLevel}, "", 0)
	return s
}
