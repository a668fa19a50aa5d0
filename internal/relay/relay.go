// Package relay hands composed outbound messages to an upstream transport.
package relay

import (
	"context"
	"fmt"

	"github.com/chitbox/chitbox/internal/config"
	"github.com/chitbox/chitbox/internal/models"
)

// Relay transmits one outbound queue entry. A returned error is recorded on the entry
// and the entry is retried until it runs out of attempts.
type Relay interface {
	Send(ctx context.Context, e *models.OutboundEmail) error
	Name() string
}

// Composer renders a queue entry as RFC 5322 bytes.
type Composer interface {
	Outbound(e *models.OutboundEmail) ([]byte, error)
}

// New builds the relay selected by cfg.RelayProvider.
func New(ctx context.Context, cfg *config.Config, composer Composer) (Relay, error) {
	switch cfg.RelayProvider {
	case config.RelayProviderSMTP:
		return NewSMTP(SMTPOptions{
			Addr:      cfg.RelayAddress(),
			LocalName: cfg.Domain,
			Username:  cfg.RelayUsername,
			Password:  cfg.RelayPassword,
			Timeout:   cfg.RelayTimeout,
		}, composer), nil
	case config.RelayProviderSES:
		return NewSES(ctx, SESOptions{
			Region:          cfg.SESRegion,
			AccessKeyID:     cfg.SESAccessKeyID,
			SecretAccessKey: cfg.SESSecretAccessKey,
		}, composer)
	case config.RelayProviderStdout:
		return NewStdout(composer), nil
	default:
		return nil, fmt.Errorf("unknown relay provider %q", cfg.RelayProvider)
	}
}
