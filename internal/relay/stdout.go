package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chitbox/chitbox/internal/models"
)

const separator = "========================================\n"

// Stdout prints composed messages instead of sending them. Used in development.
type Stdout struct {
	mu       sync.Mutex
	w        io.Writer
	composer Composer
}

func NewStdout(composer Composer) *Stdout {
	return NewStdoutWithWriter(os.Stdout, composer)
}

func NewStdoutWithWriter(w io.Writer, composer Composer) *Stdout {
	return &Stdout{w: w, composer: composer}
}

func (r *Stdout) Name() string {
	return "stdout"
}

func (r *Stdout) Send(_ context.Context, e *models.OutboundEmail) error {
	raw, err := r.composer.Outbound(e)
	if err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := fmt.Fprintf(r.w, "%sMAIL FROM: %s\nRCPT TO: %v\n\n", separator, e.From.Email, e.EnvelopeRecipients()); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	if _, err := r.w.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if _, err := io.WriteString(r.w, "\n"+separator); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}
