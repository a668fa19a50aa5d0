package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRecipientsOrder(t *testing.T) {
	env := &Envelope{
		To:  []Address{{Email: "a@x"}},
		Cc:  []Address{{Email: "b@x"}, {Email: "c@x"}},
		Bcc: []Address{{Email: "d@x"}},
	}

	recipients := env.Recipients()
	require.Len(t, recipients, 4)
	assert.Equal(t, "a@x", recipients[0].Address.Email)
	assert.Equal(t, RecipientTo, recipients[0].Kind)
	assert.Equal(t, "b@x", recipients[1].Address.Email)
	assert.Equal(t, "c@x", recipients[2].Address.Email)
	assert.Equal(t, RecipientCc, recipients[2].Kind)
	assert.Equal(t, "d@x", recipients[3].Address.Email)
	assert.Equal(t, RecipientBcc, recipients[3].Kind)
}

func TestScopeToRecipients(t *testing.T) {
	env := &Envelope{
		Subject: "Hi",
		To:      []Address{{Name: "Alice", Email: "alice@chitbox.test"}, {Email: "bob@elsewhere.test"}},
		Cc:      []Address{{Email: "carol@chitbox.test"}},
	}

	t.Run("keeps header entries named in RCPT and adds the rest as bcc", func(t *testing.T) {
		scoped := env.ScopeToRecipients([]string{"carol@chitbox.test", "ALICE@chitbox.test", "dave@chitbox.test"})

		assert.Equal(t, []Address{{Name: "Alice", Email: "alice@chitbox.test"}}, scoped.To)
		assert.Equal(t, []Address{{Email: "carol@chitbox.test"}}, scoped.Cc)
		assert.Equal(t, []Address{{Email: "dave@chitbox.test"}}, scoped.Bcc)
		assert.Equal(t, "Hi", scoped.Subject)
	})

	t.Run("does not modify the original", func(t *testing.T) {
		_ = env.ScopeToRecipients([]string{"dave@chitbox.test"})
		assert.Len(t, env.To, 2)
		assert.Empty(t, env.Bcc)
	})

	t.Run("duplicate RCPT delivers once", func(t *testing.T) {
		scoped := env.ScopeToRecipients([]string{"dave@chitbox.test", "dave@chitbox.test"})
		assert.Empty(t, scoped.To)
		assert.Equal(t, []Address{{Email: "dave@chitbox.test"}}, scoped.Bcc)
	})

	t.Run("no RCPT list keeps the envelope", func(t *testing.T) {
		assert.Same(t, env, env.ScopeToRecipients(nil))
	})
}

func TestThreadReferences(t *testing.T) {
	env := &Envelope{InReplyTo: "<b@x>", References: []string{"<a@x>", "<b@x>"}}
	assert.Equal(t, []string{"<b@x>", "<a@x>"}, env.ThreadReferences())

	assert.Empty(t, (&Envelope{}).ThreadReferences())
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("Jane Doe <jane@example.com>")
	require.NoError(t, err)
	assert.Equal(t, Address{Name: "Jane Doe", Email: "jane@example.com"}, addr)

	addr, err = ParseAddress(" jane@example.com ")
	require.NoError(t, err)
	assert.Equal(t, Address{Email: "jane@example.com"}, addr)

	_, err = ParseAddress("not an address")
	assert.Error(t, err)
}

func TestOutboundStatusTerminal(t *testing.T) {
	assert.False(t, OutboundPending.Terminal())
	assert.False(t, OutboundRetrying.Terminal())
	assert.True(t, OutboundSent.Terminal())
	assert.True(t, OutboundFailed.Terminal())
}

func TestOutboundEnvelopeRecipients(t *testing.T) {
	e := &OutboundEmail{
		To:  "a@x",
		Cc:  []Address{{Name: "B", Email: "b@x"}},
		Bcc: []Address{{Email: "c@x"}},
	}
	assert.Equal(t, []string{"a@x", "b@x", "c@x"}, e.EnvelopeRecipients())
}
