package models

import (
	"net/mail"
	"strings"
)

// Address is a mailbox address with an optional display name.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// ParseAddress parses an RFC 5322 address such as "Jane <jane@example.com>".
// A bare address without angle brackets is accepted too.
func ParseAddress(s string) (Address, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return Address{}, err
	}
	return Address{Name: parsed.Name, Email: parsed.Address}, nil
}

// String formats the address for a header value.
func (a Address) String() string {
	m := mail.Address{Name: a.Name, Address: a.Email}
	return m.String()
}

// MailAddress converts to the net/mail representation.
func (a Address) MailAddress() mail.Address {
	return mail.Address{Name: a.Name, Address: a.Email}
}

// MailAddresses converts a list of addresses to net/mail values.
func MailAddresses(addrs []Address) []mail.Address {
	out := make([]mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.MailAddress())
	}
	return out
}
