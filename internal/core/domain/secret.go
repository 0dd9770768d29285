package domain

import (
	"encoding/json"
	"log/slog"
)

const redacted = "********"

// Secret holds a credential. Every rendering path (fmt, JSON, slog) prints a
// mask; the plaintext is only available through Reveal.
type Secret struct {
	value string
}

// NewSecret wraps a plaintext credential
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the plaintext credential
func (s Secret) Reveal() string {
	return s.value
}

// IsEmpty reports whether no credential is set
func (s Secret) IsEmpty() bool {
	return s.value == ""
}

// Equal compares two secrets without exposing them
func (s Secret) Equal(other Secret) bool {
	return s.value == other.value
}

// String implements fmt.Stringer
func (s Secret) String() string {
	if s.value == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer so %#v stays masked
func (s Secret) GoString() string {
	return "domain.Secret{" + s.String() + "}"
}

// MarshalJSON implements json.Marshaler
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// LogValue implements slog.LogValuer
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}
