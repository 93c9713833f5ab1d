// ABOUTME: Secret wraps key material so it cannot leak through fmt, slog or JSON.
// ABOUTME: Bytes returns a copy; Equal compares in constant time.
package bindings

import (
	"crypto/subtle"
	"log/slog"
)

const redacted = "[REDACTED]"

// Secret holds key material. Every formatting path prints a placeholder.
type Secret struct {
	b []byte
}

// NewSecret copies s into a Secret.
func NewSecret(s string) Secret {
	return Secret{b: []byte(s)}
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return len(s.b) == 0 }

// Bytes returns a copy of the key material.
func (s Secret) Bytes() []byte {
	out := make([]byte, len(s.b))
	copy(out, s.b)
	return out
}

// Equal reports whether candidate matches the secret, in constant time.
// An empty secret matches nothing.
func (s Secret) Equal(candidate string) bool {
	if len(s.b) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(s.b, []byte(candidate)) == 1
}

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalText implements encoding.TextMarshaler; encoding/json uses it too.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }
