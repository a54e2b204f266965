// Package secret resolves the credential used to authenticate against the
// Mattermost server, through an ordered chain of strategies.
package secret

import (
	"fmt"
	"strings"
)

// Kind tells how a secret authenticates.
type Kind int

const (
	// Password is exchanged for a session token through the login API.
	Password Kind = iota
	// Token is a personal access token sent as a bearer credential.
	Token
)

func (k Kind) String() string {
	switch k {
	case Token:
		return "token"
	case Password:
		return "password"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts "token" or "password", case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "token":
		return Token, nil
	case "password", "":
		return Password, nil
	}
	return Password, fmt.Errorf("unknown secret type %q: must be \"token\" or \"password\"", s)
}

const redacted = "***"

// Secret is an in-memory credential. Its value never appears in formatted
// output; use Value to read it.
type Secret struct {
	kind  Kind
	value string
}

// New returns a secret of the given kind.
func New(kind Kind, value string) Secret {
	return Secret{kind: kind, value: value}
}

// Kind returns how the secret authenticates.
func (s Secret) Kind() Kind { return s.kind }

// Value returns the raw credential.
func (s Secret) Value() string { return s.value }

// IsZero reports whether no credential is held.
func (s Secret) IsZero() bool { return s.value == "" }

func (s Secret) String() string { return redacted }

// GoString keeps %#v from printing the value.
func (s Secret) GoString() string {
	return fmt.Sprintf("secret.Secret{kind: %s, value: %s}", s.kind, redacted)
}

// MarshalText keeps encoders (zap, JSON) from printing the value.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
