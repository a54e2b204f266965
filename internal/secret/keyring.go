package secret

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned by a Keyring when no entry matches.
var ErrNotFound = errors.New("secret not found in keyring")

// Keyring looks up a credential by service and user.
type Keyring interface {
	Get(service, user string) (string, error)
}

// OSKeyring reads the platform credential store (Secret Service on Linux,
// Keychain on macOS, Credential Manager on Windows).
type OSKeyring struct{}

// Get returns the stored secret or ErrNotFound.
func (OSKeyring) Get(service, user string) (string, error) {
	v, err := keyring.Get(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}
