package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/acolita/replsh/internal/ports"
	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for keyring entries.
const KeyringService = "replsh"

// ServerPasswordKey names the keyring entry holding the SSH password of
// user@host:port.
func ServerPasswordKey(user, host string, port int) string {
	return fmt.Sprintf("server:%s@%s:%d", user, host, port)
}

// PassphraseKey names the keyring entry holding the passphrase of a key file.
func PassphraseKey(keyPath string) string {
	return "ssh-passphrase:" + keyPath
}

// KeyringStore implements ports.SecretStore on the OS keyring (macOS
// Keychain, Linux Secret Service, Windows Credential Manager). Secrets are
// base64 encoded so binary values survive backends that only store text.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a store under KeyringService.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: KeyringService}
}

// Get returns the secret stored under key, or nil if there is none.
func (ks *KeyringStore) Get(key string) ([]byte, error) {
	encoded, err := keyring.Get(ks.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("keyring get %s: %w", key, err)
	}

	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode keyring entry %s: %w", key, err)
	}
	return secret, nil
}

// Set stores secret under key, replacing any previous value.
func (ks *KeyringStore) Set(key string, secret []byte) error {
	encoded := base64.StdEncoding.EncodeToString(secret)
	if err := keyring.Set(ks.service, key, encoded); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	slog.Debug("stored secret in keyring", slog.String("entry", key))
	return nil
}

// Delete removes key. A missing entry is not an error.
func (ks *KeyringStore) Delete(key string) error {
	if err := keyring.Delete(ks.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("keyring delete %s: %w", key, err)
	}
	return nil
}

var _ ports.SecretStore = (*KeyringStore)(nil)
