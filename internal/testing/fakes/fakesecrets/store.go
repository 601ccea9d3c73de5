// Package fakesecrets provides an in-memory ports.SecretStore.
package fakesecrets

import (
	"sync"

	"github.com/acolita/replsh/internal/ports"
)

// Store keeps secrets in a map.
type Store struct {
	mu      sync.Mutex
	secrets map[string][]byte
	Err     error
}

// New returns an empty store.
func New() *Store {
	return &Store{secrets: make(map[string][]byte)}
}

// Get returns a copy of the secret, or nil.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	v, ok := s.secrets[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of secret.
func (s *Store) Set(key string, secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.secrets[key] = append([]byte(nil), secret...)
	return nil
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, key)
	return nil
}

var _ ports.SecretStore = (*Store)(nil)
