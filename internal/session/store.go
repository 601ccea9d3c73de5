package session

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/acolita/replsh/internal/adapters/realfs"
	"github.com/acolita/replsh/internal/ports"
)

// SessionMetadata is what is needed to reopen a session after a restart.
// Credentials are never stored.
type SessionMetadata struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	Server    string    `json:"server,omitempty"`
	Host      string    `json:"host,omitempty"`
	Port      int       `json:"port,omitempty"`
	User      string    `json:"user,omitempty"`
	KeyPath   string    `json:"key_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateOptions rebuilds the options the session was created with.
func (m SessionMetadata) CreateOptions() CreateOptions {
	return CreateOptions{
		Mode:    m.Mode,
		Server:  m.Server,
		Host:    m.Host,
		Port:    m.Port,
		User:    m.User,
		KeyPath: m.KeyPath,
	}
}

// SessionStore persists session metadata so the MCP server can reopen
// sessions after a restart.
type SessionStore struct {
	path     string
	sessions map[string]SessionMetadata
	mu       sync.RWMutex
	fs       ports.FileSystem
}

// SessionStoreOption configures a SessionStore.
type SessionStoreOption func(*SessionStore)

// WithFileSystem sets the filesystem used by SessionStore.
func WithFileSystem(fs ports.FileSystem) SessionStoreOption {
	return func(s *SessionStore) {
		s.fs = fs
	}
}

// WithStorePath sets a custom storage path.
func WithStorePath(path string) SessionStoreOption {
	return func(s *SessionStore) {
		s.path = path
	}
}

// NewSessionStore creates a store at ~/.cache/replsh/sessions.json unless
// WithStorePath says otherwise, and loads what is already there.
func NewSessionStore(opts ...SessionStoreOption) *SessionStore {
	store := &SessionStore{
		sessions: make(map[string]SessionMetadata),
		fs:       realfs.New(),
	}
	for _, opt := range opts {
		opt(store)
	}
	if store.path == "" {
		store.path = store.defaultPath()
	}

	store.load()
	return store
}

func (s *SessionStore) defaultPath() string {
	home, err := s.fs.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}

	cacheDir := filepath.Join(home, ".cache", "replsh")
	if err := s.fs.MkdirAll(cacheDir, 0700); err != nil {
		slog.Warn("failed to create cache dir, using /tmp", slog.String("error", err.Error()))
		cacheDir = "/tmp"
	}
	return filepath.Join(cacheDir, "sessions.json")
}

// Path returns the backing file.
func (s *SessionStore) Path() string {
	return s.path
}

// Save records meta and writes the store.
func (s *SessionStore) Save(meta SessionMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[meta.ID] = meta
	s.persist()
}

// Get retrieves session metadata by ID.
func (s *SessionStore) Get(id string) (SessionMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.sessions[id]
	return meta, ok
}

// List returns every record, oldest first.
func (s *SessionStore) List() []SessionMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionMetadata, 0, len(s.sessions))
	for _, meta := range s.sessions {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete removes session metadata.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return
	}
	delete(s.sessions, id)
	s.persist()
}

func (s *SessionStore) load() {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to load session store", slog.String("error", err.Error()))
		}
		return
	}

	if err := json.Unmarshal(data, &s.sessions); err != nil {
		slog.Warn("failed to parse session store", slog.String("error", err.Error()))
		s.sessions = make(map[string]SessionMetadata)
	}
}

func (s *SessionStore) persist() {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		slog.Warn("failed to marshal session store", slog.String("error", err.Error()))
		return
	}

	if err := s.fs.WriteFile(s.path, data, 0600); err != nil {
		slog.Warn("failed to write session store", slog.String("error", err.Error()))
	}
}
