package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/acolita/replsh/internal/adapters/realclock"
	"github.com/acolita/replsh/internal/config"
	"github.com/acolita/replsh/internal/ports"
	"github.com/acolita/replsh/internal/recording"
	"github.com/acolita/replsh/internal/security"
	"github.com/acolita/replsh/internal/ssh"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when security.max_sessions is reached.
	ErrTooManySessions = errors.New("max sessions reached")

	// ErrSessionsClosed is returned by a Create that was still connecting
	// when CloseAll ran. The new session is closed, not registered.
	ErrSessionsClosed = errors.New("sessions closed while connecting")
)

// CreateOptions defines options for creating a session.
type CreateOptions struct {
	Mode     string // "ssh" or "local"; empty uses the config mode
	Server   string // named server; empty uses default_server unless Host is set
	Host     string
	Port     int
	User     string
	KeyPath  string
	Password string // never persisted
}

// Session is a controller registered with a Manager.
type Session struct {
	*Controller

	ID        string
	Mode      string
	Server    string
	CreatedAt time.Time
}

// SessionInfo describes a session for listings.
type SessionInfo struct {
	ID        string    `json:"session_id"`
	Mode      string    `json:"mode"`
	Server    string    `json:"server,omitempty"`
	Target    string    `json:"target"`
	Ready     bool      `json:"ready"`
	Connected bool      `json:"connected"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	Recording string    `json:"recording,omitempty"`
}

// Manager owns the sessions of the MCP server and the chat loop.
type Manager struct {
	sessions map[string]*Session
	pending  int
	epoch    uint64 // bumped by CloseAll
	mu       sync.RWMutex
	config   *config.Config

	factory    TransportFactory
	recordings *recording.Manager
	filter     CommandFilter
	limiter    *security.AuthRateLimiter
	store      *SessionStore
	clock      ports.Clock
	logger     *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTransportFactory replaces the SSH/PTY factory.
func WithTransportFactory(f TransportFactory) ManagerOption {
	return func(m *Manager) { m.factory = f }
}

// WithRecordings records every session through rm.
func WithRecordings(rm *recording.Manager) ManagerOption {
	return func(m *Manager) { m.recordings = rm }
}

// WithSessionFilter applies f to every command of every session.
func WithSessionFilter(f CommandFilter) ManagerOption {
	return func(m *Manager) { m.filter = f }
}

// WithRateLimiter refuses targets with too many recent auth failures.
func WithRateLimiter(l *security.AuthRateLimiter) ManagerOption {
	return func(m *Manager) { m.limiter = l }
}

// WithStore persists session metadata for Restore.
func WithStore(s *SessionStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithManagerClock sets the clock handed to controllers.
func WithManagerClock(c ports.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a new session manager.
func NewManager(cfg *config.Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		config:   cfg,
		factory:  &Factory{},
		clock:    realclock.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UpdateConfig replaces the config used for new sessions. Open sessions keep
// their settings, except the terminal size: a new rows/cols is applied to
// every open session that has a window.
func (m *Manager) UpdateConfig(cfg *config.Config) {
	m.mu.Lock()
	old := m.config
	m.config = cfg
	var sessions []*Session
	if old == nil || old.Session.Rows != cfg.Session.Rows || old.Session.Cols != cfg.Session.Cols {
		for _, s := range m.sessions {
			sessions = append(sessions, s)
		}
	}
	m.mu.Unlock()

	for _, s := range sessions {
		err := s.Resize(uint16(cfg.Session.Rows), uint16(cfg.Session.Cols))
		if err != nil && !errors.Is(err, ErrResizeUnsupported) {
			m.logger.Warn("resize session", slog.String("session_id", s.ID), slog.String("error", err.Error()))
		}
	}
}

// Create connects a new session. It returns the session even when the ready
// marker was not seen; Ready reports that.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	return m.create(ctx, uuid.NewString(), opts)
}

func (m *Manager) create(ctx context.Context, id string, opts CreateOptions) (*Session, error) {
	m.mu.Lock()
	cfg := m.config
	if len(m.sessions)+m.pending >= cfg.Security.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrTooManySessions, cfg.Security.MaxSessions)
	}
	m.pending++
	epoch := m.epoch
	m.mu.Unlock()

	sess, err := m.connect(ctx, cfg, id, opts)

	m.mu.Lock()
	m.pending--
	stale := err == nil && m.epoch != epoch
	if err == nil && !stale {
		m.sessions[id] = sess
	}
	m.mu.Unlock()

	if stale {
		m.logger.Info("closing session created during shutdown", slog.String("session_id", id))
		sess.Close()
		m.stopRecording(id)
		return nil, ErrSessionsClosed
	}
	if err != nil {
		return nil, err
	}

	if m.store != nil {
		m.store.Save(SessionMetadata{
			ID:        id,
			Mode:      sess.Mode,
			Server:    sess.Server,
			Host:      opts.Host,
			Port:      opts.Port,
			User:      opts.User,
			KeyPath:   opts.KeyPath,
			CreatedAt: sess.CreatedAt,
		})
	}
	return sess, nil
}

func (m *Manager) connect(ctx context.Context, cfg *config.Config, id string, opts CreateOptions) (*Session, error) {
	mode := opts.Mode
	if mode == "" {
		mode = cfg.Mode
	}
	opts.Mode = mode

	transport, err := m.factory.NewTransport(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	target := transport.Target()
	logger := m.logger.With(slog.String("session_id", id))

	if m.limiter != nil {
		if locked, wait := m.limiter.IsLocked(target); locked {
			return nil, fmt.Errorf("%s is locked after repeated authentication failures, retry in %s", target, wait.Round(time.Second))
		}
	}

	sessOpts, err := OptionsFromConfig(cfg.Session)
	if err != nil {
		return nil, err
	}
	ctrlOpts := []Option{
		WithOptions(sessOpts),
		WithClock(m.clock),
		WithLogger(logger),
	}
	if m.filter != nil {
		ctrlOpts = append(ctrlOpts, WithCommandFilter(m.filter))
	}

	if m.recordings != nil {
		rec, err := m.recordings.Start(id, target)
		if err != nil {
			logger.Warn("recording disabled for session", slog.String("error", err.Error()))
		} else if rec != nil {
			ctrlOpts = append(ctrlOpts, WithRecorder(rec))
		}
	}

	ctrl, err := New(transport, ctrlOpts...)
	if err != nil {
		m.stopRecording(id)
		return nil, err
	}

	ready, err := ctrl.Connect(ctx)
	if err != nil {
		m.stopRecording(id)
		if m.limiter != nil && ssh.IsAuthError(err) {
			m.limiter.RecordFailure(target)
		}
		return nil, err
	}
	if m.limiter != nil {
		m.limiter.RecordSuccess(target)
	}

	logger.Info("session created", slog.String("mode", mode), slog.Bool("ready", ready))
	return &Session{
		Controller: ctrl,
		ID:         id,
		Mode:       mode,
		Server:     opts.Server,
		CreatedAt:  m.clock.Now(),
	}, nil
}

func (m *Manager) stopRecording(id string) {
	if m.recordings == nil {
		return
	}
	if err := m.recordings.Stop(id); err != nil {
		m.logger.Warn("close recording", slog.String("session_id", id), slog.String("error", err.Error()))
	}
}

// Restore reopens the sessions recorded in the store under their old IDs.
// Sessions that cannot be reopened are dropped from the store. It returns
// the IDs that were restored.
func (m *Manager) Restore(ctx context.Context) []string {
	if m.store == nil {
		return nil
	}

	var restored []string
	for _, meta := range m.store.List() {
		if _, err := m.Get(meta.ID); err == nil {
			continue
		}
		if _, err := m.create(ctx, meta.ID, meta.CreateOptions()); err != nil {
			if errors.Is(err, ErrSessionsClosed) {
				continue
			}
			m.logger.Warn("session not restored",
				slog.String("session_id", meta.ID),
				slog.String("error", err.Error()),
			)
			m.store.Delete(meta.ID)
			continue
		}
		restored = append(restored, meta.ID)
	}
	return restored
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Close closes and removes a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	err := sess.Close()
	m.stopRecording(id)
	if m.store != nil {
		m.store.Delete(id)
	}
	return err
}

// List describes every session, oldest first.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		info := SessionInfo{
			ID:        s.ID,
			Mode:      s.Mode,
			Server:    s.Server,
			Target:    s.Target(),
			Ready:     s.Ready(),
			Connected: s.Connected(),
			State:     s.State().String(),
			CreatedAt: s.CreatedAt,
		}
		if m.recordings != nil {
			info.Recording = m.recordings.Path(s.ID)
		}
		infos = append(infos, info)
	}
	return infos
}

// CloseAll closes every session. A Create still connecting closes its
// session when the connect finishes and returns ErrSessionsClosed. Persisted
// metadata is kept so Restore can reopen them on the next start.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.epoch++
	m.mu.Unlock()

	for id, s := range sessions {
		if err := s.Close(); err != nil {
			m.logger.Warn("close session", slog.String("session_id", id), slog.String("error", err.Error()))
		}
		m.stopRecording(id)
	}
}

// SessionCount returns the number of active sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
