package recording

import (
	"log/slog"
	"sync"

	"github.com/acolita/replsh/internal/config"
	"github.com/acolita/replsh/internal/ports"
)

// Settings are the hot-reloadable recording options.
type Settings struct {
	Enabled  bool
	Dir      string
	Compress bool
	Width    int
	Height   int
	Term     string
}

// SettingsFromConfig reads the recording section of cfg. The terminal size
// follows the session settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Enabled:  cfg.Recording.Enabled,
		Dir:      cfg.Recording.Path,
		Compress: cfg.Recording.Compress,
		Width:    cfg.Session.Cols,
		Height:   cfg.Session.Rows,
		Term:     cfg.Session.Term,
	}
}

// Manager owns the recorders of all live sessions.
type Manager struct {
	mu        sync.RWMutex
	recorders map[string]*Recorder
	settings  Settings
	fs        ports.FileSystem
	clock     ports.Clock
}

// NewManager creates a new recording manager.
func NewManager(settings Settings, fs ports.FileSystem, clock ports.Clock) *Manager {
	return &Manager{
		recorders: make(map[string]*Recorder),
		settings:  settings,
		fs:        fs,
		clock:     clock,
	}
}

// Update replaces the settings. Recorders already running are unaffected.
func (m *Manager) Update(settings Settings) {
	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()
}

// IsEnabled returns whether new sessions are recorded.
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.Enabled
}

// Start opens a transcript for sessionID. It returns nil, nil when recording
// is disabled. An existing recorder for the same session is closed first.
func (m *Manager) Start(sessionID, title string) (*Recorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.settings.Enabled {
		return nil, nil
	}

	if existing, ok := m.recorders[sessionID]; ok {
		existing.Close()
		delete(m.recorders, sessionID)
	}

	rec, err := NewRecorder(Options{
		Dir:       m.settings.Dir,
		SessionID: sessionID,
		Title:     title,
		Width:     m.settings.Width,
		Height:    m.settings.Height,
		Term:      m.settings.Term,
		Compress:  m.settings.Compress,
	}, m.fs, m.clock)
	if err != nil {
		return nil, err
	}

	m.recorders[sessionID] = rec
	slog.Debug("recording started",
		slog.String("session_id", sessionID),
		slog.String("path", rec.Path()),
	)
	return rec, nil
}

// Stop closes and forgets the recorder of sessionID.
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	rec, ok := m.recorders[sessionID]
	delete(m.recorders, sessionID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return rec.Close()
}

// Path returns the transcript path of a session, or "".
func (m *Manager) Path(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.recorders[sessionID]; ok {
		return rec.Path()
	}
	return ""
}

// CloseAll closes all recorders.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rec := range m.recorders {
		if err := rec.Close(); err != nil {
			slog.Warn("close recording",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
		delete(m.recorders, id)
	}
}
