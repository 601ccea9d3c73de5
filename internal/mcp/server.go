// Package mcp exposes replsh sessions as MCP tools.
package mcp

import (
	"context"
	"log/slog"

	"github.com/acolita/replsh/internal/adapters/realclock"
	"github.com/acolita/replsh/internal/adapters/realfs"
	"github.com/acolita/replsh/internal/config"
	"github.com/acolita/replsh/internal/logging"
	"github.com/acolita/replsh/internal/ports"
	"github.com/acolita/replsh/internal/recording"
	"github.com/acolita/replsh/internal/security"
	"github.com/acolita/replsh/internal/session"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients and by the version command.
var Version = "0.3.0"

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer        *server.MCPServer
	sessionManager   *session.Manager
	commandFilter    *security.CommandFilter
	recordingManager *recording.Manager
	fs               ports.FileSystem
	clock            ports.Clock
	factory          session.TransportFactory
	store            *session.SessionStore
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithFileSystem sets the filesystem used for recordings and the session
// store.
func WithFileSystem(fs ports.FileSystem) ServerOption {
	return func(s *Server) {
		s.fs = fs
	}
}

// WithClock sets the clock used by sessions, recordings and the rate limiter.
func WithClock(c ports.Clock) ServerOption {
	return func(s *Server) {
		s.clock = c
	}
}

// WithTransportFactory replaces the SSH/PTY transport factory.
func WithTransportFactory(f session.TransportFactory) ServerOption {
	return func(s *Server) {
		s.factory = f
	}
}

// WithSessionStore persists sessions so Run can restore them.
func WithSessionStore(store *session.SessionStore) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	s := &Server{
		fs:    realfs.New(),
		clock: realclock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = server.NewMCPServer(
		"replsh",
		Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	commandFilter, err := security.NewCommandFilter(
		cfg.Security.CommandBlocklist,
		cfg.Security.CommandAllowlist,
	)
	if err != nil {
		slog.Warn("failed to initialize command filter, using permissive mode",
			slog.String("error", err.Error()),
		)
		commandFilter, _ = security.NewCommandFilter(nil, nil)
	}
	s.commandFilter = commandFilter

	s.recordingManager = recording.NewManager(recording.SettingsFromConfig(cfg), s.fs, s.clock)

	mgrOpts := []session.ManagerOption{
		session.WithSessionFilter(commandFilter),
		session.WithRecordings(s.recordingManager),
		session.WithRateLimiter(security.NewAuthRateLimiter(
			cfg.Security.MaxAuthFailures,
			cfg.Security.AuthLockoutDuration,
			s.clock,
		)),
		session.WithManagerClock(s.clock),
	}
	if s.factory == nil {
		s.factory = &session.Factory{
			FS:      s.fs,
			Secrets: security.NewKeyringStore(),
			Clock:   s.clock,
		}
	}
	mgrOpts = append(mgrOpts, session.WithTransportFactory(s.factory))
	if s.store != nil {
		mgrOpts = append(mgrOpts, session.WithStore(s.store))
	}
	s.sessionManager = session.NewManager(cfg, mgrOpts...)

	s.registerTools()

	return s
}

// Run restores persisted sessions and serves MCP on stdio until the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	if restored := s.sessionManager.Restore(ctx); len(restored) > 0 {
		slog.Info("restored sessions", slog.Int("count", len(restored)))
	}

	slog.Info("starting MCP server on stdio transport")
	defer s.Shutdown()
	return server.ServeStdio(s.mcpServer)
}

// Shutdown closes every session and recording.
func (s *Server) Shutdown() {
	s.sessionManager.CloseAll()
	s.recordingManager.CloseAll()
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessionManager
}

// UpdateConfig applies a new configuration at runtime. The log level, the
// command filter, the recording settings and the settings of new sessions
// are reloaded; open sessions keep their connection.
func (s *Server) UpdateConfig(cfg *config.Config) {
	slog.Debug("applying config update")

	logging.SetLevel(cfg.Logging.Level)

	if err := s.commandFilter.Update(cfg.Security.CommandBlocklist, cfg.Security.CommandAllowlist); err != nil {
		slog.Warn("failed to update command filter, keeping previous",
			slog.String("error", err.Error()),
		)
	}

	s.recordingManager.Update(recording.SettingsFromConfig(cfg))
	s.sessionManager.UpdateConfig(cfg)

	slog.Info("configuration hot-reloaded successfully")
}
