// Package config handles configuration parsing for replsh.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acolita/replsh/internal/adapters/realfs"
	"github.com/acolita/replsh/internal/parser"
	"github.com/acolita/replsh/internal/ports"
	"gopkg.in/yaml.v3"
)

// Transport modes.
const (
	ModeSSH   = "ssh"
	ModeLocal = "local"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/replsh/config.yaml or ~/.config/replsh/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "replsh", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Mode          string          `yaml:"mode"`
	DefaultServer string          `yaml:"default_server"`
	Servers       []ServerConfig  `yaml:"servers"`
	Session       SessionConfig   `yaml:"session"`
	Local         LocalConfig     `yaml:"local"`
	Logging       LoggingConfig   `yaml:"logging"`
	Recording     RecordingConfig `yaml:"recording"`
	Security      SecurityConfig  `yaml:"security"`
}

// ServerConfig defines an SSH server connection.
type ServerConfig struct {
	Name       string     `yaml:"name"`
	Host       string     `yaml:"host"`
	Port       int        `yaml:"port"`
	User       string     `yaml:"user"`
	KeyPath    string     `yaml:"key_path"`
	Auth       AuthConfig `yaml:"auth"`
	KnownHosts string     `yaml:"known_hosts"`
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	PasswordEnv   string `yaml:"password_env"`   // env var containing SSH password
	PassphraseEnv string `yaml:"passphrase_env"` // env var containing key passphrase
	UseKeyring    bool   `yaml:"use_keyring"`    // look the password up in the OS keyring
}

// SessionConfig describes the remote program and its delimiters.
type SessionConfig struct {
	LaunchCommand    string        `yaml:"launch_command"`
	ReadyMarker      string        `yaml:"ready_marker"`
	PromptSentinel   string        `yaml:"prompt_sentinel"`
	AbortSentinel    string        `yaml:"abort_sentinel"`
	LineTerminator   string        `yaml:"line_terminator"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	Term             string        `yaml:"term"`
	Rows             int           `yaml:"rows"`
	Cols             int           `yaml:"cols"`
}

// LocalConfig defines the program started in local mode.
type LocalConfig struct {
	Program string   `yaml:"program"`
	Args    []string `yaml:"args"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level        string `yaml:"level"`         // "debug", "info", "warn", "error"
	Format       string `yaml:"format"`        // "json" or "text"
	Sanitize     bool   `yaml:"sanitize"`      // sanitize sensitive data from logs
	RedactOutput bool   `yaml:"redact_output"` // drop command and fragment text from logs
}

// RecordingConfig defines transcript recording settings.
type RecordingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`     // directory to store recordings
	Compress bool   `yaml:"compress"` // write .cast.zst instead of .cast
}

// SecurityConfig defines security settings.
type SecurityConfig struct {
	MaxSessions      int      `yaml:"max_sessions"`
	CommandBlocklist []string `yaml:"command_blocklist"` // regex patterns for blocked commands
	CommandAllowlist []string `yaml:"command_allowlist"` // if set, only these patterns are allowed
	UseKeyring       bool     `yaml:"use_keyring"`

	MaxAuthFailures     int           `yaml:"max_auth_failures"`     // failed logins before lockout
	AuthLockoutDuration time.Duration `yaml:"auth_lockout_duration"` // how long a locked target is refused
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeSSH,
		Session: SessionConfig{
			ReadyMarker:      ">",
			PromptSentinel:   ">",
			AbortSentinel:    "#",
			LineTerminator:   "\n",
			HandshakeTimeout: 10 * time.Second,
			PollInterval:     100 * time.Millisecond,
			Term:             "dumb",
			Rows:             24,
			Cols:             120,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sanitize: true,
		},
		Recording: RecordingConfig{
			Path: filepath.Join(os.TempDir(), "replsh", "recordings"),
		},
		Security: SecurityConfig{
			MaxSessions:         10,
			UseKeyring:          true,
			MaxAuthFailures:     3,
			AuthLockoutDuration: 5 * time.Minute,
		},
	}
}

// Load loads configuration from a YAML file. An empty path or a missing file
// yields the defaults.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var f ports.FileSystem = realfs.New()
	if len(fsys) > 0 && fsys[0] != nil {
		f = fsys[0]
	}

	data, err := f.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate fills zero values with defaults and rejects settings the session
// cannot run with.
func (c *Config) Validate() error {
	def := DefaultConfig()

	switch c.Mode {
	case "":
		c.Mode = def.Mode
	case ModeSSH, ModeLocal:
	default:
		return fmt.Errorf("invalid mode %q (want %q or %q)", c.Mode, ModeSSH, ModeLocal)
	}

	if c.Session.HandshakeTimeout <= 0 {
		c.Session.HandshakeTimeout = def.Session.HandshakeTimeout
	}
	if c.Session.PollInterval <= 0 {
		c.Session.PollInterval = def.Session.PollInterval
	}
	if c.Session.Rows <= 0 {
		c.Session.Rows = def.Session.Rows
	}
	if c.Session.Cols <= 0 {
		c.Session.Cols = def.Session.Cols
	}
	if c.Session.Term == "" {
		c.Session.Term = def.Session.Term
	}
	if _, err := c.Session.Sentinels(); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if c.Security.MaxSessions <= 0 {
		c.Security.MaxSessions = def.Security.MaxSessions
	}
	if c.Security.MaxAuthFailures <= 0 {
		c.Security.MaxAuthFailures = def.Security.MaxAuthFailures
	}
	if c.Security.AuthLockoutDuration <= 0 {
		c.Security.AuthLockoutDuration = def.Security.AuthLockoutDuration
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Servers))
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.Name == "" {
			return fmt.Errorf("server %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("server %q defined twice", s.Name)
		}
		seen[s.Name] = true
		if s.Host == "" {
			return fmt.Errorf("server %q: host is required", s.Name)
		}
		if s.Port == 0 {
			s.Port = 22
		}
	}
	if c.DefaultServer != "" && !seen[c.DefaultServer] {
		return fmt.Errorf("default_server %q is not defined", c.DefaultServer)
	}

	if c.Mode == ModeLocal && c.Local.Program == "" {
		return errors.New("local mode requires local.program")
	}

	return nil
}

// Sentinels converts the string settings into a validated parser.Sentinels.
func (s SessionConfig) Sentinels() (parser.Sentinels, error) {
	var out parser.Sentinels
	var err error
	if out.Prompt, err = parser.ParseRune("prompt_sentinel", s.PromptSentinel); err != nil {
		return out, err
	}
	if out.Abort, err = parser.ParseRune("abort_sentinel", s.AbortSentinel); err != nil {
		return out, err
	}
	if out.LineTerminator, err = parser.ParseRune("line_terminator", s.LineTerminator); err != nil {
		return out, err
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// ServerByName returns the named server, or the default server when name is
// empty.
func (c *Config) ServerByName(name string) (ServerConfig, error) {
	if name == "" {
		name = c.DefaultServer
	}
	if name == "" {
		return ServerConfig{}, errors.New("no server given and no default_server configured")
	}
	for _, s := range c.Servers {
		if s.Name == name {
			return s, nil
		}
	}
	return ServerConfig{}, fmt.Errorf("server %q not found in config", name)
}

// ExpandHome replaces a leading ~/ in path with the user's home directory.
func ExpandHome(path string, fsys ports.FileSystem) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := fsys.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
