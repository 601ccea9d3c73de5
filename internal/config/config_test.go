package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acolita/replsh/internal/parser"
	"github.com/acolita/replsh/internal/testing/fakes/fakefs"
)

const localConfig = "mode: local\nlocal:\n  program: /bin/cat\n"

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Mode != ModeSSH {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeSSH)
	}
	if cfg.Session.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want %v", cfg.Session.HandshakeTimeout, 10*time.Second)
	}
	if cfg.Session.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want %v", cfg.Session.PollInterval, 100*time.Millisecond)
	}
	if cfg.Session.ReadyMarker != ">" {
		t.Errorf("ReadyMarker = %q, want %q", cfg.Session.ReadyMarker, ">")
	}
	if cfg.Security.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d, want %d", cfg.Security.MaxSessions, 10)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if !cfg.Logging.Sanitize {
		t.Error("Logging.Sanitize = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error: %v", err)
	}
}

func TestDefaultSessionSentinels(t *testing.T) {
	s, err := DefaultConfig().Session.Sentinels()
	if err != nil {
		t.Fatalf("Sentinels() error: %v", err)
	}
	if s != parser.DefaultSentinels() {
		t.Errorf("Sentinels() = %+v, want %+v", s, parser.DefaultSentinels())
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultConfigPath(); got != "/xdg/replsh/config.yaml" {
		t.Errorf("DefaultConfigPath() = %q, want %q", got, "/xdg/replsh/config.yaml")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Mode != ModeSSH {
		t.Errorf("Mode = %q, want %q (default)", cfg.Mode, ModeSSH)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load(nonexistent) error: %v", err)
	}
	if cfg.Security.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d, want default 10", cfg.Security.MaxSessions)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "bad.yaml")
	writeConfigFile(t, path, ":::invalid:::yaml{{{")

	if _, err := Load(path); err == nil {
		t.Fatal("Load(invalid YAML) expected error, got nil")
	}
}

func TestLoadValidConfig(t *testing.T) {
	yaml := `
mode: ssh
default_server: gpu
servers:
  - name: gpu
    host: 10.0.0.9
    port: 2222
    user: alice
    key_path: ~/.ssh/id_ed25519
    auth:
      password_env: REPLSH_PASSWORD
      use_keyring: true
    known_hosts: ~/.ssh/known_hosts
  - name: lab
    host: lab.internal
    user: bob
session:
  launch_command: "cd /srv/llm && ./llama -m model.bin"
  ready_marker: "$"
  prompt_sentinel: "$"
  abort_sentinel: "!"
  handshake_timeout: 30s
  poll_interval: 50ms
local:
  program: /usr/bin/python3
  args: ["-i"]
logging:
  level: debug
  format: text
  redact_output: true
recording:
  enabled: true
  path: /var/log/replsh
  compress: true
security:
  max_sessions: 3
  command_blocklist:
    - "^rm "
`
	fsys := fakefs.New()
	fsys.AddFile("/etc/replsh.yaml", []byte(yaml), 0644)

	cfg, err := Load("/etc/replsh.yaml", fsys)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	if len(cfg.Servers) != 2 {
		t.Fatalf("len(Servers) = %d, want 2", len(cfg.Servers))
	}
	gpu := cfg.Servers[0]
	if gpu.Port != 2222 || gpu.User != "alice" || gpu.Auth.PasswordEnv != "REPLSH_PASSWORD" || !gpu.Auth.UseKeyring {
		t.Errorf("Servers[0] = %+v", gpu)
	}
	if cfg.Servers[1].Port != 22 {
		t.Errorf("Servers[1].Port = %d, want default 22", cfg.Servers[1].Port)
	}

	if cfg.Session.LaunchCommand != "cd /srv/llm && ./llama -m model.bin" {
		t.Errorf("LaunchCommand = %q", cfg.Session.LaunchCommand)
	}
	if cfg.Session.HandshakeTimeout != 30*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 30s", cfg.Session.HandshakeTimeout)
	}
	if cfg.Session.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval = %v, want 50ms", cfg.Session.PollInterval)
	}
	if cfg.Session.LineTerminator != "\n" {
		t.Errorf("LineTerminator = %q, want default newline", cfg.Session.LineTerminator)
	}
	s, err := cfg.Session.Sentinels()
	if err != nil {
		t.Fatalf("Sentinels() error: %v", err)
	}
	if s.Prompt != '$' || s.Abort != '!' {
		t.Errorf("Sentinels() = %+v, want prompt '$' abort '!'", s)
	}

	if cfg.Local.Program != "/usr/bin/python3" || len(cfg.Local.Args) != 1 {
		t.Errorf("Local = %+v", cfg.Local)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" || !cfg.Logging.RedactOutput {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Logging.Sanitize {
		t.Error("Logging.Sanitize should keep its default when omitted")
	}
	if !cfg.Recording.Enabled || !cfg.Recording.Compress || cfg.Recording.Path != "/var/log/replsh" {
		t.Errorf("Recording = %+v", cfg.Recording)
	}
	if cfg.Security.MaxSessions != 3 || len(cfg.Security.CommandBlocklist) != 1 {
		t.Errorf("Security = %+v", cfg.Security)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Mode = "telnet" }, "invalid mode"},
		{"empty mode", func(c *Config) { c.Mode = "" }, ""},
		{"same sentinels", func(c *Config) { c.Session.AbortSentinel = ">" }, "must differ"},
		{"long sentinel", func(c *Config) { c.Session.PromptSentinel = ">>" }, "exactly one character"},
		{"empty terminator", func(c *Config) { c.Session.LineTerminator = "" }, "line_terminator"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"server without name", func(c *Config) { c.Servers = []ServerConfig{{Host: "h"}} }, "name is required"},
		{"server without host", func(c *Config) { c.Servers = []ServerConfig{{Name: "a"}} }, "host is required"},
		{"duplicate server", func(c *Config) {
			c.Servers = []ServerConfig{{Name: "a", Host: "h"}, {Name: "a", Host: "h"}}
		}, "defined twice"},
		{"unknown default", func(c *Config) { c.DefaultServer = "nope" }, "not defined"},
		{"local without program", func(c *Config) { c.Mode = ModeLocal }, "local.program"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFillsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.HandshakeTimeout = 0
	cfg.Session.PollInterval = -1
	cfg.Security.MaxSessions = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Session.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 10s", cfg.Session.HandshakeTimeout)
	}
	if cfg.Session.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", cfg.Session.PollInterval)
	}
	if cfg.Security.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d, want 10", cfg.Security.MaxSessions)
	}
}

func TestServerByName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []ServerConfig{{Name: "a", Host: "ha"}, {Name: "b", Host: "hb"}}
	cfg.DefaultServer = "b"

	s, err := cfg.ServerByName("a")
	if err != nil || s.Host != "ha" {
		t.Errorf("ServerByName(a) = %+v, %v", s, err)
	}
	s, err = cfg.ServerByName("")
	if err != nil || s.Host != "hb" {
		t.Errorf("ServerByName(\"\") = %+v, %v, want default server b", s, err)
	}
	if _, err := cfg.ServerByName("c"); err == nil {
		t.Error("ServerByName(c) expected error")
	}

	cfg.DefaultServer = ""
	if _, err := cfg.ServerByName(""); err == nil {
		t.Error("ServerByName(\"\") without default expected error")
	}
}

func TestExpandHome(t *testing.T) {
	fsys := fakefs.New()
	fsys.SetHomeDir("/home/alice")

	if got := ExpandHome("~/.ssh/id_ed25519", fsys); got != "/home/alice/.ssh/id_ed25519" {
		t.Errorf("ExpandHome() = %q", got)
	}
	if got := ExpandHome("/etc/key", fsys); got != "/etc/key" {
		t.Errorf("ExpandHome(absolute) = %q", got)
	}
}

func TestNewWatcher(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	writeConfigFile(t, path, localConfig)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	if cfg := w.Config(); cfg.Mode != ModeLocal {
		t.Errorf("Config().Mode = %q, want %q", cfg.Mode, ModeLocal)
	}
}

func TestNewWatcherInvalidConfig(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	writeConfigFile(t, path, "mode: telnet\n")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("NewWatcher(invalid) expected error, got nil")
	}
}

func TestNewWatcherMissingDir(t *testing.T) {
	if _, err := NewWatcher("/nonexistent/dir/config.yaml", nil); err == nil {
		t.Fatal("NewWatcher(missing dir) expected error, got nil")
	}
}

func TestWatcherReloadsOnFileChange(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	writeConfigFile(t, path, localConfig)

	var mu sync.Mutex
	var changed *Config

	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		changed = cfg
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	writeConfigFile(t, path, "mode: ssh\nlogging:\n  level: debug\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		c := changed
		mu.Unlock()
		if c != nil && c.Mode == ModeSSH {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	cfg := w.Config()
	if cfg.Mode != ModeSSH {
		t.Errorf("Config().Mode = %q after reload, want %q", cfg.Mode, ModeSSH)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Config().Logging.Level = %q after reload, want debug", cfg.Logging.Level)
	}

	mu.Lock()
	if changed == nil {
		t.Error("onChange callback was never called")
	}
	mu.Unlock()
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid yaml", ":::invalid{{{"},
		{"invalid mode", "mode: telnet\n"},
		{"invalid sentinel", localConfig + "session:\n  abort_sentinel: \">\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmp := t.TempDir()
			path := filepath.Join(tmp, "config.yaml")
			writeConfigFile(t, path, localConfig)

			var mu sync.Mutex
			calls := 0
			w, err := NewWatcher(path, func(*Config) {
				mu.Lock()
				calls++
				mu.Unlock()
			})
			if err != nil {
				t.Fatalf("NewWatcher() error: %v", err)
			}
			defer w.Close()

			writeConfigFile(t, path, tt.content)
			time.Sleep(500 * time.Millisecond)

			if cfg := w.Config(); cfg.Mode != ModeLocal {
				t.Errorf("Config().Mode = %q, want %q (preserved after bad reload)", cfg.Mode, ModeLocal)
			}
			mu.Lock()
			if calls > 0 {
				t.Errorf("onChange was called %d times, want 0", calls)
			}
			mu.Unlock()
		})
	}
}

func TestWatcherClose(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	writeConfigFile(t, path, localConfig)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
