package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/acolita/replsh/internal/adapters/realfs"
	"github.com/acolita/replsh/internal/config"
	"github.com/acolita/replsh/internal/ports"
	"github.com/acolita/replsh/internal/pty"
	"github.com/acolita/replsh/internal/security"
	"github.com/acolita/replsh/internal/ssh"
)

// TransportFactory builds the transport for a new session.
type TransportFactory interface {
	NewTransport(cfg *config.Config, opts CreateOptions) (ports.Transport, error)
}

// Factory builds SSH and local PTY transports from config.
type Factory struct {
	FS       ports.FileSystem       // defaults to the real filesystem
	Secrets  ports.SecretStore      // keyring; nil disables keyring lookups
	Prompter ports.PasswordPrompter // interactive fallback; nil disables prompting
	Dialer   ports.SSHDialer        // nil uses the real dialer
	Clock    ports.Clock            // nil uses the real clock
}

// NewTransport resolves opts against cfg. In SSH mode a named server is
// looked up in cfg; explicit host, port, user and key settings override it.
func (f *Factory) NewTransport(cfg *config.Config, opts CreateOptions) (ports.Transport, error) {
	mode := opts.Mode
	if mode == "" {
		mode = cfg.Mode
	}

	switch mode {
	case config.ModeLocal:
		return pty.NewTransport(pty.Options{
			Program: cfg.Local.Program,
			Args:    cfg.Local.Args,
			Term:    cfg.Session.Term,
			Rows:    uint16(cfg.Session.Rows),
			Cols:    uint16(cfg.Session.Cols),
		}), nil
	case config.ModeSSH:
		return f.sshTransport(cfg, opts)
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func (f *Factory) fs() ports.FileSystem {
	if f.FS == nil {
		return realfs.New()
	}
	return f.FS
}

func (f *Factory) sshTransport(cfg *config.Config, opts CreateOptions) (ports.Transport, error) {
	srv, err := resolveServer(cfg, opts)
	if err != nil {
		return nil, err
	}

	password, err := f.password(cfg, srv, opts)
	if err != nil {
		return nil, err
	}

	return ssh.NewTransport(ssh.TransportOptions{
		Host: srv.Host,
		Port: srv.Port,
		User: srv.User,
		Auth: ssh.AuthConfig{
			KeyPath:       srv.KeyPath,
			KeyPassphrase: f.passphrase(cfg, srv),
			UseAgent:      true,
			Password:      password,
			FS:            f.FS,
		},
		KnownHostsPath: srv.KnownHosts,
		Shell: ssh.ShellOptions{
			Term: cfg.Session.Term,
			Rows: cfg.Session.Rows,
			Cols: cfg.Session.Cols,
		},
		Dialer: f.Dialer,
		Clock:  f.Clock,
	}), nil
}

// resolveServer merges the named (or default) server with explicit options.
func resolveServer(cfg *config.Config, opts CreateOptions) (config.ServerConfig, error) {
	var srv config.ServerConfig
	if opts.Server != "" || opts.Host == "" {
		s, err := cfg.ServerByName(opts.Server)
		if err != nil {
			return srv, err
		}
		srv = s
	}

	if opts.Host != "" {
		srv.Host = opts.Host
		if opts.Server == "" {
			srv.Name = ""
		}
	}
	if opts.Port != 0 {
		srv.Port = opts.Port
	}
	if opts.User != "" {
		srv.User = opts.User
	}
	if opts.KeyPath != "" {
		srv.KeyPath = opts.KeyPath
	}
	if srv.Port == 0 {
		srv.Port = 22
	}

	if srv.Host == "" {
		return srv, errors.New("host is required")
	}
	if srv.User == "" {
		return srv, errors.New("user is required")
	}
	return srv, nil
}

// password resolves the SSH password: explicit option, then the configured
// environment variable, then the keyring, then the prompter. An empty result
// leaves key and agent authentication.
func (f *Factory) password(cfg *config.Config, srv config.ServerConfig, opts CreateOptions) (string, error) {
	if opts.Password != "" {
		return opts.Password, nil
	}

	if srv.Auth.PasswordEnv != "" {
		if v := f.fs().Getenv(srv.Auth.PasswordEnv); v != "" {
			return v, nil
		}
	}

	if f.Secrets != nil && (cfg.Security.UseKeyring || srv.Auth.UseKeyring) {
		secret, err := f.Secrets.Get(security.ServerPasswordKey(srv.User, srv.Host, srv.Port))
		if err != nil {
			slog.Warn("keyring lookup failed", slog.String("error", err.Error()))
		} else if secret != nil {
			sb := security.NewSecureBytes(secret)
			security.WipeBytes(secret)
			defer sb.Wipe()
			return sb.String(), nil
		}
	}

	if f.Prompter != nil && srv.KeyPath == "" && f.fs().Getenv("SSH_AUTH_SOCK") == "" {
		pw, err := f.Prompter.PromptPassword(fmt.Sprintf("Password for %s@%s", srv.User, srv.Host))
		if err != nil {
			return "", fmt.Errorf("prompt password: %w", err)
		}
		return pw, nil
	}
	return "", nil
}

// passphrase resolves a key passphrase from the environment or the keyring.
func (f *Factory) passphrase(cfg *config.Config, srv config.ServerConfig) string {
	if srv.KeyPath == "" {
		return ""
	}
	if srv.Auth.PassphraseEnv != "" {
		if v := f.fs().Getenv(srv.Auth.PassphraseEnv); v != "" {
			return v
		}
	}
	if f.Secrets != nil && (cfg.Security.UseKeyring || srv.Auth.UseKeyring) {
		secret, err := f.Secrets.Get(security.PassphraseKey(srv.KeyPath))
		if err == nil && secret != nil {
			sb := security.NewSecureBytes(secret)
			security.WipeBytes(secret)
			defer sb.Wipe()
			return sb.String()
		}
	}
	return ""
}

// OptionsFromConfig converts the session section of cfg into controller
// options.
func OptionsFromConfig(sc config.SessionConfig) (Options, error) {
	sentinels, err := sc.Sentinels()
	if err != nil {
		return Options{}, err
	}
	return Options{
		LaunchCommand:    sc.LaunchCommand,
		ReadyMarker:      sc.ReadyMarker,
		Sentinels:        sentinels,
		HandshakeTimeout: sc.HandshakeTimeout,
		PollInterval:     sc.PollInterval,
	}, nil
}
