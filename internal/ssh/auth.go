package ssh

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"strings"

	"github.com/acolita/replsh/internal/adapters/realfs"
	"github.com/acolita/replsh/internal/ports"
	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	KeyPath       string // Path to private key file
	KeyPassphrase string // Passphrase for encrypted keys
	UseAgent      bool   // Use SSH agent for authentication
	Password      string // Password for password and keyboard-interactive auth
	Host          string // Target host for ~/.ssh/config lookup

	FS ports.FileSystem // defaults to the real filesystem
}

var defaultKeys = []string{
	"~/.ssh/id_ed25519",
	"~/.ssh/id_rsa",
	"~/.ssh/id_ecdsa",
}

// BuildAuthMethods constructs SSH auth methods from config. Methods are
// offered in order: agent, explicit key, IdentityFile from ~/.ssh/config,
// a default key, then password and keyboard-interactive.
func BuildAuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, error) {
	fsys := cfg.FS
	if fsys == nil {
		fsys = realfs.New()
	}

	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		if agentAuth, err := sshAgentAuth(fsys); err == nil {
			methods = append(methods, agentAuth)
		} else {
			slog.Debug("ssh agent unavailable", slog.String("error", err.Error()))
		}
	}

	if cfg.KeyPath != "" {
		keyAuth, err := privateKeyAuth(fsys, cfg.KeyPath, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("private key auth: %w", err)
		}
		methods = append(methods, keyAuth)
	}

	if cfg.KeyPath == "" && cfg.Host != "" {
		if configKey := sshConfigIdentityFile(fsys, cfg.Host); configKey != "" {
			if keyAuth, err := privateKeyAuth(fsys, configKey, cfg.KeyPassphrase); err == nil {
				methods = append(methods, keyAuth)
			}
		}
	}

	if cfg.KeyPath == "" && cfg.Password == "" && len(methods) == 0 {
		for _, keyPath := range defaultKeys {
			expanded := expandPath(fsys, keyPath)
			if _, err := fsys.Stat(expanded); err != nil {
				continue
			}
			if keyAuth, err := privateKeyAuth(fsys, expanded, cfg.KeyPassphrase); err == nil {
				methods = append(methods, keyAuth)
				break
			}
		}
	}

	if cfg.Password != "" {
		methods = append(methods, PasswordAuth(cfg.Password))
		methods = append(methods, KeyboardInteractiveAuth(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, errors.New("no authentication methods available")
	}
	return methods, nil
}

func sshAgentAuth(fsys ports.FileSystem) (ssh.AuthMethod, error) {
	socket := fsys.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}

	agentClient := agent.NewClient(conn)
	return ssh.PublicKeysCallback(agentClient.Signers), nil
}

func privateKeyAuth(fsys ports.FileSystem, keyPath, passphrase string) (ssh.AuthMethod, error) {
	keyData, err := fsys.ReadFile(expandPath(fsys, keyPath))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// BuildHostKeyCallback verifies host keys against known_hosts. When the file
// does not exist every host key is accepted and a warning is logged.
func BuildHostKeyCallback(knownHostsPath string, fsys ports.FileSystem) (ssh.HostKeyCallback, error) {
	if fsys == nil {
		fsys = realfs.New()
	}
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}
	expanded := expandPath(fsys, knownHostsPath)

	if _, err := fsys.Stat(expanded); errors.Is(err, fs.ErrNotExist) {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			slog.Warn("known_hosts missing, accepting host key",
				slog.String("host", hostname),
				slog.String("fingerprint", ssh.FingerprintSHA256(key)),
			)
			return nil
		}, nil
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// InsecureHostKeyCallback returns a callback that accepts any host key.
// Use only for testing or when host key verification is explicitly disabled.
func InsecureHostKeyCallback() ssh.HostKeyCallback {
	return ssh.InsecureIgnoreHostKey()
}

func expandPath(fsys ports.FileSystem, path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := fsys.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

// sshConfigIdentityFile returns the first IdentityFile that applies to host
// in ~/.ssh/config.
func sshConfigIdentityFile(fsys ports.FileSystem, host string) string {
	data, err := fsys.ReadFile(expandPath(fsys, "~/.ssh/config"))
	if err != nil {
		return ""
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	matches := true // directives before the first Host apply to all hosts

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}

		switch key {
		case "host":
			matches = matchHostPatterns(host, value)
		case "identityfile":
			if matches {
				return expandPath(fsys, strings.Trim(value, `"`))
			}
		}
	}
	return ""
}

// splitDirective splits "Key value" and "Key=value" lines.
func splitDirective(line string) (string, string, bool) {
	i := strings.IndexAny(line, " \t=")
	if i < 0 {
		return "", "", false
	}
	key := strings.ToLower(line[:i])
	value := strings.TrimLeft(line[i:], " \t=")
	if value == "" {
		return "", "", false
	}
	return key, value, true
}

// matchHostPatterns applies an ssh_config Host line to host. Patterns are
// glob expressions; a pattern prefixed with ! excludes the host even if
// another pattern matches.
func matchHostPatterns(host, patterns string) bool {
	matched := false
	for _, p := range strings.Fields(patterns) {
		negate := strings.HasPrefix(p, "!")
		p = strings.TrimPrefix(p, "!")

		ok, err := doublestar.Match(strings.ToLower(p), strings.ToLower(host))
		if err != nil || !ok {
			continue
		}
		if negate {
			return false
		}
		matched = true
	}
	return matched
}

// PasswordAuth returns a password auth method.
func PasswordAuth(password string) ssh.AuthMethod {
	return ssh.Password(password)
}

// KeyboardInteractiveAuth answers every keyboard-interactive question with
// password.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}
