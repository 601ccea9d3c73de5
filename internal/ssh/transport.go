package ssh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/acolita/replsh/internal/ports"
)

// TransportOptions describes one remote endpoint.
type TransportOptions struct {
	Host           string
	Port           int
	User           string
	Auth           AuthConfig
	KnownHostsPath string
	Shell          ShellOptions

	Timeout           time.Duration
	KeepaliveInterval time.Duration
	Dialer            ports.SSHDialer
	Clock             ports.Clock
}

// Transport opens shells on a remote host. It implements ports.Transport.
type Transport struct {
	opts TransportOptions
}

// NewTransport returns a transport for opts. Nothing is dialed until Open.
func NewTransport(opts TransportOptions) *Transport {
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Auth.Host == "" {
		opts.Auth.Host = opts.Host
	}
	return &Transport{opts: opts}
}

// Target returns user@host:port.
func (t *Transport) Target() string {
	return fmt.Sprintf("%s@%s:%d", t.opts.User, t.opts.Host, t.opts.Port)
}

// Open dials, authenticates and starts a login shell.
func (t *Transport) Open(ctx context.Context) (ports.Channel, error) {
	methods, err := BuildAuthMethods(t.opts.Auth)
	if err != nil {
		return nil, err
	}
	hostKeys, err := BuildHostKeyCallback(t.opts.KnownHostsPath, t.opts.Auth.FS)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(ClientOptions{
		Host:              t.opts.Host,
		Port:              t.opts.Port,
		User:              t.opts.User,
		AuthMethods:       methods,
		HostKeyCallback:   hostKeys,
		Timeout:           t.opts.Timeout,
		KeepaliveInterval: t.opts.KeepaliveInterval,
		Clock:             t.opts.Clock,
		Dialer:            t.opts.Dialer,
	})
	if err != nil {
		return nil, err
	}

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	shell, err := OpenShell(client, t.opts.Shell)
	if err != nil {
		client.Close()
		return nil, err
	}
	return shell, nil
}

// IsAuthError reports whether err came from the server rejecting every
// offered credential.
func IsAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

var _ ports.Transport = (*Transport)(nil)
