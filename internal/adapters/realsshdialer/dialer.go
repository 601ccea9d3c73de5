// Package realsshdialer provides a real implementation of the SSHDialer port.
package realsshdialer

import (
	"context"
	"fmt"
	"net"

	"github.com/acolita/replsh/internal/ports"
	"golang.org/x/crypto/ssh"
)

// Dialer implements ports.SSHDialer over a net.Dialer.
type Dialer struct {
	net net.Dialer
}

// New creates a new Dialer.
func New() *Dialer {
	return &Dialer{}
}

// DialContext dials addr with ctx, then runs the SSH handshake on the
// connection. The handshake itself is bounded by config.Timeout.
func (d *Dialer) DialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	nd := d.net
	if config.Timeout > 0 {
		nd.Timeout = config.Timeout
	}
	conn, err := nd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

var _ ports.SSHDialer = (*Dialer)(nil)
