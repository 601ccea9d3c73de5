// Package fakesshdialer provides a fake SSH dialer for testing.
package fakesshdialer

import (
	"context"
	"fmt"
	"sync"

	"github.com/acolita/replsh/internal/ports"
	"golang.org/x/crypto/ssh"
)

// DialFunc is the behavior behind Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// Dialer records dial attempts and delegates to a configurable DialFunc.
type Dialer struct {
	mu    sync.Mutex
	fn    DialFunc
	calls []DialCall
}

// DialCall records a call to DialContext.
type DialCall struct {
	Network string
	Addr    string
	Config  *ssh.ClientConfig
}

// New creates a new fake Dialer that returns an error by default.
func New() *Dialer {
	return &Dialer{
		fn: func(context.Context, string, string, *ssh.ClientConfig) (*ssh.Client, error) {
			return nil, fmt.Errorf("fakesshdialer: not configured")
		},
	}
}

// DialContext records the call and delegates to the configured DialFunc.
func (d *Dialer) DialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Addr: addr, Config: config})
	fn := d.fn
	d.mu.Unlock()
	return fn(ctx, network, addr, config)
}

// Calls returns all recorded dial calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}

// SetDialFunc replaces the dial behavior.
func (d *Dialer) SetDialFunc(fn DialFunc) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
}

// SetError configures the dialer to always return err.
func (d *Dialer) SetError(err error) {
	d.SetDialFunc(func(context.Context, string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, err
	})
}

var _ ports.SSHDialer = (*Dialer)(nil)
