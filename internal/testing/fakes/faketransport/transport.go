// Package faketransport provides a ports.Transport that hands out fake channels.
package faketransport

import (
	"context"
	"sync"

	"github.com/acolita/replsh/internal/ports"
	"github.com/acolita/replsh/internal/testing/fakes/fakechannel"
)

// Transport returns Channel from Open, or Err when set.
type Transport struct {
	mu      sync.Mutex
	Channel *fakechannel.Channel
	Err     error
	Name    string
	opens   int
}

// New returns a transport that opens ch.
func New(ch *fakechannel.Channel) *Transport {
	return &Transport{Channel: ch, Name: "fake@test:22"}
}

// Open implements ports.Transport.
func (t *Transport) Open(ctx context.Context) (ports.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.Err != nil {
		return nil, t.Err
	}
	return t.Channel, nil
}

// Target implements ports.Transport.
func (t *Transport) Target() string {
	return t.Name
}

// Opens returns how many times Open was called.
func (t *Transport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

var _ ports.Transport = (*Transport)(nil)
