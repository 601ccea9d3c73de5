// Package realclock provides the wall-clock implementation of ports.Clock.
package realclock

import (
	"time"

	"github.com/acolita/replsh/internal/ports"
)

// Clock implements ports.Clock using the time package.
type Clock struct{}

// New returns a real Clock.
func New() Clock {
	return Clock{}
}

func (Clock) Now() time.Time { return time.Now() }

func (Clock) Sleep(d time.Duration) { time.Sleep(d) }

// After returns a channel that receives the current time after d.
func (Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTicker returns a Ticker backed by time.Ticker.
func (Clock) NewTicker(d time.Duration) ports.Ticker {
	return ticker{t: time.NewTicker(d)}
}

type ticker struct {
	t *time.Ticker
}

func (t ticker) C() <-chan time.Time { return t.t.C }

func (t ticker) Stop() { t.t.Stop() }

var _ ports.Clock = Clock{}
