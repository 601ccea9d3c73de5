// Package fakechannel provides an in-memory ports.Channel for testing.
package fakechannel

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/acolita/replsh/internal/ports"
)

// Channel is a scriptable duplex stream. Data queued with Send is returned by
// Read one chunk at a time; Read blocks while nothing is queued.
type Channel struct {
	mu         sync.Mutex
	queue      chan []byte
	partial    []byte
	written    bytes.Buffer
	line       strings.Builder
	onLine     func(line string) []string
	writeErr   error
	endErr     error
	closeCount int
	interrupts int
	sizes      [][2]uint16

	remoteDone chan struct{}
	remoteOnce sync.Once
	closed     chan struct{}
	closeOnce  sync.Once
}

// New creates an open fake channel.
func New() *Channel {
	return &Channel{
		queue:      make(chan []byte, 1024),
		remoteDone: make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

// Send queues chunks for Read, in order.
func (c *Channel) Send(chunks ...string) *Channel {
	for _, s := range chunks {
		c.queue <- []byte(s)
	}
	return c
}

// SendBytes queues a raw chunk, which may contain invalid UTF-8.
func (c *Channel) SendBytes(b []byte) *Channel {
	cp := make([]byte, len(b))
	copy(cp, b)
	c.queue <- cp
	return c
}

// OnLine installs a responder called for every complete line written to the
// channel (without its terminator). Returned chunks are queued for Read.
func (c *Channel) OnLine(fn func(line string) []string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLine = fn
	return c
}

// CloseRemote ends the stream: Read returns queued data, then io.EOF.
func (c *Channel) CloseRemote() {
	c.FailReads(io.EOF)
}

// FailReads makes Read return err once queued data is consumed.
func (c *Channel) FailReads(err error) {
	c.mu.Lock()
	if c.endErr == nil {
		c.endErr = err
	}
	c.mu.Unlock()
	c.remoteOnce.Do(func() { close(c.remoteDone) })
}

// FailWrites makes every subsequent Write return err.
func (c *Channel) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Read implements io.Reader.
func (c *Channel) Read(b []byte) (int, error) {
	c.mu.Lock()
	if len(c.partial) > 0 {
		n := copy(b, c.partial)
		c.partial = c.partial[n:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	select {
	case chunk := <-c.queue:
		return c.deliver(b, chunk), nil
	default:
	}

	select {
	case chunk := <-c.queue:
		return c.deliver(b, chunk), nil
	case <-c.remoteDone:
		select {
		case chunk := <-c.queue:
			return c.deliver(b, chunk), nil
		default:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return 0, c.endErr
	case <-c.closed:
		return 0, io.EOF
	}
}

func (c *Channel) deliver(b, chunk []byte) int {
	n := copy(b, chunk)
	if n < len(chunk) {
		c.mu.Lock()
		c.partial = append(c.partial, chunk[n:]...)
		c.mu.Unlock()
	}
	return n
}

// Write implements io.Writer and feeds the OnLine responder.
func (c *Channel) Write(b []byte) (int, error) {
	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return 0, err
	}
	select {
	case <-c.closed:
		c.mu.Unlock()
		return 0, io.ErrClosedPipe
	default:
	}

	c.written.Write(b)
	var lines []string
	for _, r := range string(b) {
		if r == '\n' {
			lines = append(lines, c.line.String())
			c.line.Reset()
			continue
		}
		c.line.WriteRune(r)
	}
	fn := c.onLine
	c.mu.Unlock()

	if fn != nil {
		for _, l := range lines {
			c.Send(fn(l)...)
		}
	}
	return len(b), nil
}

// Interrupt records a Ctrl+C.
func (c *Channel) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts++
	c.written.WriteByte(0x03)
	return nil
}

// Resize records the window size.
func (c *Channel) Resize(rows, cols uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sizes = append(c.sizes, [2]uint16{rows, cols})
	return nil
}

// Close closes the local end. Every call is counted.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// --- Test inspection methods ---

// Written returns everything written so far.
func (c *Channel) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.String()
}

// CloseCount returns how many times Close was called.
func (c *Channel) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// Interrupts returns how many times Interrupt was called.
func (c *Channel) Interrupts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupts
}

// Sizes returns every size passed to Resize, as [rows, cols].
func (c *Channel) Sizes() [][2]uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][2]uint16(nil), c.sizes...)
}

// IsClosed reports whether Close was called.
func (c *Channel) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

var (
	_ ports.Channel = (*Channel)(nil)
	_ ports.Resizer = (*Channel)(nil)
)
