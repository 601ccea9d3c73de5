// Package demux converts a blocking byte stream into a polling contract.
//
// A single pump goroutine reads the stream into a bounded queue of chunks.
// The consumer calls Poll, which waits for the next chunk for at most one poll
// interval and returns decoded text, or nothing if the stream is idle.
// Decoding is permissive: malformed UTF-8 becomes U+FFFD, and a character
// split across two reads is carried over rather than replaced.
package demux

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/acolita/replsh/internal/adapters/realclock"
	"github.com/acolita/replsh/internal/ports"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	// DefaultPollInterval bounds how long one Poll waits for data.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultChunkSize is the size of a single read from the stream.
	DefaultChunkSize = 1024

	queueDepth = 64
)

// Demux is the output side of a session channel. Poll and Drain must be called
// from one goroutine at a time. Close may be called from any goroutine.
type Demux struct {
	chunks chan []byte
	stop   chan struct{}
	once   sync.Once

	// readErr is written by the pump before chunks is closed.
	readErr error
	eof     bool

	decoder  transform.Transformer
	carry    []byte
	advanced atomic.Bool

	pollInterval time.Duration
	chunkSize    int
	clock        ports.Clock
}

// Option configures a Demux.
type Option func(*Demux)

// WithPollInterval sets the maximum wait of a single Poll.
func WithPollInterval(d time.Duration) Option {
	return func(m *Demux) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithChunkSize sets the read buffer size of the pump.
func WithChunkSize(n int) Option {
	return func(m *Demux) {
		if n > 0 {
			m.chunkSize = n
		}
	}
}

// WithClock sets the clock used for the poll timer.
func WithClock(c ports.Clock) Option {
	return func(m *Demux) {
		if c != nil {
			m.clock = c
		}
	}
}

// New starts pumping r. The caller keeps ownership of r. Closing r ends the
// pump, and the end of stream is then reported by Poll.
func New(r io.Reader, opts ...Option) *Demux {
	d := &Demux{
		chunks:       make(chan []byte, queueDepth),
		stop:         make(chan struct{}),
		decoder:      unicode.UTF8.NewDecoder(),
		pollInterval: DefaultPollInterval,
		chunkSize:    DefaultChunkSize,
		clock:        realclock.New(),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.pump(r)
	return d
}

func (d *Demux) pump(r io.Reader) {
	defer close(d.chunks)

	buf := make([]byte, d.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			select {
			case d.chunks <- b:
			case <-d.stop:
				return
			}
		}
		if err != nil {
			d.readErr = err
			return
		}
	}
}

// Poll returns the next decoded chunk. It returns "" with a nil error when
// nothing arrived within the poll interval. When the stream has ended it
// returns io.EOF, and when it failed it returns the read error. Bytes received
// before the end are always returned first.
func (d *Demux) Poll(ctx context.Context) (string, error) {
	if d.eof {
		return d.finish()
	}

	timer := d.clock.After(d.pollInterval)
	select {
	case b, ok := <-d.chunks:
		if !ok {
			return d.finish()
		}
		d.advanced.Store(true)
		return d.decode(b, false), nil
	case <-timer:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Drain returns the text of every chunk that is already queued, without
// waiting. It reports nothing about the end of stream; the next Poll does.
func (d *Demux) Drain() string {
	var sb strings.Builder
	for {
		select {
		case b, ok := <-d.chunks:
			if !ok {
				d.eof = true
				return sb.String()
			}
			d.advanced.Store(true)
			sb.WriteString(d.decode(b, false))
		default:
			return sb.String()
		}
	}
}

// Advanced reports whether any bytes arrived since the previous call.
func (d *Demux) Advanced() bool {
	return d.advanced.Swap(false)
}

// Close stops the pump. It does not close the underlying stream.
func (d *Demux) Close() {
	d.once.Do(func() { close(d.stop) })
}

// finish flushes a carried partial character once the stream is over.
func (d *Demux) finish() (string, error) {
	d.eof = true
	if len(d.carry) > 0 {
		return d.decode(nil, true), nil
	}
	return "", d.terminalErr()
}

func (d *Demux) terminalErr() error {
	if d.readErr == nil || errors.Is(d.readErr, io.EOF) {
		return io.EOF
	}
	return d.readErr
}

// decode runs b through the UTF-8 validator, prefixed by any bytes carried
// from the previous chunk.
func (d *Demux) decode(b []byte, atEOF bool) string {
	src := make([]byte, 0, len(d.carry)+len(b))
	src = append(src, d.carry...)
	src = append(src, b...)
	d.carry = d.carry[:0]

	// Each invalid byte expands to at most three bytes of U+FFFD.
	dst := make([]byte, len(src)*3+utf8.UTFMax)
	nDst, nSrc, err := d.decoder.Transform(dst, src, atEOF)
	if errors.Is(err, transform.ErrShortSrc) {
		d.carry = append(d.carry, src[nSrc:]...)
	}
	if atEOF {
		d.decoder.Reset()
	}
	return string(dst[:nDst])
}
