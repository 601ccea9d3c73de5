// Package session drives one interactive program over a ports.Channel.
//
// A Controller opens the channel, launches the program and waits for its
// readiness marker. Send writes one command and returns a Response whose Next
// method yields the program's answer fragment by fragment: the echoed command
// line is dropped and the answer ends at the first prompt or abort sentinel.
// Exactly one command may be in flight at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/acolita/replsh/internal/adapters/realclock"
	"github.com/acolita/replsh/internal/demux"
	"github.com/acolita/replsh/internal/logging"
	"github.com/acolita/replsh/internal/parser"
	"github.com/acolita/replsh/internal/ports"
)

const (
	// DefaultHandshakeTimeout bounds the wait for the readiness marker.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultReadyMarker is the text that signals the program is ready.
	DefaultReadyMarker = ">"

	logTextLimit = 200
)

// Options describe the remote program.
type Options struct {
	LaunchCommand    string // written after the channel opens; empty writes nothing
	ReadyMarker      string // searched for in the startup output; empty skips the handshake
	Sentinels        parser.Sentinels
	HandshakeTimeout time.Duration
	PollInterval     time.Duration
}

// DefaultOptions returns the defaults: no launch command, ">" as the ready
// marker, the default sentinels, a 10s handshake and a 100ms poll interval.
func DefaultOptions() Options {
	return Options{
		ReadyMarker:      DefaultReadyMarker,
		Sentinels:        parser.DefaultSentinels(),
		HandshakeTimeout: DefaultHandshakeTimeout,
		PollInterval:     demux.DefaultPollInterval,
	}
}

// Recorder receives the session transcript.
type Recorder interface {
	RecordInput(data string) error
	RecordOutput(data string) error
}

// CommandFilter decides whether a command may be sent.
type CommandFilter interface {
	Check(command string) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithOptions replaces the program options. Zero durations keep the defaults.
func WithOptions(o Options) Option {
	return func(c *Controller) {
		if o.HandshakeTimeout <= 0 {
			o.HandshakeTimeout = DefaultHandshakeTimeout
		}
		if o.PollInterval <= 0 {
			o.PollInterval = demux.DefaultPollInterval
		}
		c.opts = o
	}
}

// WithClock sets the clock used for the handshake deadline and polling.
func WithClock(clk ports.Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder records commands and output.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithCommandFilter checks every command before it is written.
func WithCommandFilter(f CommandFilter) Option {
	return func(c *Controller) {
		c.filter = f
	}
}

// Controller owns one channel to an interactive program. Its methods are safe
// for concurrent use.
type Controller struct {
	transport ports.Transport
	opts      Options
	clock     ports.Clock
	logger    *slog.Logger
	recorder  Recorder
	filter    CommandFilter

	// mu guards the fields below. Lock order is mu, then pollMu.
	mu            sync.Mutex
	ch            ports.Channel
	dm            *demux.Demux
	inFlight      *Response
	ready         bool
	closed        bool
	connecting    bool
	cancelConnect context.CancelFunc

	// pollMu serialises access to dm between a Response and Send.
	pollMu sync.Mutex
}

// New returns an unconnected controller for transport.
func New(transport ports.Transport, opts ...Option) (*Controller, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	c := &Controller{
		transport: transport,
		opts:      DefaultOptions(),
		clock:     realclock.New(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.opts.Sentinels.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sentinels: %w", err)
	}
	c.logger = c.logger.With(slog.String("target", transport.Target()))
	return c, nil
}

// Target describes the endpoint.
func (c *Controller) Target() string {
	return c.transport.Target()
}

// Connect opens the channel, writes the launch command and waits for the
// ready marker. It reports whether the marker was seen before the handshake
// timeout. A timeout is not an error: the channel stays open and the caller
// may proceed with lower confidence.
//
// The handshake runs without holding the controller lock, so Close, State
// and the other accessors stay responsive. Close during a handshake cancels
// it and Connect returns ErrClosed. Connect may be called again after the
// channel failed, but not after Close.
func (c *Controller) Connect(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	if c.ch != nil || c.connecting {
		c.mu.Unlock()
		return false, ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.connecting = true
	c.cancelConnect = cancel
	c.mu.Unlock()

	ch, dm, ready, err := c.establish(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false
	c.cancelConnect = nil

	if c.closed {
		if ch != nil {
			ch.Close()
			dm.Close()
		}
		return false, ErrClosed
	}
	if err != nil {
		return false, err
	}

	c.ch = ch
	c.dm = dm
	c.ready = ready
	if ready {
		c.logger.Info("session connected")
	} else {
		c.logger.Warn("ready marker not seen before timeout",
			slog.String("marker", c.opts.ReadyMarker),
			slog.Duration("timeout", c.opts.HandshakeTimeout),
		)
	}
	return ready, nil
}

// establish opens a channel, launches the program and runs the handshake.
// On failure it closes whatever it opened.
func (c *Controller) establish(ctx context.Context) (ports.Channel, *demux.Demux, bool, error) {
	target := c.transport.Target()
	ch, err := c.transport.Open(ctx)
	if err != nil {
		c.logger.Warn("open failed", slog.String("error", err.Error()))
		return nil, nil, false, &ConnectionError{Target: target, Err: err}
	}
	dm := demux.New(ch, demux.WithPollInterval(c.opts.PollInterval), demux.WithClock(c.clock))

	if c.opts.LaunchCommand != "" {
		if _, err := io.WriteString(ch, c.opts.LaunchCommand+c.terminator()); err != nil {
			ch.Close()
			dm.Close()
			return nil, nil, false, &ConnectionError{Target: target, Err: fmt.Errorf("write launch command: %w", err)}
		}
		c.record(true, c.opts.LaunchCommand+c.terminator())
	}

	ready, err := c.handshake(ctx, dm)
	if err != nil {
		ch.Close()
		dm.Close()
		if ctx.Err() != nil {
			return nil, nil, false, ctx.Err()
		}
		return nil, nil, false, &ConnectionError{Target: target, Err: err}
	}
	return ch, dm, ready, nil
}

// handshake polls dm until the ready marker appears in the accumulated
// startup output, the deadline passes or the stream ends. dm is not yet
// shared, so no lock is needed.
func (c *Controller) handshake(ctx context.Context, dm *demux.Demux) (bool, error) {
	if c.opts.ReadyMarker == "" {
		return true, nil
	}

	deadline := c.clock.After(c.opts.HandshakeTimeout)
	var startup strings.Builder

	for {
		select {
		case <-deadline:
			c.logger.Debug("handshake output", slog.String("output", logging.Truncate(startup.String(), logTextLimit)))
			return false, nil
		default:
		}

		text, err := dm.Poll(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, ErrStreamClosed
			}
			return false, err
		}
		if text == "" {
			continue
		}

		c.record(false, text)
		startup.WriteString(text)
		if strings.Contains(startup.String(), c.opts.ReadyMarker) {
			return true, nil
		}
	}
}

// Send writes text and the line terminator and returns the response. Output
// still queued from an abandoned command is discarded first.
func (c *Controller) Send(ctx context.Context, text string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.ch == nil {
		return nil, ErrNotConnected
	}
	if c.inFlight != nil {
		return nil, ErrCommandInFlight
	}
	if c.filter != nil {
		if err := c.filter.Check(text); err != nil {
			c.logger.Warn("command blocked", slog.String("error", err.Error()))
			return nil, &BlockedCommandError{Command: text, Reason: err}
		}
	}

	c.pollMu.Lock()
	stale := c.dm.Drain()
	c.pollMu.Unlock()
	if stale != "" {
		c.logger.Debug("discarded stale output", slog.String("stale", logging.Truncate(stale, logTextLimit)))
	}

	line := text + c.terminator()
	if _, err := io.WriteString(c.ch, line); err != nil {
		c.logger.Error("write failed", slog.String("error", err.Error()))
		c.teardownLocked()
		return nil, &TransportError{Op: "write", Err: err}
	}
	c.record(true, line)

	p, _ := parser.New(c.opts.Sentinels)
	p.Reset()

	r := &Response{ctrl: c, dm: c.dm, parser: p}
	r.state.Store(int32(parser.AwaitingEcho))
	c.inFlight = r

	c.logger.Debug("command sent", slog.String("command", logging.Truncate(text, logTextLimit)))
	return r, nil
}

// Interrupt sends Ctrl+C to the program. It leaves any in-flight response
// untouched: the program's reaction, usually a fresh prompt, ends it.
func (c *Controller) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.ch == nil {
		return ErrNotConnected
	}
	if err := c.ch.Interrupt(); err != nil {
		c.teardownLocked()
		return &TransportError{Op: "interrupt", Err: err}
	}
	c.logger.Debug("interrupt sent")
	return nil
}

// Close ends any in-flight response with ErrClosed and closes the channel.
// A handshake in progress is cancelled; Connect then closes its channel.
// Closing again returns nil and performs no I/O.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.cancelConnect != nil {
		c.cancelConnect()
	}
	if r := c.inFlight; r != nil {
		r.ownerClosed.Store(true)
		c.inFlight = nil
	}
	if c.ch == nil {
		return nil
	}
	if err := c.teardownLocked(); err != nil {
		return fmt.Errorf("close channel: %w", err)
	}
	c.logger.Info("session closed")
	return nil
}

// Resize changes the terminal window of the program. Channels without a
// window return ErrResizeUnsupported.
func (c *Controller) Resize(rows, cols uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.ch == nil {
		return ErrNotConnected
	}
	rs, ok := c.ch.(ports.Resizer)
	if !ok {
		return ErrResizeUnsupported
	}
	if err := rs.Resize(rows, cols); err != nil {
		return &TransportError{Op: "resize", Err: err}
	}
	c.logger.Debug("window resized", slog.Int("rows", int(rows)), slog.Int("cols", int(cols)))
	return nil
}

// State returns the parser state of the in-flight command, or Terminated
// when none is in flight.
func (c *Controller) State() parser.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight == nil {
		return parser.Terminated
	}
	return parser.State(c.inFlight.state.Load())
}

// Ready reports whether the last handshake saw the ready marker.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Connected reports whether a channel is open.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil
}

// Closed reports whether Close was called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) terminator() string {
	return string(c.opts.Sentinels.LineTerminator)
}

// teardownLocked closes the channel and stops the demux. The caller holds mu.
func (c *Controller) teardownLocked() error {
	if c.ch == nil {
		return nil
	}
	err := c.ch.Close()
	c.dm.Close()
	c.ch = nil
	c.dm = nil
	c.ready = false
	return err
}

// release frees the in-flight slot held by r.
func (c *Controller) release(r *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight == r {
		c.inFlight = nil
	}
}

// fail releases r and tears down the channel it was reading, unless the
// controller has since moved on to another channel.
func (c *Controller) fail(r *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight == r {
		c.inFlight = nil
	}
	if c.dm == r.dm {
		c.teardownLocked()
	}
}

func (c *Controller) record(input bool, data string) {
	if c.recorder == nil {
		return
	}
	var err error
	if input {
		err = c.recorder.RecordInput(data)
	} else {
		err = c.recorder.RecordOutput(data)
	}
	if err != nil {
		c.logger.Warn("transcript write failed", slog.String("error", err.Error()))
	}
}
