// Package pty runs an interactive program locally under a pseudo-terminal.
package pty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/acolita/replsh/internal/ports"
	"github.com/creack/pty"
)

// etx is the byte a terminal sends for Ctrl+C.
const etx = 0x03

// Options configures the local program and its terminal.
type Options struct {
	Program string   // Program to run (defaults to the user's shell)
	Args    []string // Program arguments
	Term    string   // Terminal type (default: dumb)
	Rows    uint16   // Terminal rows (default: 24)
	Cols    uint16   // Terminal columns (default: 120)
	Dir     string   // Working directory
	Env     []string // Additional environment variables
}

// DefaultOptions returns options that run the user's shell on a dumb
// terminal, which keeps ANSI escape codes out of the output.
func DefaultOptions() Options {
	return Options{
		Program: detectShell(),
		Term:    "dumb",
		Rows:    24,
		Cols:    120,
	}
}

func (o *Options) applyDefaults() {
	if o.Program == "" {
		o.Program = detectShell()
	}
	if o.Term == "" {
		o.Term = "dumb"
	}
	if o.Rows == 0 {
		o.Rows = 24
	}
	if o.Cols == 0 {
		o.Cols = 120
	}
}

// Transport starts the program under a fresh PTY on every Open. It
// implements ports.Transport.
type Transport struct {
	opts Options
}

// NewTransport returns a local transport for opts.
func NewTransport(opts Options) *Transport {
	opts.applyDefaults()
	return &Transport{opts: opts}
}

// Target names the program, e.g. "local:python3".
func (t *Transport) Target() string {
	return "local:" + filepath.Base(t.opts.Program)
}

// Open starts the program. The process outlives ctx; ctx only aborts a start
// that has not happened yet.
func (t *Transport) Open(ctx context.Context) (ports.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Start(t.opts)
}

// Process is a program running under a PTY. It implements ports.Channel.
type Process struct {
	cmd  *exec.Cmd
	pty  *os.File
	done chan struct{}

	waitErr error

	mu     sync.Mutex
	closed bool
}

// Start runs opts.Program under a new PTY with echo enabled.
func Start(opts Options) (*Process, error) {
	opts.applyDefaults()

	cmd := exec.Command(opts.Program, opts.Args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.Env = append(os.Environ(), "TERM="+opts.Term, "NO_COLOR=1")
	cmd.Env = append(cmd.Env, opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	p := &Process{
		cmd:  cmd,
		pty:  ptmx,
		done: make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	slog.Debug("local program started",
		slog.String("program", opts.Program),
		slog.Int("pid", cmd.Process.Pid),
	)
	return p, nil
}

// Read reads PTY output. Once the program has exited and its output is
// drained, or the process is closed, Read returns io.EOF.
func (p *Process) Read(b []byte) (int, error) {
	n, err := p.pty.Read(b)
	if err != nil && (errors.Is(err, syscall.EIO) || errors.Is(err, fs.ErrClosed)) {
		err = io.EOF
	}
	return n, err
}

// Write writes PTY input.
func (p *Process) Write(b []byte) (int, error) {
	return p.pty.Write(b)
}

// Interrupt writes Ctrl+C to the terminal so the line discipline signals the
// foreground process group.
func (p *Process) Interrupt() error {
	_, err := p.pty.Write([]byte{etx})
	return err
}

// Resize resizes the PTY window.
func (p *Process) Resize(rows, cols uint16) error {
	return pty.Setsize(p.pty, &pty.Winsize{Rows: rows, Cols: cols})
}

// Pid returns the program's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed when the program exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the program exits and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

// Close closes the PTY, kills the program if it is still running and reaps
// it. Closing twice is a no-op.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if err := p.pty.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty: %w", err))
	}

	select {
	case <-p.done:
	default:
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill process: %w", err))
		}
		<-p.done
	}

	return errors.Join(errs...)
}

// detectShell returns $SHELL or the first common shell that exists.
func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" && !strings.ContainsAny(shell, " \t") {
		return shell
	}
	for _, shell := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}

var (
	_ ports.Transport = (*Transport)(nil)
	_ ports.Channel   = (*Process)(nil)
	_ ports.Resizer   = (*Process)(nil)
)
