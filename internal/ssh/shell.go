package ssh

import (
	"fmt"
	"io"
	"sync"

	"github.com/acolita/replsh/internal/ports"
	"golang.org/x/crypto/ssh"
)

// etx is the byte a terminal sends for Ctrl+C.
const etx = 0x03

// ShellOptions configures PTY allocation.
type ShellOptions struct {
	Term string // Terminal type (default: dumb)
	Rows int    // Terminal rows (default: 24)
	Cols int    // Terminal columns (default: 120)
	Env  map[string]string
}

// Shell is an interactive login shell on a remote PTY. It implements
// ports.Channel.
type Shell struct {
	client  *Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	mu     sync.Mutex
	closed bool
}

// OpenShell starts a login shell on a connected client. The shell owns the
// client: closing the shell closes the connection.
func OpenShell(client *Client, opts ShellOptions) (*Shell, error) {
	if opts.Term == "" {
		opts.Term = "dumb"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 120
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}

	for key, value := range opts.Env {
		// Servers commonly refuse Setenv; that is not fatal.
		session.Setenv(key, value)
	}

	// Echo stays on: the response parser relies on the echoed command line.
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, opts.Rows, opts.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Shell{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

// Read reads PTY output.
func (s *Shell) Read(b []byte) (int, error) {
	return s.stdout.Read(b)
}

// Write writes PTY input.
func (s *Shell) Write(b []byte) (int, error) {
	return s.stdin.Write(b)
}

// Interrupt writes Ctrl+C. The remote line discipline turns it into SIGINT
// for the foreground program.
func (s *Shell) Interrupt() error {
	_, err := s.stdin.Write([]byte{etx})
	return err
}

// Resize changes the remote window size.
func (s *Shell) Resize(rows, cols uint16) error {
	if err := s.session.WindowChange(int(rows), int(cols)); err != nil {
		return fmt.Errorf("window change: %w", err)
	}
	return nil
}

// Close ends the session and the connection. Pending reads return io.EOF.
func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	sessErr := s.session.Close()
	if err := s.client.Close(); err != nil {
		return err
	}
	if sessErr != nil && sessErr != io.EOF {
		return sessErr
	}
	return nil
}

var (
	_ ports.Channel = (*Shell)(nil)
	_ ports.Resizer = (*Shell)(nil)
)
