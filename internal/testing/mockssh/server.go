// Package mockssh provides an in-process SSH server for tests.
//
// By default each shell request is served by a scripted REPL: it echoes
// every input line the way a PTY with echo enabled would, starts the
// "program" when the launch command arrives, and answers each later line
// with a reply followed by the program prompt. WithShell switches to a real
// shell under a PTY instead.
package mockssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/crypto/ssh"
)

// Reply is the scripted answer to one line.
type Reply struct {
	Chunks   []string // written in order, one write each
	NoPrompt bool     // skip the prompt after the chunks
	Hangup   bool     // close the channel after the chunks
}

// Text is a single-chunk Reply.
func Text(s string) Reply {
	return Reply{Chunks: []string{s}}
}

// REPL scripts the program behind the shell.
type REPL struct {
	ShellPrompt   string // printed by the login shell, default "$ "
	LaunchCommand string // line that starts the program; empty starts it at once
	Banner        string // printed when the program starts
	Prompt        string // printed after every reply, default "> "
	Respond       func(line string) Reply
}

// DefaultREPL launches on "./llama", prints a banner ending in the prompt and
// answers every line with "you said: <line>".
func DefaultREPL() REPL {
	return REPL{
		LaunchCommand: "./llama",
		Banner:        "llama ready\r\n> ",
		Respond: func(line string) Reply {
			return Text("you said: " + line + "\r\n")
		},
	}
}

// Server is a mock SSH server for testing.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	shell    string
	repl     REPL
	users    map[string]string // username -> password
	keys     []ssh.PublicKey
	done     chan struct{}
	wg       sync.WaitGroup

	mu         sync.Mutex
	conns      []net.Conn
	sessions   []*session
	lines      []string
	interrupts int
	requests   []string
}

type session struct {
	channel ssh.Channel
	pty     *os.File
	cmd     *exec.Cmd
}

// Option configures the mock SSH server.
type Option func(*Server)

// WithShell serves shell requests with a real shell under a PTY.
func WithShell(shell string) Option {
	return func(s *Server) {
		s.shell = shell
	}
}

// WithREPL replaces the scripted program.
func WithREPL(r REPL) Option {
	return func(s *Server) {
		s.repl = r
	}
}

// WithUser adds a user/password pair for authentication.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithAuthorizedKey accepts public key authentication with key for any user.
func WithAuthorizedKey(key ssh.PublicKey) Option {
	return func(s *Server) {
		s.keys = append(s.keys, key)
	}
}

// New starts a server on a random loopback port.
func New(opts ...Option) (*Server, error) {
	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	s := &Server{
		repl:  DefaultREPL(),
		users: map[string]string{"test": "test"},
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.repl.ShellPrompt == "" {
		s.repl.ShellPrompt = "$ "
	}
	if s.repl.Prompt == "" {
		s.repl.Prompt = "> "
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if expected, ok := s.users[c.User()]; ok && string(password) == expected {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			for _, k := range s.keys {
				if bytes.Equal(k.Marshal(), key.Marshal()) {
					return nil, nil
				}
			}
			return nil, fmt.Errorf("unknown public key for %q", c.User())
		},
	}
	config.AddHostKey(signer)
	s.config = config

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock SSH server started", slog.String("addr", s.addr))
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.addr
}

// Host returns the host part of the address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the port the server is listening on.
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.addr)
	return port
}

// Lines returns every line the scripted shell received, in order.
func (s *Server) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Interrupts returns how many Ctrl+C bytes the scripted shell received.
func (s *Server) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

// Requests returns the channel request types seen, in order.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Close shuts down the server and every open session.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()

	s.mu.Lock()
	for _, sess := range s.sessions {
		if sess.pty != nil {
			sess.pty.Close()
		}
		if sess.cmd != nil && sess.cmd.Process != nil {
			sess.cmd.Process.Kill()
		}
		sess.channel.Close()
	}
	s.sessions = nil
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("SSH handshake failed", slog.String("error", err.Error()))
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Debug("channel accept failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go s.handleChannel(channel, requests)
	}
}

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	sess := &session{channel: channel}
	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.mu.Unlock()

	var ptyReq *ptyRequest

	for req := range requests {
		s.mu.Lock()
		s.requests = append(s.requests, req.Type)
		s.mu.Unlock()

		switch req.Type {
		case "pty-req":
			ptyReq = parsePtyRequest(req.Payload)
			req.Reply(true, nil)

		case "env":
			req.Reply(true, nil)

		case "shell":
			if ptyReq == nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.wg.Add(1)
			if s.shell != "" {
				go s.runShell(sess, ptyReq)
			} else {
				go s.runREPL(sess)
			}

		case "window-change":
			if sess.pty != nil {
				w := parseWindowChange(req.Payload)
				pty.Setsize(sess.pty, &pty.Winsize{Rows: uint16(w.Height), Cols: uint16(w.Width)})
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// runREPL serves the scripted shell until the client closes the channel or a
// reply hangs up.
func (s *Server) runREPL(sess *session) {
	defer s.wg.Done()

	ch := sess.channel
	r := s.repl
	launched := r.LaunchCommand == ""

	if launched {
		io.WriteString(ch, r.Banner)
	} else {
		io.WriteString(ch, r.ShellPrompt)
	}

	var line []byte
	buf := make([]byte, 256)
	for {
		n, err := ch.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			switch b {
			case 0x03:
				s.mu.Lock()
				s.interrupts++
				s.mu.Unlock()
				line = line[:0]
				io.WriteString(ch, "^C\r\n"+s.promptFor(launched))

			case '\n':
				text := strings.TrimSuffix(string(line), "\r")
				line = line[:0]
				s.mu.Lock()
				s.lines = append(s.lines, text)
				s.mu.Unlock()

				io.WriteString(ch, text+"\r\n")

				if !launched {
					if text == r.LaunchCommand {
						launched = true
						io.WriteString(ch, r.Banner)
					} else {
						io.WriteString(ch, "sh: "+text+": not found\r\n"+r.ShellPrompt)
					}
					continue
				}

				reply := Reply{}
				if r.Respond != nil {
					reply = r.Respond(text)
				}
				for _, chunk := range reply.Chunks {
					io.WriteString(ch, chunk)
				}
				if reply.Hangup {
					sendExitStatus(ch, 0)
					return
				}
				if !reply.NoPrompt {
					io.WriteString(ch, r.Prompt)
				}

			default:
				line = append(line, b)
			}
		}
	}
}

func (s *Server) promptFor(launched bool) string {
	if launched {
		return s.repl.Prompt
	}
	return s.repl.ShellPrompt
}

func (s *Server) runShell(sess *session, ptyReq *ptyRequest) {
	defer s.wg.Done()

	cmd := exec.Command(s.shell)
	cmd.Env = append(os.Environ(), "TERM="+ptyReq.Term)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(ptyReq.Height), Cols: uint16(ptyReq.Width)})
	if err != nil {
		slog.Debug("pty start failed", slog.String("error", err.Error()))
		sendExitStatus(sess.channel, 1)
		return
	}
	s.mu.Lock()
	sess.pty = ptmx
	sess.cmd = cmd
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		io.Copy(sess.channel, ptmx)
		close(done)
	}()
	go io.Copy(ptmx, sess.channel)

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	ptmx.Close()
	<-done

	sendExitStatus(sess.channel, exitCode)
}

func sendExitStatus(channel ssh.Channel, code int) {
	channel.CloseWrite()
	channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
	channel.Close()
}

type ptyRequest struct {
	Term   string
	Width  uint32
	Height uint32
	PixW   uint32
	PixH   uint32
	Modes  string
}

func parsePtyRequest(payload []byte) *ptyRequest {
	var req ptyRequest
	if err := ssh.Unmarshal(payload, &req); err != nil {
		return &ptyRequest{Term: "xterm", Width: 80, Height: 24}
	}
	return &req
}

type windowChange struct {
	Width  uint32
	Height uint32
}

func parseWindowChange(payload []byte) windowChange {
	if len(payload) < 8 {
		return windowChange{Width: 80, Height: 24}
	}
	return windowChange{
		Width:  binary.BigEndian.Uint32(payload[0:4]),
		Height: binary.BigEndian.Uint32(payload[4:8]),
	}
}
