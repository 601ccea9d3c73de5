package ssh_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/acolita/replsh/internal/session"
	"github.com/acolita/replsh/internal/testing/mockssh"
)

func scriptedREPL() mockssh.REPL {
	r := mockssh.DefaultREPL()
	r.Respond = func(line string) mockssh.Reply {
		switch line {
		case "stop":
			return mockssh.Reply{Chunks: []string{"stopp", "ed#"}, NoPrompt: true}
		case "slow":
			return mockssh.Reply{Chunks: []string{"thinking"}, NoPrompt: true}
		case "bye":
			return mockssh.Reply{Chunks: []string{"parti"}, Hangup: true}
		default:
			return mockssh.Text("you said: " + line + "\r\n")
		}
	}
	return r
}

func connectSession(t *testing.T, server *mockssh.Server) *session.Controller {
	t.Helper()
	ctrl, err := session.New(newTransport(t, server, "test"), session.WithOptions(session.Options{
		LaunchCommand:    "./llama",
		ReadyMarker:      ">",
		HandshakeTimeout: 5 * time.Second,
		PollInterval:     5 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ready, err := ctrl.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !ready {
		t.Fatal("Connect() did not see the ready marker")
	}
	return ctrl
}

func collect(t *testing.T, ctrl *session.Controller, text string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := ctrl.Send(ctx, text)
	if err != nil {
		t.Fatalf("Send(%q) error = %v", text, err)
	}
	return resp.Collect(ctx)
}

func TestSession_OverSSH(t *testing.T) {
	server := startServer(t, mockssh.WithREPL(scriptedREPL()))
	ctrl := connectSession(t, server)

	out, err := collect(t, ctrl, "hello")
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out != "you said: hello\r\n" {
		t.Errorf("output = %q", out)
	}

	out, err = collect(t, ctrl, "again")
	if err != nil || out != "you said: again\r\n" {
		t.Errorf("second command = %q, %v", out, err)
	}

	lines := server.Lines()
	if len(lines) != 3 || lines[0] != "./llama" || lines[2] != "again" {
		t.Errorf("server lines = %q", lines)
	}
}

func TestSession_OverSSH_Abort(t *testing.T) {
	server := startServer(t, mockssh.WithREPL(scriptedREPL()))
	ctrl := connectSession(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := ctrl.Run(ctx, "stop")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != session.StatusAborted || out.Output != "stopped" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestSession_OverSSH_Hangup(t *testing.T) {
	server := startServer(t, mockssh.WithREPL(scriptedREPL()))
	ctrl := connectSession(t, server)

	out, err := collect(t, ctrl, "bye")
	if !errors.Is(err, session.ErrStreamClosed) {
		t.Fatalf("Collect() error = %v, want ErrStreamClosed", err)
	}
	if out != "parti" {
		t.Errorf("partial output = %q", out)
	}
	if ctrl.Connected() {
		t.Error("controller still connected after hangup")
	}
}

func TestSession_OverSSH_TimeoutInterrupts(t *testing.T) {
	server := startServer(t, mockssh.WithREPL(scriptedREPL()))
	ctrl := connectSession(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	out, err := ctrl.Run(ctx, "slow")
	cancel()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != session.StatusTimeout {
		t.Fatalf("status = %s, want timeout", out.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for server.Interrupts() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never saw the interrupt")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Let the "^C" line and fresh prompt arrive; Send discards them.
	time.Sleep(100 * time.Millisecond)
	got, err := collect(t, ctrl, "after")
	if err != nil || got != "you said: after\r\n" {
		t.Errorf("after interrupt = %q, %v", got, err)
	}
}

func TestSession_OverSSH_Resize(t *testing.T) {
	server := startServer(t, mockssh.WithREPL(scriptedREPL()))
	ctrl := connectSession(t, server)

	if err := ctrl.Resize(50, 200); err != nil {
		t.Fatalf("Resize() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !slices.Contains(server.Requests(), "window-change") {
		if time.Now().After(deadline) {
			t.Fatalf("server never saw window-change, requests = %q", server.Requests())
		}
		time.Sleep(10 * time.Millisecond)
	}

	out, err := collect(t, ctrl, "hello")
	if err != nil || out != "you said: hello\r\n" {
		t.Errorf("after resize = %q, %v", out, err)
	}
}
