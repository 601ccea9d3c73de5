package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/acolita/replsh/internal/config"
	"github.com/acolita/replsh/internal/logging"
	"github.com/acolita/replsh/internal/session"
	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultSendTimeout bounds repl_send when timeout_ms is not given.
const DefaultSendTimeout = 30 * time.Second

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(replSessionCreateTool(), s.handleSessionCreate)
	s.mcpServer.AddTool(replSendTool(), s.handleSend)
	s.mcpServer.AddTool(replInterruptTool(), s.handleInterrupt)
	s.mcpServer.AddTool(replSessionListTool(), s.handleSessionList)
	s.mcpServer.AddTool(replSessionCloseTool(), s.handleSessionClose)
}

// Tool definitions

func replSessionCreateTool() mcp.Tool {
	return mcp.NewTool("repl_session_create",
		mcp.WithDescription("Start the configured interactive program (over SSH or a local PTY) and wait for its first prompt"),
		mcp.WithString("mode",
			mcp.Description("Transport: 'ssh' or 'local' (default: the configured mode)"),
			mcp.Enum(config.ModeSSH, config.ModeLocal),
		),
		mcp.WithString("server",
			mcp.Description("Name of a server from the config (default: default_server)"),
		),
		mcp.WithString("host",
			mcp.Description("SSH host, overrides the server's host"),
		),
		mcp.WithNumber("port",
			mcp.Description("SSH port (default: 22)"),
		),
		mcp.WithString("user",
			mcp.Description("SSH username, overrides the server's user"),
		),
		mcp.WithString("key_path",
			mcp.Description("Private key file, overrides the server's key"),
		),
	)
}

func replSendTool() mcp.Tool {
	return mcp.NewTool("repl_send",
		mcp.WithDescription("Send one line to the program and collect its answer up to the next prompt"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session ID returned by repl_session_create"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The line to send"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("How long to wait for the prompt in milliseconds (default: 30000). On timeout the program is interrupted."),
		),
		mcp.WithNumber("tail_lines",
			mcp.Description("Return only the last N lines of output"),
		),
		mcp.WithNumber("head_lines",
			mcp.Description("Return only the first N lines of output"),
		),
	)
}

func replInterruptTool() mcp.Tool {
	return mcp.NewTool("repl_interrupt",
		mcp.WithDescription("Send Ctrl+C to the program"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
}

func replSessionListTool() mcp.Tool {
	return mcp.NewTool("repl_session_list",
		mcp.WithDescription("List open sessions with their target and state"),
	)
}

func replSessionCloseTool() mcp.Tool {
	return mcp.NewTool("repl_session_close",
		mcp.WithDescription("Close a session and its connection"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
}

// Tool results

type createResult struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Target    string `json:"target"`
	Ready     bool   `json:"ready"`
	State     string `json:"state"`
}

type sendResult struct {
	SessionID  string         `json:"session_id"`
	Status     session.Status `json:"status"`
	Output     string         `json:"output"`
	Fragments  int            `json:"fragments"`
	Error      string         `json:"error,omitempty"`
	Connected  bool           `json:"connected"`
	Truncated  bool           `json:"truncated,omitempty"`
	TotalLines int            `json:"total_lines,omitempty"`
	ShownLines int            `json:"shown_lines,omitempty"`
}

type listResult struct {
	Sessions []session.SessionInfo `json:"sessions"`
	Count    int                   `json:"count"`
}

// Tool handlers

func (s *Server) handleSessionCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := session.CreateOptions{
		Mode:    mcp.ParseString(req, "mode", ""),
		Server:  mcp.ParseString(req, "server", ""),
		Host:    mcp.ParseString(req, "host", ""),
		Port:    mcp.ParseInt(req, "port", 0),
		User:    mcp.ParseString(req, "user", ""),
		KeyPath: mcp.ParseString(req, "key_path", ""),
	}

	slog.Info("creating repl session",
		slog.String("mode", opts.Mode),
		slog.String("server", opts.Server),
		slog.String("host", opts.Host),
	)

	sess, err := s.sessionManager.Create(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(createResult{
		SessionID: sess.ID,
		Mode:      sess.Mode,
		Target:    sess.Target(),
		Ready:     sess.Ready(),
		State:     sess.State().String(),
	})
}

func (s *Server) handleSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	command := mcp.ParseString(req, "command", "")
	timeoutMs := mcp.ParseInt(req, "timeout_ms", 0)
	tailLines := mcp.ParseInt(req, "tail_lines", 0)
	headLines := mcp.ParseInt(req, "head_lines", 0)

	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if tailLines > 0 && headLines > 0 {
		return mcp.NewToolResultError("tail_lines and head_lines are mutually exclusive"), nil
	}

	sess, err := s.sessionManager.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	timeout := DefaultSendTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	slog.Info("sending command",
		slog.String("session_id", sessionID),
		slog.String("command", logging.Truncate(command, 200)),
		slog.Duration("timeout", timeout),
	)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := sess.Run(runCtx, command)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res := sendResult{
		SessionID: sessionID,
		Status:    out.Status,
		Output:    out.Output,
		Fragments: out.Fragments,
		Connected: sess.Connected(),
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	if tailLines > 0 || headLines > 0 {
		res.Output, res.Truncated, res.TotalLines, res.ShownLines = truncateOutput(out.Output, tailLines, headLines)
	}

	return jsonResult(res)
}

func (s *Server) handleInterrupt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	sess, err := s.sessionManager.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	slog.Info("interrupting session", slog.String("session_id", sessionID))

	if err := sess.Interrupt(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Interrupt sent"), nil
}

func (s *Server) handleSessionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.sessionManager.List()
	return jsonResult(listResult{Sessions: sessions, Count: len(sessions)})
}

func (s *Server) handleSessionClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	slog.Info("closing session", slog.String("session_id", sessionID))

	if err := s.sessionManager.Close(sessionID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Session closed"), nil
}

// truncateOutput keeps the last tail or first head lines of output. A
// trailing newline does not count as an extra line.
func truncateOutput(output string, tail, head int) (string, bool, int, int) {
	if output == "" {
		return "", false, 0, 0
	}
	lines := strings.Split(strings.TrimSuffix(output, "\n"), "\n")
	total := len(lines)

	switch {
	case tail > 0 && tail < total:
		lines = lines[total-tail:]
	case head > 0 && head < total:
		lines = lines[:head]
	default:
		return output, false, total, total
	}
	return strings.Join(lines, "\n"), true, total, len(lines)
}

// jsonResult converts a value to a JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
