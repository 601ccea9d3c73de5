// Package logging provides structured slog logging with sanitization.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// sensitiveKeys are attribute keys whose values never reach the log.
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"credential",
	"passphrase",
}

// outputKeys carry program I/O. They are redacted only when output
// redaction is enabled.
var outputKeys = map[string]bool{
	"command":  true,
	"fragment": true,
	"output":   true,
	"stale":    true,
}

const redacted = "[REDACTED]"

// SanitizingHandler wraps a slog.Handler to sanitize sensitive data.
type SanitizingHandler struct {
	handler      slog.Handler
	sanitize     bool
	redactOutput bool
}

// NewSanitizingHandler creates a new sanitizing handler.
func NewSanitizingHandler(handler slog.Handler, sanitize, redactOutput bool) *SanitizingHandler {
	return &SanitizingHandler{
		handler:      handler,
		sanitize:     sanitize,
		redactOutput: redactOutput,
	}
}

func (h *SanitizingHandler) active() bool {
	return h.sanitize || h.redactOutput
}

// Enabled implements slog.Handler.
func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.active() {
		return h.handler.Handle(ctx, r)
	}

	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.sanitizeAttr(a))
		return true
	})
	return h.handler.Handle(ctx, clean)
}

// WithAttrs implements slog.Handler.
func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.active() {
		sanitized := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			sanitized[i] = h.sanitizeAttr(a)
		}
		attrs = sanitized
	}
	return &SanitizingHandler{
		handler:      h.handler.WithAttrs(attrs),
		sanitize:     h.sanitize,
		redactOutput: h.redactOutput,
	}
}

// WithGroup implements slog.Handler.
func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{
		handler:      h.handler.WithGroup(name),
		sanitize:     h.sanitize,
		redactOutput: h.redactOutput,
	}
}

func (h *SanitizingHandler) sanitizeAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if h.sanitize {
		for _, sensitive := range sensitiveKeys {
			if strings.Contains(key, sensitive) {
				return slog.String(a.Key, redacted)
			}
		}
	}
	if h.redactOutput && outputKeys[key] {
		return slog.String(a.Key, redacted)
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		sanitized := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			sanitized[i] = h.sanitizeAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(sanitized...)}
	}

	return a
}

// Options configures Setup.
type Options struct {
	Level        string // debug, info, warn, error
	Format       string // json or text
	Sanitize     bool
	RedactOutput bool
	Output       io.Writer // defaults to os.Stderr
}

// level is shared by every logger Setup installs so SetLevel can change it
// at runtime.
var level = new(slog.LevelVar)

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the level of the installed logger.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// Setup installs the default logger and returns it.
func Setup(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level.Set(ParseLevel(opts.Level))

	hopts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		base = slog.NewTextHandler(out, hopts)
	} else {
		base = slog.NewJSONHandler(out, hopts)
	}

	logger := slog.New(NewSanitizingHandler(base, opts.Sanitize, opts.RedactOutput))
	slog.SetDefault(logger)
	return logger
}

// Truncate shortens s for log previews.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 0 {
		maxLen = 0
	}
	return s[:maxLen] + "..."
}
