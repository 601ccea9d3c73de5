// Package chat runs an interactive conversation with a remote program on a
// terminal.
//
// Each line typed by the user is sent to the program and the answer is
// printed as it streams in. Ctrl+C while an answer is streaming stops it and
// interrupts the program; Ctrl+C at the prompt, end of input, or "exit" or
// "quit" ends the conversation.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/acolita/replsh/internal/session"
)

// Conversation is the session the loop talks to.
type Conversation interface {
	Send(ctx context.Context, text string) (*session.Response, error)
	Interrupt() error
	Target() string
}

// Loop reads user lines and prints the program's answers.
type Loop struct {
	conv    Conversation
	in      io.Reader
	out     io.Writer
	signals <-chan os.Signal
	styles  Styles
	logger  *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithInput sets where user lines are read from (default os.Stdin).
func WithInput(r io.Reader) Option {
	return func(l *Loop) { l.in = r }
}

// WithOutput sets where the conversation is printed (default os.Stdout).
func WithOutput(w io.Writer) Option {
	return func(l *Loop) { l.out = w }
}

// WithSignals sets the channel that delivers Ctrl+C. Without it Ctrl+C is
// not handled by the loop.
func WithSignals(ch <-chan os.Signal) Option {
	return func(l *Loop) { l.signals = ch }
}

// WithStyles sets the text styles.
func WithStyles(s Styles) Option {
	return func(l *Loop) { l.styles = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New returns a loop over conv.
func New(conv Conversation, opts ...Option) *Loop {
	l := &Loop{
		conv:   conv,
		in:     os.Stdin,
		out:    os.Stdout,
		styles: NewStyles(DefaultTheme),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run converses until the user leaves or the session fails. Leaving returns
// nil; a failed session returns its error.
func (l *Loop) Run(ctx context.Context) error {
	lines := make(chan string)
	readDone := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		sc := bufio.NewScanner(l.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
		readDone <- sc.Err()
	}()

	l.println(l.styles.Info.Render(fmt.Sprintf(
		"Connected to %s. Type a message to start, 'exit' or 'quit' to leave.", l.conv.Target())))

	for {
		fmt.Fprint(l.out, l.styles.UserLabel.Render("you:")+" ")

		select {
		case <-ctx.Done():
			l.println("")
			return ctx.Err()

		case <-l.signals:
			l.println("")
			l.println(l.styles.Info.Render("Conversation interrupted."))
			return nil

		case err := <-readDone:
			l.println("")
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil

		case line := <-lines:
			text := strings.TrimSpace(line)
			if isExit(text) {
				l.println(l.styles.Info.Render("Conversation ended."))
				return nil
			}
			if text == "" {
				continue
			}
			if err := l.exchange(ctx, text); err != nil {
				l.println(l.styles.Error.Render("error: " + err.Error()))
				return err
			}
		}
	}
}

type item struct {
	fragment string
	err      error
}

// exchange sends one line and prints the answer. The answer is read on a
// worker goroutine so Ctrl+C can abandon it.
func (l *Loop) exchange(ctx context.Context, text string) error {
	resp, err := l.conv.Send(ctx, text)
	if err != nil {
		var blocked *session.BlockedCommandError
		if errors.As(err, &blocked) {
			l.println(l.styles.Error.Render(blocked.Error()))
			return nil
		}
		return err
	}

	fmt.Fprint(l.out, l.styles.ModelLabel.Render("model:")+" ")

	items := make(chan item)
	go func() {
		defer close(items)
		for fragment, err := range resp.All(ctx) {
			items <- item{fragment: fragment, err: err}
		}
	}()

	for {
		select {
		case it, ok := <-items:
			if !ok {
				l.println("")
				return nil
			}
			if it.err != nil {
				l.println("")
				return it.err
			}
			fmt.Fprint(l.out, it.fragment)

		case <-l.signals:
			resp.Close()
			for range items {
			}
			if err := l.conv.Interrupt(); err != nil {
				l.logger.Warn("interrupt failed", slog.String("error", err.Error()))
			}
			l.println("")
			l.println(l.styles.Info.Render("(stopped)"))
			return nil
		}
	}
}

func (l *Loop) println(s string) {
	fmt.Fprintln(l.out, s)
}

func isExit(text string) bool {
	switch strings.ToLower(text) {
	case "exit", "quit":
		return true
	}
	return false
}
