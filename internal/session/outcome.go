package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/acolita/replsh/internal/parser"
)

// Status summarises how a command ended.
type Status string

const (
	StatusCompleted Status = "completed" // prompt sentinel
	StatusAborted   Status = "aborted"   // abort sentinel
	StatusClosed    Status = "closed"    // stream or session ended before a sentinel
	StatusTimeout   Status = "timeout"   // caller deadline expired
	StatusError     Status = "error"
)

// Outcome is the collected answer to one command.
type Outcome struct {
	Status    Status
	Output    string
	Fragments int
	Err       error
}

// Run sends command and collects the whole answer. When ctx expires first
// the response is abandoned and the program interrupted, and the partial
// output is returned with StatusTimeout.
func (c *Controller) Run(ctx context.Context, command string) (Outcome, error) {
	resp, err := c.Send(ctx, command)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	var sb strings.Builder
	for {
		res := resp.Next(ctx)
		if res.Kind == KindFragment {
			sb.WriteString(res.Fragment)
			out.Fragments++
			continue
		}

		out.Output = sb.String()
		out.Status, out.Err = statusOf(res)
		if out.Status == StatusTimeout {
			if err := c.Interrupt(); err != nil {
				c.logger.Warn("interrupt after timeout failed", slog.String("error", err.Error()))
			}
		}
		return out, nil
	}
}

func statusOf(res Result) (Status, error) {
	switch {
	case res.Kind == KindEnd && res.Reason == parser.ReasonAbort:
		return StatusAborted, nil
	case res.Kind == KindEnd:
		return StatusCompleted, nil
	case errors.Is(res.Err, context.DeadlineExceeded):
		return StatusTimeout, res.Err
	case errors.Is(res.Err, ErrStreamClosed), errors.Is(res.Err, ErrClosed):
		return StatusClosed, res.Err
	default:
		return StatusError, res.Err
	}
}
