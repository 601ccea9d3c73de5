package session

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/acolita/replsh/internal/demux"
	"github.com/acolita/replsh/internal/logging"
	"github.com/acolita/replsh/internal/parser"
)

// ErrAbandoned is returned by Next after the response was closed before it
// reached a sentinel.
var ErrAbandoned = errors.New("response abandoned")

// Kind tags a Result.
type Kind int

const (
	// KindFragment carries one piece of the answer.
	KindFragment Kind = iota
	// KindEnd means a sentinel ended the answer. Reason says which.
	KindEnd
	// KindError means the answer ended without a sentinel. Err says why.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindFragment:
		return "fragment"
	case KindEnd:
		return "end"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is one step of a Response.
type Result struct {
	Kind     Kind
	Fragment string        // set for KindFragment, never empty
	Reason   parser.Reason // set for KindEnd
	Err      error         // set for KindError
}

// Terminal reports whether no further results follow.
func (r Result) Terminal() bool {
	return r.Kind != KindFragment
}

// Response is the single-pass answer to one command. Next must be called
// from one goroutine at a time; Close may be called from any goroutine.
type Response struct {
	ctrl *Controller
	dm   *demux.Demux

	mu      sync.Mutex
	parser  *parser.Parser
	pending *Result // terminal result that follows the last fragment
	final   *Result

	state       atomic.Int32
	abandoned   atomic.Bool
	ownerClosed atomic.Bool // the controller was closed
}

// Next blocks until the next fragment, the end of the answer or a failure.
// Once a terminal result is returned, every later call returns it again.
//
// When ctx is cancelled the response is abandoned and ctx.Err() returned.
// After Controller.Close it returns ErrClosed.
// The stream ending before a sentinel yields ErrStreamClosed; a read failure
// yields a *TransportError. Both close the session.
func (r *Response) Next(ctx context.Context) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.final != nil {
		return *r.final
	}
	if r.pending != nil {
		return r.finish(*r.pending)
	}

	for {
		if res, ok := r.stopped(); ok {
			return r.finish(res)
		}

		r.ctrl.pollMu.Lock()
		text, err := r.dm.Poll(ctx)
		r.ctrl.pollMu.Unlock()

		if res, ok := r.stopped(); ok {
			return r.finish(res)
		}
		if err != nil {
			return r.fail(ctx, err)
		}
		if text == "" {
			continue
		}

		fragment, ok := r.parser.Feed(text)
		r.state.Store(int32(r.parser.State()))

		if r.parser.State() == parser.Terminated {
			end := Result{Kind: KindEnd, Reason: r.parser.Reason()}
			if !ok {
				return r.finish(end)
			}
			r.pending = &end
			return r.fragment(fragment)
		}
		if ok {
			return r.fragment(fragment)
		}
	}
}

// stopped reports the terminal result of a response ended from outside:
// ErrClosed when the controller was closed, ErrAbandoned when the response was.
func (r *Response) stopped() (Result, bool) {
	switch {
	case r.ownerClosed.Load():
		return Result{Kind: KindError, Err: ErrClosed}, true
	case r.abandoned.Load():
		return Result{Kind: KindError, Err: ErrAbandoned}, true
	}
	return Result{}, false
}

func (r *Response) fragment(text string) Result {
	r.ctrl.record(false, text)
	r.ctrl.logger.Debug("fragment", slog.String("fragment", logging.Truncate(text, logTextLimit)))
	return Result{Kind: KindFragment, Fragment: text}
}

// fail converts a poll error into the terminal result.
func (r *Response) fail(ctx context.Context, err error) Result {
	switch {
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		r.abandoned.Store(true)
		return r.finish(Result{Kind: KindError, Err: err})

	case errors.Is(err, io.EOF):
		r.ctrl.logger.Warn("stream closed before sentinel", slog.String("state", r.parser.State().String()))
		r.ctrl.fail(r)
		return r.finish(Result{Kind: KindError, Err: ErrStreamClosed})

	default:
		r.ctrl.logger.Error("read failed", slog.String("error", err.Error()))
		r.ctrl.fail(r)
		return r.finish(Result{Kind: KindError, Err: &TransportError{Op: "read", Err: err}})
	}
}

// finish makes res the sticky terminal result and frees the controller for
// the next command.
func (r *Response) finish(res Result) Result {
	r.final = &res
	r.pending = nil
	r.state.Store(int32(parser.Terminated))
	r.ctrl.release(r)

	if res.Kind == KindEnd {
		r.ctrl.logger.Debug("response complete", slog.String("reason", res.Reason.String()))
	}
	return res
}

// Reason returns the sentinel that ended the answer, or ReasonNone while it
// is in progress or when it ended with an error.
func (r *Response) Reason() parser.Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.final == nil || r.final.Kind != KindEnd {
		return parser.ReasonNone
	}
	return r.final.Reason
}

// Close abandons the response and frees the controller for the next
// command. Output the program still produces for it is discarded by the
// next Send. Close is idempotent and a no-op on a finished response.
func (r *Response) Close() {
	if r.abandoned.Swap(true) {
		return
	}
	r.ctrl.release(r)
}

// All returns an iterator over the fragments. Iteration stops at the
// sentinel. A failure is yielded once as ("", err). Breaking out of the loop
// abandons the response.
func (r *Response) All(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			res := r.Next(ctx)
			switch res.Kind {
			case KindFragment:
				if !yield(res.Fragment, nil) {
					r.Close()
					return
				}
			case KindEnd:
				return
			default:
				yield("", res.Err)
				return
			}
		}
	}
}

// Collect concatenates the fragments. On failure it returns what arrived
// before the error together with the error.
func (r *Response) Collect(ctx context.Context) (string, error) {
	var sb strings.Builder
	for fragment, err := range r.All(ctx) {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(fragment)
	}
	return sb.String(), nil
}
