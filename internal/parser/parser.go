// Package parser turns the raw output of an interactive program into response
// fragments.
//
// The program echoes each command back before answering, and signals the end
// of an answer with a sentinel character instead of any framing. A Parser is
// fed decoded text segments in receipt order. It drops the echoed line and
// then passes text through until the first sentinel.
package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// State is the position of the parser within one command cycle.
type State int

const (
	// AwaitingEcho discards text until the first line terminator.
	AwaitingEcho State = iota
	// Streaming emits text until a sentinel is seen.
	Streaming
	// Terminated ignores all further input until Reset.
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingEcho:
		return "awaiting_echo"
	case Streaming:
		return "streaming"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason records which sentinel terminated a cycle.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonPrompt means the program returned to its idle prompt.
	ReasonPrompt
	// ReasonAbort means the program emitted the administrative marker.
	ReasonAbort
)

func (r Reason) String() string {
	switch r {
	case ReasonPrompt:
		return "prompt"
	case ReasonAbort:
		return "abort"
	default:
		return "none"
	}
}

// Sentinels are the delimiter characters of the remote program.
type Sentinels struct {
	Prompt         rune // idle prompt, command complete
	Abort          rune // forced or administrative stop
	LineTerminator rune // ends the echoed command line
}

// DefaultSentinels returns '>' for the prompt, '#' for abort and '\n' as the
// line terminator.
func DefaultSentinels() Sentinels {
	return Sentinels{
		Prompt:         '>',
		Abort:          '#',
		LineTerminator: '\n',
	}
}

// Validate checks that all three characters are set and pairwise distinct.
func (s Sentinels) Validate() error {
	if s.Prompt == 0 || s.Abort == 0 || s.LineTerminator == 0 {
		return fmt.Errorf("sentinels must be non-zero: prompt=%q abort=%q line=%q", s.Prompt, s.Abort, s.LineTerminator)
	}
	if s.Prompt == s.Abort {
		return fmt.Errorf("prompt and abort sentinels must differ (both %q)", s.Prompt)
	}
	if s.LineTerminator == s.Prompt || s.LineTerminator == s.Abort {
		return fmt.Errorf("line terminator %q collides with a sentinel", s.LineTerminator)
	}
	return nil
}

// ParseRune converts a one-character config value into a rune.
func ParseRune(name, value string) (rune, error) {
	if utf8.RuneCountInString(value) != 1 {
		return 0, fmt.Errorf("%s must be exactly one character, got %q", name, value)
	}
	r, _ := utf8.DecodeRuneInString(value)
	if r == utf8.RuneError {
		return 0, fmt.Errorf("%s is not valid UTF-8: %q", name, value)
	}
	return r, nil
}

// Parser is the per-command state machine. It is not safe for concurrent use;
// the session controller serialises access.
type Parser struct {
	sentinels Sentinels
	state     State
	reason    Reason

	// pending holds text received while awaiting the echo terminator.
	pending strings.Builder
	echo    string
}

// New returns a parser in the Terminated state. Call Reset when a command is
// sent.
func New(s Sentinels) (*Parser, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Parser{sentinels: s, state: Terminated}, nil
}

// Reset starts a new command cycle.
func (p *Parser) Reset() {
	p.state = AwaitingEcho
	p.reason = ReasonNone
	p.pending.Reset()
	p.echo = ""
}

// State returns the current state.
func (p *Parser) State() State { return p.state }

// Reason returns why the last cycle terminated, or ReasonNone.
func (p *Parser) Reason() Reason { return p.reason }

// Sentinels returns the configured sentinel set.
func (p *Parser) Sentinels() Sentinels { return p.sentinels }

// Echo returns the text discarded as echo in the current cycle, including the
// line terminator. It is empty until the echo line is complete.
func (p *Parser) Echo() string { return p.echo }

// Feed consumes one segment. It returns the fragment to deliver, if any.
// A segment yields at most one fragment. Empty fragments are never produced.
func (p *Parser) Feed(segment string) (string, bool) {
	switch p.state {
	case AwaitingEcho:
		p.pending.WriteString(segment)
		buffered := p.pending.String()
		i := strings.IndexRune(buffered, p.sentinels.LineTerminator)
		if i < 0 {
			return "", false
		}
		end := i + utf8.RuneLen(p.sentinels.LineTerminator)
		p.echo = buffered[:end]
		p.pending.Reset()
		p.state = Streaming
		return p.stream(buffered[end:])

	case Streaming:
		return p.stream(segment)

	default:
		return "", false
	}
}

func (p *Parser) stream(segment string) (string, bool) {
	cut := strings.IndexFunc(segment, func(r rune) bool {
		return r == p.sentinels.Prompt || r == p.sentinels.Abort
	})
	if cut < 0 {
		return segment, segment != ""
	}

	r, _ := utf8.DecodeRuneInString(segment[cut:])
	if r == p.sentinels.Abort {
		p.reason = ReasonAbort
	} else {
		p.reason = ReasonPrompt
	}
	p.state = Terminated

	return segment[:cut], cut > 0
}
