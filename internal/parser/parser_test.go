package parser

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParser(t *testing.T) *Parser {
	t.Helper()
	p, err := New(DefaultSentinels())
	require.NoError(t, err)
	p.Reset()
	return p
}

// feedAll feeds segments until the parser terminates and returns the fragments.
func feedAll(p *Parser, segments ...string) []string {
	var out []string
	for _, seg := range segments {
		if frag, ok := p.Feed(seg); ok {
			out = append(out, frag)
		}
		if p.State() == Terminated {
			break
		}
	}
	return out
}

func TestNew_StartsTerminated(t *testing.T) {
	p, err := New(DefaultSentinels())
	require.NoError(t, err)
	assert.Equal(t, Terminated, p.State())

	_, ok := p.Feed("anything\n")
	assert.False(t, ok, "parser must ignore input before the first Reset")
}

func TestSentinels_Validate(t *testing.T) {
	tests := []struct {
		name    string
		s       Sentinels
		wantErr string
	}{
		{name: "defaults", s: DefaultSentinels()},
		{name: "zero prompt", s: Sentinels{Abort: '#', LineTerminator: '\n'}, wantErr: "non-zero"},
		{name: "same prompt and abort", s: Sentinels{Prompt: '>', Abort: '>', LineTerminator: '\n'}, wantErr: "must differ"},
		{name: "terminator collides", s: Sentinels{Prompt: '\n', Abort: '#', LineTerminator: '\n'}, wantErr: "collides"},
		{name: "unicode sentinels", s: Sentinels{Prompt: '»', Abort: '§', LineTerminator: '\n'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseRune(t *testing.T) {
	r, err := ParseRune("prompt", ">")
	require.NoError(t, err)
	assert.Equal(t, '>', r)

	r, err = ParseRune("prompt", "»")
	require.NoError(t, err)
	assert.Equal(t, '»', r)

	_, err = ParseRune("prompt", "")
	assert.Error(t, err)
	_, err = ParseRune("prompt", ">>")
	assert.Error(t, err)
}

func TestFeed_ListingTerminatesOnPrompt(t *testing.T) {
	p := newParser(t)

	got := feedAll(p, "ls\n file1 file2\n>")

	assert.Equal(t, []string{" file1 file2\n"}, got)
	assert.Equal(t, Terminated, p.State())
	assert.Equal(t, ReasonPrompt, p.Reason())
	assert.Equal(t, "ls\n", p.Echo())
}

func TestFeed_ErrorTerminatesOnAbort(t *testing.T) {
	p := newParser(t)

	got := feedAll(p, "badcmd\nerror: unknown#")

	assert.Equal(t, []string{"error: unknown"}, got)
	assert.Equal(t, ReasonAbort, p.Reason())
}

func TestFeed_EchoSplitAcrossSegments(t *testing.T) {
	p := newParser(t)

	got := feedAll(p, "hel", "lo wor", "ld\r", "\nanswer", " text", ">")

	assert.Equal(t, []string{"answer", " text"}, got)
	assert.Equal(t, "hello world\r\n", p.Echo())
}

func TestFeed_EchoOnlySegmentYieldsNothing(t *testing.T) {
	p := newParser(t)

	frag, ok := p.Feed("what is go?\n")
	assert.False(t, ok)
	assert.Empty(t, frag)
	assert.Equal(t, Streaming, p.State())
}

func TestFeed_ZeroBytesBeforeSentinelYieldsNoFragment(t *testing.T) {
	p := newParser(t)

	got := feedAll(p, "cmd\n", ">")

	assert.Empty(t, got)
	assert.Equal(t, Terminated, p.State())
	assert.Equal(t, ReasonPrompt, p.Reason())
}

func TestFeed_LowestIndexSentinelWins(t *testing.T) {
	tests := []struct {
		name       string
		segment    string
		wantFrag   string
		wantReason Reason
	}{
		{name: "prompt first", segment: "a>b#", wantFrag: "a", wantReason: ReasonPrompt},
		{name: "abort first", segment: "a#b>", wantFrag: "a", wantReason: ReasonAbort},
		{name: "abort at start", segment: "#>", wantFrag: "", wantReason: ReasonAbort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newParser(t)
			p.Feed("x\n")

			frag, _ := p.Feed(tt.segment)
			assert.Equal(t, tt.wantFrag, frag)
			assert.Equal(t, tt.wantReason, p.Reason())
		})
	}
}

func TestFeed_SentinelInsideEchoLineIsIgnored(t *testing.T) {
	p := newParser(t)

	// The echoed command contains both sentinel characters.
	got := feedAll(p, "echo a>b # c\n", "a>")

	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, "echo a>b # c\n", p.Echo())
}

func TestFeed_TerminatedIgnoresInput(t *testing.T) {
	p := newParser(t)
	feedAll(p, "x\n", "done>")

	frag, ok := p.Feed("late output")
	assert.False(t, ok)
	assert.Empty(t, frag)
}

func TestReset_RestartsCycle(t *testing.T) {
	p := newParser(t)
	feedAll(p, "first\n", "one>")
	require.Equal(t, Terminated, p.State())

	p.Reset()
	assert.Equal(t, AwaitingEcho, p.State())
	assert.Equal(t, ReasonNone, p.Reason())

	got := feedAll(p, "second\n", "two>")
	assert.Equal(t, []string{"two"}, got)
}

func TestReset_DiscardsPartialEcho(t *testing.T) {
	p := newParser(t)
	p.Feed("abandoned comm")

	p.Reset()
	got := feedAll(p, "next\n", "ok>")
	assert.Equal(t, []string{"ok"}, got)
	assert.Equal(t, "next\n", p.Echo())
}

func TestFeed_FirstFragmentNeverContainsCommand(t *testing.T) {
	commands := []string{"ls", "print(1+1)", "SELECT * FROM t;", "你好"}
	for _, cmd := range commands {
		t.Run(cmd, func(t *testing.T) {
			p := newParser(t)
			got := feedAll(p, cmd+"\r\n", "reply\n", ">")
			require.NotEmpty(t, got)
			assert.NotContains(t, got[0], cmd)
		})
	}
}

// TestFeed_RoundTrip splits random post-echo payloads at random points and
// checks the fragments concatenate back to the payload.
func TestFeed_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abc xyz\r\n\t01é世")

	for i := 0; i < 200; i++ {
		n := rng.Intn(64)
		var payload strings.Builder
		for j := 0; j < n; j++ {
			payload.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		stream := "cmd\n" + payload.String() + ">trailing"

		var segments []string
		rest := stream
		for rest != "" {
			k := 1 + rng.Intn(8)
			if k > len(rest) {
				k = len(rest)
			}
			segments = append(segments, rest[:k])
			rest = rest[k:]
		}

		p := newParser(t)
		got := feedAll(p, segments...)

		require.Equal(t, payload.String(), strings.Join(got, ""), "iteration %d segments %q", i, segments)
		for _, frag := range got {
			require.NotEmpty(t, frag)
		}
		require.Equal(t, Terminated, p.State())
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_echo", AwaitingEcho.String())
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "abort", ReasonAbort.String())
}
