package recording

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acolita/replsh/internal/config"
	"github.com/acolita/replsh/internal/testing/fakes/fakeclock"
	"github.com/acolita/replsh/internal/testing/fakes/fakefs"
	"github.com/klauspost/compress/zstd"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRecorder(t *testing.T, compress bool) (*Recorder, *fakefs.FS, *fakeclock.Clock) {
	t.Helper()
	fs := fakefs.New()
	clk := fakeclock.New(start)
	r, err := NewRecorder(Options{
		Dir:       "/rec",
		SessionID: "s1",
		Title:     "alice@gpu:22",
		Width:     120,
		Height:    24,
		Compress:  compress,
	}, fs, clk)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	return r, fs, clk
}

// readCast returns the header and events of a transcript in fs.
func readCast(t *testing.T, fs *fakefs.FS, path string) (Header, [][]any) {
	t.Helper()

	data, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	var r io.Reader = bytes.NewReader(data)
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(r)
		if err != nil {
			t.Fatalf("zstd.NewReader() error = %v", err)
		}
		defer dec.Close()
		r = dec
	}

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		t.Fatal("recording has no header line")
	}
	var header Header
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}

	var events [][]any
	for scanner.Scan() {
		var ev []any
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshal event %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan recording: %v", err)
	}
	return header, events
}

func TestEventMarshalJSON(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Event{Time: 1.5, Type: "o", Data: "hello"}, `[1.5,"o","hello"]`},
		{Event{Time: 0, Type: "i", Data: "hi\n"}, `[0,"i","hi\n"]`},
		{Event{Time: 0.5, Type: "o", Data: "世界"}, `[0.5,"o","世界"]`},
		{Event{Time: 1, Type: "o", Data: `"q" \b`}, `[1,"o","\"q\" \\b"]`},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.event)
		if err != nil {
			t.Fatalf("MarshalJSON() error = %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("MarshalJSON() = %s, want %s", got, tt.want)
		}
	}
}

func TestRecorder_WritesHeaderAndEvents(t *testing.T) {
	r, fs, clk := newTestRecorder(t, false)

	if !strings.HasPrefix(r.Path(), "/rec/s1_20240301_120000") || !strings.HasSuffix(r.Path(), ".cast") {
		t.Errorf("Path() = %q", r.Path())
	}

	r.RecordInput("tell me a joke")
	clk.Advance(1500 * time.Millisecond)
	r.RecordOutput("Why did")
	clk.Advance(500 * time.Millisecond)
	r.RecordOutput(" the chicken")
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	header, events := readCast(t, fs, r.Path())
	if header.Version != 2 || header.Width != 120 || header.Height != 24 {
		t.Errorf("header = %+v", header)
	}
	if header.Timestamp != start.Unix() {
		t.Errorf("header.Timestamp = %d, want %d", header.Timestamp, start.Unix())
	}
	if header.Title != "alice@gpu:22" || header.Env["TERM"] != "dumb" {
		t.Errorf("header = %+v", header)
	}

	want := [][]any{
		{float64(0), "i", "tell me a joke"},
		{1.5, "o", "Why did"},
		{float64(2), "o", " the chicken"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(events), len(want), events)
	}
	for i := range want {
		for j := range want[i] {
			if events[i][j] != want[i][j] {
				t.Errorf("event %d = %v, want %v", i, events[i], want[i])
				break
			}
		}
	}
}

func TestRecorder_Compressed(t *testing.T) {
	r, fs, _ := newTestRecorder(t, true)
	if !strings.HasSuffix(r.Path(), ".cast.zst") {
		t.Errorf("Path() = %q, want .cast.zst suffix", r.Path())
	}

	r.RecordInput("hello")
	r.RecordOutput("Hi there")
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	header, events := readCast(t, fs, r.Path())
	if header.Version != 2 {
		t.Errorf("header.Version = %d, want 2", header.Version)
	}
	if len(events) != 2 || events[1][2] != "Hi there" {
		t.Errorf("events = %v", events)
	}
}

func TestRecorder_CloseIdempotentAndStopsRecording(t *testing.T) {
	r, fs, _ := newTestRecorder(t, false)

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := r.RecordOutput("late"); err != nil {
		t.Errorf("RecordOutput() after Close = %v, want nil", err)
	}

	_, events := readCast(t, fs, r.Path())
	if len(events) != 0 {
		t.Errorf("events after Close = %v, want none", events)
	}
}

func TestNewRecorder_OpenError(t *testing.T) {
	fs := fakefs.New()
	fs.OpenErr = errors.New("read-only file system")

	_, err := NewRecorder(Options{Dir: "/rec", SessionID: "s1"}, fs, fakeclock.New(start))
	if err == nil || !strings.Contains(err.Error(), "create recording file") {
		t.Errorf("NewRecorder() error = %v", err)
	}
}

func TestRecorder_ConcurrentWrites(t *testing.T) {
	r, fs, _ := newTestRecorder(t, false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				r.RecordOutput("x")
			}
		}()
	}
	wg.Wait()
	r.Close()

	_, events := readCast(t, fs, r.Path())
	if len(events) != 200 {
		t.Errorf("got %d events, want 200", len(events))
	}
}

func TestManager_Disabled(t *testing.T) {
	m := NewManager(Settings{Dir: "/rec"}, fakefs.New(), fakeclock.New(start))

	rec, err := m.Start("s1", "t")
	if err != nil || rec != nil {
		t.Errorf("Start() = %v, %v, want nil, nil when disabled", rec, err)
	}
	if m.IsEnabled() {
		t.Error("IsEnabled() = true, want false")
	}
}

func TestManager_Lifecycle(t *testing.T) {
	fs := fakefs.New()
	clk := fakeclock.New(start)
	m := NewManager(Settings{Enabled: true, Dir: "/rec", Width: 80, Height: 24}, fs, clk)

	rec, err := m.Start("s1", "local:python3")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if m.Path("s1") != rec.Path() {
		t.Errorf("Path(s1) = %q, want %q", m.Path("s1"), rec.Path())
	}

	rec.RecordInput("1+1")
	if err := m.Stop("s1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.Path("s1") != "" {
		t.Error("Path() after Stop should be empty")
	}
	if err := m.Stop("s1"); err != nil {
		t.Errorf("Stop(unknown) error = %v", err)
	}

	header, events := readCast(t, fs, rec.Path())
	if header.Width != 80 || len(events) != 1 {
		t.Errorf("header = %+v, events = %v", header, events)
	}
}

func TestManager_UpdateAffectsNewSessions(t *testing.T) {
	fs := fakefs.New()
	clk := fakeclock.New(start)
	m := NewManager(Settings{Enabled: true, Dir: "/rec"}, fs, clk)

	first, err := m.Start("s1", "")
	if err != nil {
		t.Fatal(err)
	}
	m.Update(Settings{Enabled: true, Dir: "/rec2", Compress: true})

	second, err := m.Start("s2", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(second.Path(), "/rec2/") || !strings.HasSuffix(second.Path(), ".zst") {
		t.Errorf("second.Path() = %q, want /rec2/... .zst", second.Path())
	}
	if !strings.HasPrefix(first.Path(), "/rec/") {
		t.Errorf("first.Path() = %q, want unchanged", first.Path())
	}

	m.CloseAll()
	if m.Path("s1") != "" || m.Path("s2") != "" {
		t.Error("CloseAll() should forget all recorders")
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Recording.Enabled = true
	cfg.Recording.Path = "/var/rec"
	cfg.Recording.Compress = true
	cfg.Session.Cols = 80

	got := SettingsFromConfig(cfg)
	want := Settings{Enabled: true, Dir: "/var/rec", Compress: true, Width: 80, Height: 24, Term: "dumb"}
	if got != want {
		t.Errorf("SettingsFromConfig() = %+v, want %+v", got, want)
	}
}
