// Package recording writes session transcripts in asciicast v2 format.
//
// Each session gets one file. Commands are recorded as input events and
// response fragments as output events, so a transcript can be replayed with
// asciinema. When compression is enabled the stream is zstd-encoded and the
// file is named .cast.zst.
package recording

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acolita/replsh/internal/ports"
	"github.com/klauspost/compress/zstd"
)

// Header is the asciicast v2 header.
// See: https://docs.asciinema.org/manual/asciicast/v2/
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event [time, type, data].
type Event struct {
	Time float64
	Type string
	Data string
}

// MarshalJSON encodes the event as a three-element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Time, e.Type, e.Data})
}

// Options describes one transcript.
type Options struct {
	Dir       string
	SessionID string
	Title     string // usually the session target
	Width     int
	Height    int
	Term      string
	Compress  bool
}

// Recorder appends events to a transcript file. It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	file      ports.FileHandle
	enc       *zstd.Encoder // nil when uncompressed
	w         io.Writer
	startTime time.Time
	closed    bool
	clock     ports.Clock
}

// NewRecorder creates the transcript file and writes its header.
func NewRecorder(opts Options, fs ports.FileSystem, clock ports.Clock) (*Recorder, error) {
	if err := fs.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	start := clock.Now()
	name := fmt.Sprintf("%s_%s.cast", opts.SessionID, start.Format("20060102_150405"))
	if opts.Compress {
		name += ".zst"
	}

	file, err := fs.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	r := &Recorder{
		file:      file,
		w:         file,
		startTime: start,
		clock:     clock,
	}
	if opts.Compress {
		enc, err := zstd.NewWriter(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		r.enc = enc
		r.w = enc
	}

	term := opts.Term
	if term == "" {
		term = "dumb"
	}
	header := Header{
		Version:   2,
		Width:     opts.Width,
		Height:    opts.Height,
		Timestamp: start.Unix(),
		Title:     opts.Title,
		Env:       map[string]string{"TERM": term},
	}
	if err := r.writeLine(header); err != nil {
		r.closeLocked()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return r, nil
}

// RecordInput records a command sent to the program.
func (r *Recorder) RecordInput(data string) error {
	return r.record("i", data)
}

// RecordOutput records a response fragment.
func (r *Recorder) RecordOutput(data string) error {
	return r.record("o", data)
}

func (r *Recorder) record(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	event := Event{
		Time: r.clock.Now().Sub(r.startTime).Seconds(),
		Type: eventType,
		Data: data,
	}
	if err := r.writeLine(event); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (r *Recorder) writeLine(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.w.Write(append(line, '\n'))
	return err
}

// Close flushes the compressor, if any, and closes the file. It is
// idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	r.closed = true

	var encErr error
	if r.enc != nil {
		encErr = r.enc.Close()
	}
	if err := r.file.Close(); err != nil {
		return err
	}
	return encErr
}

// Path returns the path to the recording file.
func (r *Recorder) Path() string {
	return r.file.Name()
}
