package ports

import (
	"context"
	"io"
)

// Channel is the raw duplex byte stream to an interactive program.
// Reads block until bytes arrive, the stream ends (io.EOF) or the channel
// fails. Close must unblock a pending Read.
type Channel interface {
	io.ReadWriteCloser

	// Interrupt sends an interrupt (Ctrl+C) to the program on the other end.
	Interrupt() error
}

// Resizer is implemented by channels backed by a terminal window.
type Resizer interface {
	Resize(rows, cols uint16) error
}

// Transport establishes Channels. The SSH and local PTY adapters implement it.
type Transport interface {
	// Open establishes a new channel. Implementations must honor ctx while
	// dialing and must not leak connections on failure.
	Open(ctx context.Context) (Channel, error)

	// Target describes the endpoint for logs and errors, e.g. "alice@gpu:22".
	Target() string
}
