package session

import (
	"errors"
	"fmt"
)

// ErrIllegalState is the root of every misuse error: the call is not valid in
// the controller's current state.
var ErrIllegalState = errors.New("illegal session state")

var (
	// ErrCommandInFlight rejects Send while a previous Response is neither
	// terminal nor abandoned.
	ErrCommandInFlight = fmt.Errorf("%w: command already in flight", ErrIllegalState)

	// ErrNotConnected rejects operations before Connect or after the channel
	// failed.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrIllegalState)

	// ErrAlreadyConnected rejects a second Connect.
	ErrAlreadyConnected = fmt.Errorf("%w: already connected", ErrIllegalState)

	// ErrClosed rejects every operation after Close. A response still in
	// flight at Close reads it too.
	ErrClosed = fmt.Errorf("%w: session closed", ErrIllegalState)
)

// ErrResizeUnsupported is returned by Resize when the channel has no window.
var ErrResizeUnsupported = errors.New("channel does not support resize")

// ErrStreamClosed reports that the remote end closed the stream before a
// sentinel was seen. The response may be truncated.
var ErrStreamClosed = errors.New("stream closed before sentinel")

// ConnectionError reports a failure to establish the session: the transport
// could not be opened or the stream ended during the handshake.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports a read, write or interrupt failure on an
// established channel. It is fatal to the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BlockedCommandError reports a command rejected by the command filter.
// Nothing was written to the channel.
type BlockedCommandError struct {
	Command string
	Reason  error
}

func (e *BlockedCommandError) Error() string {
	return fmt.Sprintf("command blocked: %v", e.Reason)
}

func (e *BlockedCommandError) Unwrap() error { return e.Reason }
