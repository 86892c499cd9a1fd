package chat

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned (wrapped in a SendError) when a send is
// attempted while the connection is not in the Connected state.
var ErrNotConnected = errors.New("not connected to chat")

// ErrAlreadyActive is returned by Start when a connection attempt is already
// in flight or established for this manager. Callers treat it as a no-op for
// the same room rather than opening a duplicate socket.
var ErrAlreadyActive = errors.New("chat connection already active")

// SendError reports a rejected outgoing message. Sends are never retried by
// the engine; retrying is a caller decision since the first attempt may have
// succeeded server-side.
type SendError struct {
	Reason string
	Err    error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chat send failed: %s: %v", e.Reason, e.Err)
	}
	return "chat send failed: " + e.Reason
}

func (e *SendError) Unwrap() error { return e.Err }

// TerminalError marks the connection as permanently failed after exhausting
// retries. It is distinguishable from transient drops so callers can present a
// persistent-failure UI instead of a spinner.
type TerminalError struct {
	Attempts int
	Cause    error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("chat connection failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *TerminalError) Unwrap() error { return e.Cause }
