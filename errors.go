package chatsync

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a send is attempted while the connection
// state is not Connected. It is caller misuse, never retried by this package.
var ErrNotConnected = errors.New("chatsync: not connected")

// ConnectionError reports that the messaging endpoint could not be reached or
// the handshake failed after the retry budget was exhausted. During automatic
// reconnection it is absorbed into state transitions instead of surfaced.
type ConnectionError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("chatsync: connect %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
