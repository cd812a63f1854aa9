package realtime

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrSendWhileDisconnected is the non-fatal notice for a dropped send.
	ErrSendWhileDisconnected = errors.New("not connected, message dropped")
	// ErrSendQueueFull means the connection is up but its outbound queue is
	// saturated; the message was dropped.
	ErrSendQueueFull = errors.New("send queue full, message dropped")
	// ErrReconnectExhausted is terminal for the session. The manager stays
	// disconnected until Connect is called again.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ConnectionError reports a transport that failed to open or dropped
// abnormally.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
