package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected indicates no gateway session is currently open.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrConnectionFailed indicates Connect gave up, which only happens when
	// its context ends or the connector is closed.
	ErrConnectionFailed = errors.New("gateway: connection failed")

	// ErrTimeout indicates the gateway did not answer a command in time.
	ErrTimeout = errors.New("gateway: command timeout")

	// ErrSessionClosed indicates the session was closed while a command was
	// in flight, or was used after Close.
	ErrSessionClosed = errors.New("gateway: session closed")

	// ErrClosed indicates the connector itself has been closed.
	ErrClosed = errors.New("gateway: connector closed")
)

// ConnectionError is a failed attempt to open the hardware session.
// The connect loop retries these indefinitely.
type ConnectionError struct {
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("gateway: open attempt %d: %v", e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
