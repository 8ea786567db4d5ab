package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/wyzesense-bridge/internal/gateway"
)

// Sentinel errors for bridge operations.
var (
	// ErrMalformedEvent indicates a sensor event the pipeline cannot translate.
	ErrMalformedEvent = errors.New("malformed sensor event")

	// ErrBrokerUnavailable indicates the MQTT client is not connected.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrPublishTimeout indicates the broker did not acknowledge a publish in time.
	ErrPublishTimeout = errors.New("publish timed out")

	// ErrScanQueueFull indicates a scan command was dropped because enough
	// scans are already waiting.
	ErrScanQueueFull = errors.New("scan queue full")
)

// ErrorKind tags a failure in the event path.
type ErrorKind int

const (
	// KindUnknown is anything that does not match a more specific kind.
	KindUnknown ErrorKind = iota

	// KindConnection means the broker or gateway was not reachable.
	KindConnection

	// KindTimeout means a hardware or network operation timed out.
	KindTimeout

	// KindMalformedEvent means the event itself could not be translated.
	KindMalformedEvent
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindMalformedEvent:
		return "malformed_event"
	default:
		return "unknown"
	}
}

// EventError is the result of a failed event translation.
type EventError struct {
	Kind ErrorKind
	MAC  string
	Err  error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("sensor %s: %s: %v", e.MAC, e.Kind, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// newEventError tags err with the kind derived from its chain.
func newEventError(mac string, err error) *EventError {
	return &EventError{Kind: classify(err), MAC: mac, Err: err}
}

// classify maps an error chain onto an ErrorKind.
func classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrMalformedEvent):
		return KindMalformedEvent
	case errors.Is(err, ErrPublishTimeout),
		errors.Is(err, gateway.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrBrokerUnavailable),
		errors.Is(err, gateway.ErrNotConnected),
		errors.Is(err, gateway.ErrSessionClosed):
		return KindConnection
	default:
		return KindUnknown
	}
}
