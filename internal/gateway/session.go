package gateway

import (
	"context"
	"time"
)

// EventType distinguishes alarm records reported by a sensor.
type EventType int

const (
	// EventState is a state change (door opened, motion detected...).
	EventState EventType = iota
	// EventStatus is a periodic heartbeat carrying battery and signal only.
	EventStatus
	// EventOther is any record the driver could frame but not classify.
	EventOther
)

func (t EventType) String() string {
	switch t {
	case EventState:
		return "state"
	case EventStatus:
		return "status"
	default:
		return "other"
	}
}

// SensorKind is the physical sensor family.
type SensorKind string

const (
	KindMotion  SensorKind = "motion"
	KindContact SensorKind = "contact"
	KindUnknown SensorKind = "unknown"
)

// SensorEvent is one decoded alarm record from a paired sensor.
type SensorEvent struct {
	// MAC is the sensor's 8-character hardware address.
	MAC string

	Type EventType
	Kind SensorKind

	// RawState is "open"/"closed" for contact sensors and
	// "active"/"inactive" for motion sensors.
	RawState string

	BatteryPercent int

	// SignalRssiRaw is the unsigned signal figure reported by the gateway.
	SignalRssiRaw int

	Timestamp time.Time
}

// ScanResult describes a sensor that answered during a scan window.
type ScanResult struct {
	MAC        string
	SensorType byte
	Version    byte
}

// SessionInfo identifies the gateway behind an open session.
type SessionInfo struct {
	MAC     string
	Version string
}

// Session is an open connection to the gateway hardware.
//
// Implementations must be safe for concurrent use, although the Connector
// never issues two commands at once.
type Session interface {
	// List returns the MACs of every sensor paired with the gateway.
	List(ctx context.Context) ([]string, error)

	// Scan opens the pairing window and blocks until a sensor joins or the
	// window closes. A nil result with a nil error means nothing joined.
	Scan(ctx context.Context) (*ScanResult, error)

	// Ping round-trips a cheap command to prove the gateway still answers.
	Ping(ctx context.Context) error

	// Done is closed when the session dies (read error, unplug, Close).
	Done() <-chan struct{}

	// Err reports why Done was closed.
	Err() error

	Info() SessionInfo

	Close() error
}

// Driver opens hardware sessions. onEvent is called from the driver's read
// loop for every decoded sensor event and must not block.
type Driver interface {
	Open(ctx context.Context, onEvent func(SensorEvent)) (Session, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
