package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/wyzesense-bridge/internal/gateway"
)

// observedAtLayout is ISO-8601 with millisecond precision.
const observedAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Telemetry is the JSON document published for each sensor state event.
type Telemetry struct {
	Available   bool   `json:"available"`
	MAC         string `json:"mac"`
	State       int    `json:"state"`
	DeviceClass string `json:"device_class"`
	ObservedAt  string `json:"device_class_timestamp"`
	RSSI        int    `json:"rssi"`
	Battery     int    `json:"battery_level"`
}

// NewTelemetry derives the published record from a sensor event.
//
// State is 1 for "open" and "active" and 0 otherwise. The second result is
// false when RawState is not one of the four known values; the state is
// still reported as 0.
func NewTelemetry(ev gateway.SensorEvent) (Telemetry, bool) {
	state, known := stateValue(ev.RawState)

	deviceClass := "device door"
	if ev.Kind == gateway.KindMotion {
		deviceClass = "device motion"
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return Telemetry{
		Available:   true,
		MAC:         ev.MAC,
		State:       state,
		DeviceClass: deviceClass,
		ObservedAt:  ts.Format(observedAtLayout),
		RSSI:        -ev.SignalRssiRaw,
		Battery:     ev.BatteryPercent,
	}, known
}

func stateValue(raw string) (int, bool) {
	switch raw {
	case "open", "active":
		return 1, true
	case "closed", "inactive":
		return 0, true
	default:
		return 0, false
	}
}

// HandleEvent runs one sensor event through the translation pipeline.
//
// It is the gateway connector's event callback. Failures are classified,
// logged and counted; nothing propagates back to the caller.
func (b *Bridge) HandleEvent(ev gateway.SensorEvent) {
	b.eventsReceived.Add(1)
	b.lastEvent.Store(time.Now().UnixNano())

	if ev.Type != gateway.EventState {
		b.eventsIgnored.Add(1)
		b.logDebug("ignoring non-state event", "mac", ev.MAC, "type", ev.Type.String())
		return
	}

	err := b.translate(ev)
	if err == nil {
		return
	}

	var evErr *EventError
	if !errors.As(err, &evErr) {
		evErr = newEventError(ev.MAC, err)
	}

	switch evErr.Kind {
	case KindMalformedEvent:
		b.eventsIgnored.Add(1)
		b.logWarn("dropping malformed sensor event", "mac", ev.MAC, "error", evErr.Err)
	case KindTimeout:
		b.eventsFailed.Add(1)
		b.logWarn("sensor event timed out", "mac", ev.MAC, "error", evErr.Err)
	case KindConnection:
		b.eventsFailed.Add(1)
		b.logWarn("broker unavailable, sensor event dropped", "mac", ev.MAC, "error", evErr.Err)
	case KindUnknown:
		b.eventsFailed.Add(1)
		b.logError("sensor event failed", evErr.Err, "mac", ev.MAC)
	default:
		b.eventsFailed.Add(1)
		b.logError("sensor event failed", evErr, "mac", ev.MAC)
	}
}

// translate publishes telemetry for a state event and then, when enabled,
// its discovery descriptors. A failed telemetry publish skips discovery.
func (b *Bridge) translate(ev gateway.SensorEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EventError{Kind: KindUnknown, MAC: ev.MAC, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if ev.MAC == "" {
		return newEventError(ev.MAC, fmt.Errorf("%w: empty MAC", ErrMalformedEvent))
	}
	if ev.Kind != gateway.KindMotion && ev.Kind != gateway.KindContact {
		return newEventError(ev.MAC, fmt.Errorf("%w: unsupported sensor kind %q", ErrMalformedEvent, ev.Kind))
	}

	t, known := NewTelemetry(ev)
	if !known {
		b.logWarn("unexpected sensor state, reporting 0", "mac", ev.MAC, "raw_state", ev.RawState)
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return newEventError(ev.MAC, fmt.Errorf("marshal telemetry: %w", err))
	}

	topic := b.cfg.Topics.Publish + ev.MAC
	if err := b.mqtt.Publish(topic, payload, b.qos, b.retain); err != nil {
		return newEventError(ev.MAC, fmt.Errorf("publish telemetry: %w", err))
	}
	b.eventsPublished.Add(1)
	b.logDebug("published telemetry", "topic", topic, "state", t.State, "rssi", t.RSSI, "battery", t.Battery)

	if b.recorder != nil {
		b.recorder.RecordSighting(ev.MAC, ev.Kind)
	}

	if b.announcer != nil {
		if err := b.announcer.Announce(ev.MAC, ev.Kind); err != nil {
			return newEventError(ev.MAC, fmt.Errorf("announce discovery: %w", err))
		}
		b.discoveryPublished.Add(1)
	}

	return nil
}
