package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/wyzesense-bridge/internal/gateway"
)

const (
	discoveryManufacturer = "Wyze"
	idPrefix              = "wyzesense_"
)

// Publisher sends a single MQTT message.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DiscoveryDevice groups a sensor's entities under one device.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Name         string   `json:"name"`
}

// DiscoveryPayload is a Home Assistant MQTT discovery document.
type DiscoveryPayload struct {
	Device            DiscoveryDevice `json:"device"`
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	DeviceClass       string          `json:"device_class"`
	StateTopic        string          `json:"state_topic"`
	ValueTemplate     string          `json:"value_template"`
	PayloadOn         string          `json:"payload_on,omitempty"`
	PayloadOff        string          `json:"payload_off,omitempty"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
}

// Descriptor is a discovery document and the topic it is published to.
type Descriptor struct {
	Topic   string
	Payload DiscoveryPayload
}

// DiscoveryAnnouncer publishes the state, signal strength and battery
// descriptors for a sensor. It holds no per-sensor state; every Announce is
// a full republication.
type DiscoveryAnnouncer struct {
	publisher    Publisher
	statePrefix  string
	discoveryPfx string
	qos          byte
	retain       bool
}

// NewDiscoveryAnnouncer creates an announcer.
//
// statePrefix is the telemetry topic prefix the descriptors point at and
// discoveryPrefix is the Home Assistant discovery prefix (including the
// trailing slash).
func NewDiscoveryAnnouncer(publisher Publisher, statePrefix, discoveryPrefix string, qos byte, retain bool) *DiscoveryAnnouncer {
	return &DiscoveryAnnouncer{
		publisher:    publisher,
		statePrefix:  statePrefix,
		discoveryPfx: discoveryPrefix,
		qos:          qos,
		retain:       retain,
	}
}

// Descriptors builds the three discovery documents for a sensor.
func (a *DiscoveryAnnouncer) Descriptors(mac string, kind gateway.SensorKind) []Descriptor {
	id := idPrefix + mac
	stateTopic := a.statePrefix + mac

	device := DiscoveryDevice{
		Identifiers:  []string{id},
		Manufacturer: discoveryManufacturer,
		Name:         deviceName(kind),
	}

	return []Descriptor{
		{
			Topic: a.discoveryPfx + "binary_sensor/" + id + "_state/config",
			Payload: DiscoveryPayload{
				Device:        device,
				Name:          fmt.Sprintf("Wyze Sense %s State", mac),
				UniqueID:      id + "_state",
				DeviceClass:   binarySensorClass(kind),
				StateTopic:    stateTopic,
				ValueTemplate: "{{ value_json.state }}",
				PayloadOn:     "1",
				PayloadOff:    "0",
			},
		},
		{
			Topic: a.discoveryPfx + "sensor/" + id + "_signal_strength/config",
			Payload: DiscoveryPayload{
				Device:            device,
				Name:              fmt.Sprintf("Wyze Sense %s Signal Strength", mac),
				UniqueID:          id + "_signal_strength",
				DeviceClass:       "signal_strength",
				StateTopic:        stateTopic,
				ValueTemplate:     "{{ value_json.rssi }}",
				UnitOfMeasurement: "dBm",
			},
		},
		{
			Topic: a.discoveryPfx + "sensor/" + id + "_battery/config",
			Payload: DiscoveryPayload{
				Device:            device,
				Name:              fmt.Sprintf("Wyze Sense %s Battery", mac),
				UniqueID:          id + "_battery",
				DeviceClass:       "battery",
				StateTopic:        stateTopic,
				ValueTemplate:     "{{ value_json.battery_level }}",
				UnitOfMeasurement: "%",
			},
		},
	}
}

// Announce publishes every descriptor for the sensor. A failed publish does
// not stop the remaining ones; all failures are returned joined.
func (a *DiscoveryAnnouncer) Announce(mac string, kind gateway.SensorKind) error {
	var errs []error
	for _, d := range a.Descriptors(mac, kind) {
		payload, err := json.Marshal(d.Payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal %s: %w", d.Payload.UniqueID, err))
			continue
		}
		if err := a.publisher.Publish(d.Topic, payload, a.qos, a.retain); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", d.Payload.UniqueID, err))
		}
	}
	return errors.Join(errs...)
}

func deviceName(kind gateway.SensorKind) string {
	if kind == gateway.KindMotion {
		return "Wyze Sense Motion Sensor"
	}
	return "Wyze Sense Contact Sensor"
}

func binarySensorClass(kind gateway.SensorKind) string {
	if kind == gateway.KindMotion {
		return "motion"
	}
	return "door"
}
