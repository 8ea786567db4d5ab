package bridge

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/wyzesense-bridge/internal/gateway"
)

func TestDescriptors_Motion(t *testing.T) {
	a := NewDiscoveryAnnouncer(NewMockMQTTClient(), "wyzesense2mqtt/", "homeassistant/", 1, true)

	ds := a.Descriptors("D4", gateway.KindMotion)
	if len(ds) != 3 {
		t.Fatalf("Descriptors() returned %d, want 3", len(ds))
	}

	tests := []struct {
		topic       string
		uniqueID    string
		name        string
		deviceClass string
		template    string
		unit        string
	}{
		{
			topic:       "homeassistant/binary_sensor/wyzesense_D4_state/config",
			uniqueID:    "wyzesense_D4_state",
			name:        "Wyze Sense D4 State",
			deviceClass: "motion",
			template:    "{{ value_json.state }}",
		},
		{
			topic:       "homeassistant/sensor/wyzesense_D4_signal_strength/config",
			uniqueID:    "wyzesense_D4_signal_strength",
			name:        "Wyze Sense D4 Signal Strength",
			deviceClass: "signal_strength",
			template:    "{{ value_json.rssi }}",
			unit:        "dBm",
		},
		{
			topic:       "homeassistant/sensor/wyzesense_D4_battery/config",
			uniqueID:    "wyzesense_D4_battery",
			name:        "Wyze Sense D4 Battery",
			deviceClass: "battery",
			template:    "{{ value_json.battery_level }}",
			unit:        "%",
		},
	}

	for i, tt := range tests {
		d := ds[i]
		if d.Topic != tt.topic {
			t.Errorf("[%d] Topic = %q, want %q", i, d.Topic, tt.topic)
		}
		p := d.Payload
		if p.UniqueID != tt.uniqueID || p.Name != tt.name || p.DeviceClass != tt.deviceClass {
			t.Errorf("[%d] payload = %+v", i, p)
		}
		if p.ValueTemplate != tt.template {
			t.Errorf("[%d] ValueTemplate = %q, want %q", i, p.ValueTemplate, tt.template)
		}
		if p.UnitOfMeasurement != tt.unit {
			t.Errorf("[%d] UnitOfMeasurement = %q, want %q", i, p.UnitOfMeasurement, tt.unit)
		}
		if p.StateTopic != "wyzesense2mqtt/D4" {
			t.Errorf("[%d] StateTopic = %q, want %q", i, p.StateTopic, "wyzesense2mqtt/D4")
		}
		if p.Device.Name != "Wyze Sense Motion Sensor" || p.Device.Manufacturer != "Wyze" {
			t.Errorf("[%d] Device = %+v", i, p.Device)
		}
	}

	if ds[0].Payload.PayloadOn != "1" || ds[0].Payload.PayloadOff != "0" {
		t.Errorf("state payload_on/off = %q/%q, want 1/0", ds[0].Payload.PayloadOn, ds[0].Payload.PayloadOff)
	}
}

func TestDescriptors_Contact(t *testing.T) {
	a := NewDiscoveryAnnouncer(NewMockMQTTClient(), "wyzesense2mqtt/", "homeassistant/", 0, false)

	ds := a.Descriptors("C3", gateway.KindContact)
	if got := ds[0].Payload.DeviceClass; got != "door" {
		t.Errorf("state DeviceClass = %q, want door", got)
	}
	if got := ds[0].Payload.Device.Name; got != "Wyze Sense Contact Sensor" {
		t.Errorf("Device.Name = %q, want Wyze Sense Contact Sensor", got)
	}
}

func TestAnnounce_PayloadShape(t *testing.T) {
	mqtt := NewMockMQTTClient()
	a := NewDiscoveryAnnouncer(mqtt, "wyzesense2mqtt/", "homeassistant/", 1, true)

	if err := a.Announce("D4", gateway.KindMotion); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	pubs := mqtt.GetPublished()
	if len(pubs) != 3 {
		t.Fatalf("published %d messages, want 3", len(pubs))
	}

	var state map[string]any
	if err := json.Unmarshal(pubs[0].Payload, &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := state["unit_of_measurement"]; ok {
		t.Error("state descriptor carries unit_of_measurement")
	}
	device, ok := state["device"].(map[string]any)
	if !ok {
		t.Fatalf("device = %v, want object", state["device"])
	}
	ids, _ := device["identifiers"].([]any)
	if len(ids) != 1 || ids[0] != "wyzesense_D4" {
		t.Errorf("identifiers = %v, want [wyzesense_D4]", device["identifiers"])
	}

	var battery map[string]any
	if err := json.Unmarshal(pubs[2].Payload, &battery); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := battery["payload_on"]; ok {
		t.Error("battery descriptor carries payload_on")
	}

	for _, p := range pubs {
		if p.QoS != 1 || !p.Retained {
			t.Errorf("%s qos/retain = %d/%v, want 1/true", p.Topic, p.QoS, p.Retained)
		}
	}
}

func TestAnnounce_ContinuesPastFailure(t *testing.T) {
	mqtt := NewMockMQTTClient()
	mqtt.FailPublish(func(topic string) error {
		if strings.Contains(topic, "signal_strength") {
			return ErrBrokerUnavailable
		}
		return nil
	})
	a := NewDiscoveryAnnouncer(mqtt, "wyzesense2mqtt/", "homeassistant/", 0, true)

	err := a.Announce("D4", gateway.KindMotion)
	if !errors.Is(err, ErrBrokerUnavailable) {
		t.Errorf("Announce() error = %v, want ErrBrokerUnavailable", err)
	}
	if got := len(mqtt.GetPublished()); got != 2 {
		t.Errorf("published %d messages, want 2", got)
	}
}
