package bridge

import (
	"context"
	"testing"
)

func TestNewBridge_Validation(t *testing.T) {
	cfg := testConfig(false)
	mqtt := NewMockMQTTClient()
	gw := newFakeGateway()

	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"missing config", BridgeOptions{MQTTClient: mqtt, Gateway: gw}},
		{"missing mqtt", BridgeOptions{Config: cfg, Gateway: gw}},
		{"missing gateway", BridgeOptions{Config: cfg, MQTTClient: mqtt}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() error = nil, want error")
			}
		})
	}
}

func TestNewBridge_DiscoveryToggle(t *testing.T) {
	on, _ := newTestBridge(t, testConfig(true), newFakeGateway())
	if on.announcer == nil {
		t.Error("announcer is nil with discovery enabled")
	}
	off, _ := newTestBridge(t, testConfig(false), newFakeGateway())
	if off.announcer != nil {
		t.Error("announcer is set with discovery disabled")
	}
}

func TestBridge_StartSubscribes(t *testing.T) {
	b, mqtt := newTestBridge(t, testConfig(false), newFakeGateway())

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	subs := mqtt.GetSubscriptions()
	if len(subs) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(subs))
	}
	want := map[string]bool{"wyzesense2mqtt/scan": true, "wyzesense2mqtt/remove": true}
	for _, s := range subs {
		if !want[s.Topic] {
			t.Errorf("unexpected subscription %q", s.Topic)
		}
		if s.QoS != 1 {
			t.Errorf("%s QoS = %d, want 1", s.Topic, s.QoS)
		}
	}

	if err := b.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil, want error")
	}
}

func TestBridge_ScanCommandEndToEnd(t *testing.T) {
	gw := newFakeGateway([]string{"A1"}, []string{"A1", "B2"})
	b, mqtt := newTestBridge(t, testConfig(false), gw)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	mqtt.SimulateMessage("wyzesense2mqtt/scan", []byte("scan"))

	waitFor(t, "scan result", func() bool {
		return len(mqtt.PublishedTo("wyzesense2mqtt/scan_result")) == 1
	})
	p := mqtt.PublishedTo("wyzesense2mqtt/scan_result")[0]
	if string(p.Payload) != `{"macs":["B2"]}` {
		t.Errorf("payload = %s, want %s", p.Payload, `{"macs":["B2"]}`)
	}

	waitFor(t, "idle", func() bool { return b.Enrollment().State() == StateIdle })
	if got := b.GetMetrics().Enrollment.SensorsEnrolled; got != 1 {
		t.Errorf("SensorsEnrolled = %d, want 1", got)
	}
}

func TestBridge_StopIdempotent(t *testing.T) {
	b, _ := newTestBridge(t, testConfig(false), newFakeGateway())
	b.Stop()
	b.Stop()

	b2, _ := newTestBridge(t, testConfig(false), newFakeGateway())
	if err := b2.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b2.Stop()
	b2.Stop()

	if status, _ := b2.Health().Status(); status != HealthStopping {
		t.Errorf("status after Stop = %v, want stopping", status)
	}
}

func TestBridge_GetMetrics(t *testing.T) {
	gw := newFakeGateway()
	gw.connected = false
	b, mqtt := newTestBridge(t, testConfig(false), gw)
	mqtt.SetConnected(true)

	b.Health().PublishNow()
	m := b.GetMetrics()

	if m.Status != HealthDegraded || m.StatusReason != "gateway disconnected" {
		t.Errorf("Status = %v (%q), want degraded (gateway disconnected)", m.Status, m.StatusReason)
	}
	if !m.MQTTConnected || m.GatewayConnected {
		t.Errorf("MQTTConnected/GatewayConnected = %v/%v, want true/false", m.MQTTConnected, m.GatewayConnected)
	}
	if m.GatewayID.MAC != "GW000001" {
		t.Errorf("GatewayID.MAC = %q, want GW000001", m.GatewayID.MAC)
	}
	if !m.LastEvent.IsZero() {
		t.Errorf("LastEvent = %v before any event, want zero", m.LastEvent)
	}
}
