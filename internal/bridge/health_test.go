package bridge

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recordingSink captures bridge_stats writes.
type recordingSink struct {
	mu     sync.Mutex
	writes []sinkWrite
}

type sinkWrite struct {
	Status  string
	Gateway string
	Fields  map[string]interface{}
}

func (s *recordingSink) WriteBridgeStats(status, gatewayMAC string, fields map[string]interface{}, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, sinkWrite{Status: status, Gateway: gatewayMAC, Fields: fields})
}

func (s *recordingSink) all() []sinkWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkWrite(nil), s.writes...)
}

func TestHealthReporter_Status(t *testing.T) {
	tests := []struct {
		name       string
		mqtt       bool
		gateway    bool
		wantStatus HealthStatus
		wantReason string
	}{
		{"all connected", true, true, HealthHealthy, ""},
		{"mqtt down", false, true, HealthDegraded, "MQTT disconnected"},
		{"gateway down", true, false, HealthDegraded, "gateway disconnected"},
		{"both down", false, false, HealthDegraded, "MQTT disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mqtt := NewMockMQTTClient()
			mqtt.SetConnected(tt.mqtt)
			gw := newFakeGateway()
			gw.connected = tt.gateway

			h := NewHealthReporter(HealthReporterConfig{MQTT: mqtt, Gateway: gw})
			if status, _ := h.Status(); status != HealthStarting {
				t.Errorf("initial Status() = %v, want starting", status)
			}

			if got := h.PublishNow(); got != tt.wantStatus {
				t.Errorf("PublishNow() = %v, want %v", got, tt.wantStatus)
			}
			status, reason := h.Status()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("Status() = %v, %q, want %v, %q", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_LogsTransitions(t *testing.T) {
	logger := &testLogger{}
	mqtt := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{MQTT: mqtt, Gateway: newFakeGateway()})
	h.SetLogger(logger)

	h.PublishNow()
	mqtt.SetConnected(false)
	h.PublishNow()
	h.PublishNow()

	if !logger.has("WARN bridge degraded") {
		t.Errorf("degradation not logged: %v", logger.lines)
	}

	degraded := 0
	for _, line := range logger.lines {
		if len(line) >= 20 && line[:20] == "WARN bridge degraded" {
			degraded++
		}
	}
	if degraded != 1 {
		t.Errorf("logged degradation %d times, want 1", degraded)
	}
}

func TestHealthReporter_WritesStats(t *testing.T) {
	sink := &recordingSink{}
	gw := newFakeGateway()
	b, err := NewBridge(BridgeOptions{
		Config:     testConfig(false),
		MQTTClient: NewMockMQTTClient(),
		Gateway:    gw,
		Metrics:    sink,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	b.HandleEvent(stateEvent("C3", "contact", "open", 80, 50))

	b.Health().PublishNow()

	writes := sink.all()
	if len(writes) != 1 {
		t.Fatalf("sink got %d writes, want 1", len(writes))
	}
	w := writes[0]
	if w.Status != "healthy" || w.Gateway != "GW000001" {
		t.Errorf("write = %+v", w)
	}
	if got := w.Fields["events_published"]; got != uint64(1) {
		t.Errorf("events_published = %v, want 1", got)
	}
	if got := w.Fields["mqtt_connected"]; got != true {
		t.Errorf("mqtt_connected = %v, want true", got)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	sink := &recordingSink{}
	h := NewHealthReporter(HealthReporterConfig{
		Interval: 10 * time.Millisecond,
		MQTT:     NewMockMQTTClient(),
		Gateway:  newFakeGateway(),
		Source:   staticSource{},
		Sink:     sink,
	})

	h.Start(context.Background())
	waitFor(t, "periodic reports", func() bool { return len(sink.all()) >= 3 })

	h.Stop()
	h.Stop()

	writes := sink.all()
	if last := writes[len(writes)-1]; last.Status != "stopping" {
		t.Errorf("last write status = %q, want stopping", last.Status)
	}
	if status, _ := h.Status(); status != HealthStopping {
		t.Errorf("Status() after Stop = %v, want stopping", status)
	}
}

func TestHealthReporter_NoSink(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{MQTT: NewMockMQTTClient(), Gateway: newFakeGateway()})
	h.Start(context.Background())
	h.Stop()
}

type staticSource struct{}

func (staticSource) GetMetrics() BridgeMetrics {
	return BridgeMetrics{EventsReceived: 7}
}
