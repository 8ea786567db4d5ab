package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/wyzesense-bridge/internal/gateway"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/config"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
	publishErr    func(topic string) error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		if err := m.publishErr(topic); err != nil {
			return err
		}
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// FailPublish makes Publish return err for every topic that fn selects.
func (m *MockMQTTClient) FailPublish(fn func(topic string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = fn
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

// SimulateMessage simulates receiving an MQTT message on a topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// fakeGateway serves List from a queue of snapshots; the last snapshot is
// repeated once the queue runs out.
type fakeGateway struct {
	mu        sync.Mutex
	snapshots [][]string
	lists     int
	listErr   error
	scanErr   error
	scanned   *gateway.ScanResult
	block     chan struct{} // Scan waits on this when set
	connected bool
	stats     gateway.Stats

	inScan    int
	maxInScan int
	scans     int
}

func newFakeGateway(snapshots ...[]string) *fakeGateway {
	return &fakeGateway{snapshots: snapshots, connected: true}
}

func (g *fakeGateway) List(context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	var snap []string
	if len(g.snapshots) > 0 {
		i := g.lists
		if i >= len(g.snapshots) {
			i = len(g.snapshots) - 1
		}
		snap = g.snapshots[i]
	}
	g.lists++
	return append([]string(nil), snap...), nil
}

func (g *fakeGateway) Scan(ctx context.Context) (*gateway.ScanResult, error) {
	g.mu.Lock()
	g.inScan++
	g.scans++
	if g.inScan > g.maxInScan {
		g.maxInScan = g.inScan
	}
	block, scanned, scanErr := g.block, g.scanned, g.scanErr
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inScan--
		g.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return scanned, scanErr
}

func (g *fakeGateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *fakeGateway) Info() gateway.SessionInfo {
	return gateway.SessionInfo{MAC: "GW000001", Version: "0.0.0.30"}
}

func (g *fakeGateway) Stats() gateway.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.Connected = g.connected
	return s
}

func (g *fakeGateway) counts() (scans, maxInScan int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scans, g.maxInScan
}

// testLogger records log lines.
type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) record(level, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+msg+" "+fmt.Sprint(kv...))
}

func (l *testLogger) Debug(msg string, kv ...any) { l.record("DEBUG", msg, kv...) }
func (l *testLogger) Info(msg string, kv ...any)  { l.record("INFO", msg, kv...) }
func (l *testLogger) Warn(msg string, kv ...any)  { l.record("WARN", msg, kv...) }
func (l *testLogger) Error(msg string, kv ...any) { l.record("ERROR", msg, kv...) }

func (l *testLogger) has(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// fakeRecorder records sightings and enrollments in memory.
type fakeRecorder struct {
	mu        sync.Mutex
	sightings []string
	enrolled  []string
	err       error
}

func (r *fakeRecorder) RecordSighting(mac string, _ gateway.SensorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sightings = append(r.sightings, mac)
}

func (r *fakeRecorder) RecordEnrollment(_ context.Context, macs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrolled = append(r.enrolled, macs...)
	return r.err
}

func testConfig(discovery bool) *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{QoS: 1, Retain: true},
		Topics: config.TopicsConfig{
			Publish:    "wyzesense2mqtt/",
			ScanResult: "wyzesense2mqtt/scan_result",
			Scan:       "wyzesense2mqtt/scan",
			Remove:     "wyzesense2mqtt/remove",
			Discovery:  "homeassistant/",
		},
		Discovery: config.DiscoveryConfig{Enabled: discovery},
		InfluxDB:  config.InfluxDBConfig{ReportInterval: time.Hour},
	}
}

func newTestBridge(t *testing.T, cfg *config.Config, gw *fakeGateway) (*Bridge, *MockMQTTClient) {
	t.Helper()
	mqtt := NewMockMQTTClient()
	b, err := NewBridge(BridgeOptions{Config: cfg, MQTTClient: mqtt, Gateway: gw})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	return b, mqtt
}

func decodeJSON(t *testing.T, payload []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(payload, v); err != nil {
		t.Fatalf("unmarshal %s: %v", payload, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")
