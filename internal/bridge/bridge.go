package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/wyzesense-bridge/internal/gateway"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/config"
)

// commandQoS is the subscription QoS for inbound scan and remove commands.
const commandQoS byte = 1

// Bridge connects the gateway's event stream and the broker's command
// topics. It handles:
//   - Translating sensor events into telemetry and discovery publications
//   - Running scan commands through the enrollment controller
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg        *config.Config
	mqtt       MQTTClient
	gateway    Gateway
	recorder   Recorder // Optional sensor inventory
	announcer  *DiscoveryAnnouncer
	enrollment *EnrollmentController
	health     *HealthReporter

	qos    byte
	retain bool

	eventsReceived     atomic.Uint64
	eventsPublished    atomic.Uint64
	eventsIgnored      atomic.Uint64
	eventsFailed       atomic.Uint64
	discoveryPublished atomic.Uint64
	lastEvent          atomic.Int64 // unix nanoseconds

	// Shutdown coordination
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logHolder
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	Publisher

	// Subscribe registers a handler for a topic.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Gateway is the part of the gateway connector the bridge uses.
type Gateway interface {
	List(ctx context.Context) ([]string, error)
	Scan(ctx context.Context) (*gateway.ScanResult, error)
	IsConnected() bool
	Info() gateway.SessionInfo
	Stats() gateway.Stats
}

// Recorder keeps the sensor inventory.
type Recorder interface {
	// RecordSighting notes a state event from a sensor.
	RecordSighting(mac string, kind gateway.SensorKind)

	// RecordEnrollment marks sensors discovered by a scan.
	RecordEnrollment(ctx context.Context, macs []string) error
}

// MetricsSink receives periodic bridge statistics.
type MetricsSink interface {
	WriteBridgeStats(status, gatewayMAC string, fields map[string]interface{}, at time.Time)
}

// BridgeOptions holds the dependencies for creating a Bridge.
type BridgeOptions struct {
	// Config is the loaded application configuration. Required.
	Config *config.Config

	// MQTTClient is the broker connection. Required.
	MQTTClient MQTTClient

	// Gateway is the sensor gateway connector. Required.
	Gateway Gateway

	// Recorder keeps the sensor inventory. Optional.
	Recorder Recorder

	// Metrics receives periodic statistics. Optional.
	Metrics MetricsSink

	// Logger is optional; SetLogger can also be used after creation.
	Logger Logger
}

// NewBridge creates a new bridge.
//
// Returns:
//   - *Bridge: Ready to start (call Start to begin processing)
//   - error: If a required dependency is missing
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, errors.New("MQTT client is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("gateway is required")
	}

	cfg := opts.Config
	qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated to 0..2 by config

	b := &Bridge{
		cfg:      cfg,
		mqtt:     opts.MQTTClient,
		gateway:  opts.Gateway,
		recorder: opts.Recorder,
		qos:      qos,
		retain:   cfg.MQTT.Retain,
	}

	if cfg.Discovery.Enabled {
		b.announcer = NewDiscoveryAnnouncer(opts.MQTTClient, cfg.Topics.Publish, cfg.Topics.Discovery, qos, cfg.MQTT.Retain)
	}

	b.enrollment = NewEnrollmentController(EnrollmentOptions{
		Gateway:     opts.Gateway,
		Publisher:   opts.MQTTClient,
		Recorder:    opts.Recorder,
		ResultTopic: cfg.Topics.ScanResult,
	})

	b.health = NewHealthReporter(HealthReporterConfig{
		Interval: cfg.InfluxDB.ReportInterval,
		MQTT:     opts.MQTTClient,
		Gateway:  opts.Gateway,
		Source:   b,
		Sink:     opts.Metrics,
	})

	if opts.Logger != nil {
		b.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to the command topics and starts the enrollment worker
// and health reporter. Must be called once; call Stop to shut down.
func (b *Bridge) Start(ctx context.Context) error {
	started := false
	b.startOnce.Do(func() {
		started = true
		b.ctx, b.ctxCancel = context.WithCancel(ctx)
	})
	if !started {
		return errors.New("bridge already started")
	}

	if err := b.mqtt.Subscribe(b.cfg.Topics.Scan, commandQoS, b.enrollment.HandleScanCommand); err != nil {
		b.ctxCancel()
		return fmt.Errorf("subscribe to scan commands: %w", err)
	}
	if err := b.mqtt.Subscribe(b.cfg.Topics.Remove, commandQoS, b.enrollment.HandleRemoveCommand); err != nil {
		b.ctxCancel()
		return fmt.Errorf("subscribe to remove commands: %w", err)
	}
	b.logInfo("subscribed to commands", "scan", b.cfg.Topics.Scan, "remove", b.cfg.Topics.Remove)

	b.enrollment.Start(b.ctx)
	b.health.Start(b.ctx)

	b.logInfo("bridge started",
		"publish_prefix", b.cfg.Topics.Publish,
		"discovery", b.announcer != nil,
	)
	return nil
}

// Stop shuts the bridge down. A scan in progress is cancelled.
// Safe to call multiple times and before Start.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.logInfo("stopping bridge")

		if b.ctxCancel != nil {
			b.ctxCancel()
		}
		b.enrollment.Stop()
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// Enrollment returns the enrollment controller.
func (b *Bridge) Enrollment() *EnrollmentController {
	return b.enrollment
}

// Health returns the health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// SetLogger sets the logger for the bridge and its components.
func (b *Bridge) SetLogger(logger Logger) {
	b.logHolder.SetLogger(logger)
	b.enrollment.SetLogger(logger)
	b.health.SetLogger(logger)
}

// BridgeMetrics contains operational metrics for the bridge.
type BridgeMetrics struct {
	Status           HealthStatus
	StatusReason     string
	MQTTConnected    bool
	GatewayConnected bool
	Uptime           time.Duration

	EventsReceived     uint64 // Events handed to the pipeline
	EventsPublished    uint64 // Telemetry messages published
	EventsIgnored      uint64 // Non-state or malformed events
	EventsFailed       uint64 // Events dropped on a publish or internal error
	DiscoveryPublished uint64 // Completed discovery announcements
	LastEvent          time.Time

	Enrollment EnrollmentStats
	Gateway    gateway.Stats
	GatewayID  gateway.SessionInfo
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	m := b.counters()
	m.Status, m.StatusReason = b.health.Status()
	m.Uptime = b.health.Uptime()
	return m
}

// counters returns everything except the health status.
func (b *Bridge) counters() BridgeMetrics {
	m := BridgeMetrics{
		MQTTConnected:      b.mqtt.IsConnected(),
		GatewayConnected:   b.gateway.IsConnected(),
		EventsReceived:     b.eventsReceived.Load(),
		EventsPublished:    b.eventsPublished.Load(),
		EventsIgnored:      b.eventsIgnored.Load(),
		EventsFailed:       b.eventsFailed.Load(),
		DiscoveryPublished: b.discoveryPublished.Load(),
		Enrollment:         b.enrollment.Stats(),
		Gateway:            b.gateway.Stats(),
		GatewayID:          b.gateway.Info(),
	}
	if ns := b.lastEvent.Load(); ns != 0 {
		m.LastEvent = time.Unix(0, ns)
	}
	return m
}
