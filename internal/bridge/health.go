package bridge

import (
	"context"
	"sync"
	"time"
)

// HealthStatus is the bridge's overall health.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

const defaultHealthInterval = 30 * time.Second

// ConnectionChecker reports whether a dependency is reachable.
type ConnectionChecker interface {
	IsConnected() bool
}

// MetricsSource supplies bridge counters.
type MetricsSource interface {
	GetMetrics() BridgeMetrics
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Interval is how often status is evaluated and reported.
	// Default: 30 seconds.
	Interval time.Duration

	MQTT    ConnectionChecker
	Gateway ConnectionChecker

	// Source supplies the counters written with each report. Optional.
	Source MetricsSource

	// Sink receives a statistics point each interval. Optional.
	Sink MetricsSink
}

// HealthReporter periodically evaluates bridge health, logs status changes
// and writes a statistics point to the metrics sink.
type HealthReporter struct {
	interval  time.Duration
	startTime time.Time
	mqtt      ConnectionChecker
	gateway   ConnectionChecker
	source    MetricsSource
	sink      MetricsSink

	status   HealthStatus
	reason   string
	statusMu sync.RWMutex

	// Shutdown coordination (stopOnce prevents double-close panics)
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	logHolder
}

// NewHealthReporter creates a new health reporter.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		interval:  interval,
		startTime: time.Now(),
		mqtt:      cfg.MQTT,
		gateway:   cfg.Gateway,
		source:    cfg.Source,
		sink:      cfg.Sink,
		status:    HealthStarting,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		h.wg.Add(1)
		go h.reportLoop(ctx)
	})
}

// Stop stops reporting and records a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		h.setStatus(HealthStopping, "")
		h.write(HealthStopping)
	})
}

// Status returns the last evaluated status and its reason.
func (h *HealthReporter) Status() (HealthStatus, string) {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	return h.status, h.reason
}

// Uptime returns how long the reporter has existed.
func (h *HealthReporter) Uptime() time.Duration {
	return time.Since(h.startTime)
}

// PublishNow evaluates and reports health immediately.
func (h *HealthReporter) PublishNow() HealthStatus {
	status, reason := h.determineStatus()
	h.setStatus(status, reason)
	h.write(status)
	return status
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.PublishNow()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.PublishNow()
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.mqtt == nil || !h.mqtt.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.gateway == nil || !h.gateway.IsConnected() {
		return HealthDegraded, "gateway disconnected"
	}
	return HealthHealthy, ""
}

// setStatus stores the status and logs transitions.
func (h *HealthReporter) setStatus(status HealthStatus, reason string) {
	h.statusMu.Lock()
	prev, prevReason := h.status, h.reason
	h.status, h.reason = status, reason
	h.statusMu.Unlock()

	if prev == status && prevReason == reason {
		return
	}
	switch status {
	case HealthDegraded:
		h.logWarn("bridge degraded", "reason", reason, "previous", string(prev))
	default:
		h.logInfo("bridge health changed", "status", string(status), "previous", string(prev))
	}
}

// write sends a statistics point to the sink, if any.
func (h *HealthReporter) write(status HealthStatus) {
	if h.sink == nil || h.source == nil {
		return
	}

	m := h.source.GetMetrics()
	h.sink.WriteBridgeStats(string(status), m.GatewayID.MAC, map[string]interface{}{
		"mqtt_connected":           m.MQTTConnected,
		"gateway_connected":        m.GatewayConnected,
		"uptime_seconds":           int64(h.Uptime().Seconds()),
		"events_received":          m.EventsReceived,
		"events_published":         m.EventsPublished,
		"events_ignored":           m.EventsIgnored,
		"events_failed":            m.EventsFailed,
		"discovery_published":      m.DiscoveryPublished,
		"scans":                    m.Enrollment.Scans,
		"scan_failures":            m.Enrollment.ScanFailures,
		"sensors_enrolled":         m.Enrollment.SensorsEnrolled,
		"gateway_reconnects":       m.Gateway.Reconnects,
		"gateway_connect_failures": m.Gateway.ConnectFailures,
		"gateway_health_failures":  m.Gateway.HealthFailures,
		"gateway_events_dropped":   m.Gateway.EventsDropped,
	}, time.Now())
}
