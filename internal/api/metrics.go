package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/nerrad567/wyzesense-bridge/internal/bridge"
)

// SystemMetrics represents the complete metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Status        string            `json:"status"`
	StatusReason  string            `json:"status_reason,omitempty"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	MQTT          MQTTMetrics       `json:"mqtt"`
	Pipeline      PipelineMetrics   `json:"pipeline"`
	Enrollment    EnrollmentMetrics `json:"enrollment"`
	Gateway       GatewayStatus     `json:"gateway"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected     bool `json:"connected"`
	Subscriptions int  `json:"subscriptions"`
}

// PipelineMetrics contains translation pipeline counters.
type PipelineMetrics struct {
	EventsReceived     uint64 `json:"events_received"`
	EventsPublished    uint64 `json:"events_published"`
	EventsIgnored      uint64 `json:"events_ignored"`
	EventsFailed       uint64 `json:"events_failed"`
	DiscoveryPublished uint64 `json:"discovery_published"`
	LastEvent          string `json:"last_event,omitempty"`
}

// EnrollmentMetrics contains scan counters.
type EnrollmentMetrics struct {
	State           string `json:"state"`
	Scans           uint64 `json:"scans"`
	ScanFailures    uint64 `json:"scan_failures"`
	SensorsEnrolled uint64 `json:"sensors_enrolled"`
	CommandsDropped uint64 `json:"commands_dropped"`
	LastScan        string `json:"last_scan,omitempty"`
}

// GatewayStatus describes the gateway connection.
type GatewayStatus struct {
	Connected       bool   `json:"connected"`
	MAC             string `json:"mac,omitempty"`
	Version         string `json:"version,omitempty"`
	Connects        uint64 `json:"connects"`
	Reconnects      uint64 `json:"reconnects"`
	ConnectFailures uint64 `json:"connect_failures"`
	HealthFailures  uint64 `json:"health_failures"`
	EventsReceived  uint64 `json:"events_received"`
	EventsDropped   uint64 `json:"events_dropped"`
	LastEvent       string `json:"last_event,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// handleHealth runs every dependency check. Any failure reports 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version}
	status := http.StatusOK

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := s.checks[name].HealthCheck(ctx)
			cancel()

			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

// handleMetrics returns bridge, gateway and runtime metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m := s.bridge.GetMetrics()

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Status:        string(m.Status),
		StatusReason:  m.StatusReason,
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		MQTT: s.mqttMetrics(m.MQTTConnected),
		Pipeline: PipelineMetrics{
			EventsReceived:     m.EventsReceived,
			EventsPublished:    m.EventsPublished,
			EventsIgnored:      m.EventsIgnored,
			EventsFailed:       m.EventsFailed,
			DiscoveryPublished: m.DiscoveryPublished,
			LastEvent:          formatTime(m.LastEvent),
		},
		Enrollment: EnrollmentMetrics{
			State:           m.Enrollment.State.String(),
			Scans:           m.Enrollment.Scans,
			ScanFailures:    m.Enrollment.ScanFailures,
			SensorsEnrolled: m.Enrollment.SensorsEnrolled,
			CommandsDropped: m.Enrollment.CommandsDropped,
			LastScan:        formatTime(m.Enrollment.LastScan),
		},
		Gateway: gatewayStatus(m),
	})
}

// handleGateway returns the gateway connection status.
func (s *Server) handleGateway(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, gatewayStatus(s.bridge.GetMetrics()))
}

func gatewayStatus(m bridge.BridgeMetrics) GatewayStatus {
	return GatewayStatus{
		Connected:       m.GatewayConnected,
		MAC:             m.GatewayID.MAC,
		Version:         m.GatewayID.Version,
		Connects:        m.Gateway.Connects,
		Reconnects:      m.Gateway.Reconnects,
		ConnectFailures: m.Gateway.ConnectFailures,
		HealthFailures:  m.Gateway.HealthFailures,
		EventsReceived:  m.Gateway.EventsReceived,
		EventsDropped:   m.Gateway.EventsDropped,
		LastEvent:       formatTime(m.Gateway.LastEvent),
	}
}

// formatTime renders t as RFC 3339 UTC, or "" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *Server) mqttMetrics(connected bool) MQTTMetrics {
	mm := MQTTMetrics{Connected: connected}
	if s.broker != nil {
		mm.Subscriptions = s.broker.SubscriptionCount()
	}
	return mm
}
