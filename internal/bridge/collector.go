package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "wyzesense"

// Collector exposes bridge and gateway counters to Prometheus.
// Values are read from the source on every scrape.
type Collector struct {
	source MetricsSource

	eventsReceived     *prometheus.Desc
	eventsPublished    *prometheus.Desc
	eventsIgnored      *prometheus.Desc
	eventsFailed       *prometheus.Desc
	discoveryPublished *prometheus.Desc
	scans              *prometheus.Desc
	scanFailures       *prometheus.Desc
	sensorsEnrolled    *prometheus.Desc
	scanning           *prometheus.Desc
	up                 *prometheus.Desc
	healthy            *prometheus.Desc
	gatewayConnects    *prometheus.Desc
	gatewayReconnects  *prometheus.Desc
	gatewayFailures    *prometheus.Desc
	gatewayProbeFails  *prometheus.Desc
	gatewayDropped     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector reading from source.
func NewCollector(source MetricsSource) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, subsystem, name), help, labels, nil)
	}

	return &Collector{
		source:             source,
		eventsReceived:     desc("bridge", "events_received_total", "Sensor events handed to the pipeline."),
		eventsPublished:    desc("bridge", "events_published_total", "Telemetry messages published."),
		eventsIgnored:      desc("bridge", "events_ignored_total", "Non-state or malformed sensor events."),
		eventsFailed:       desc("bridge", "events_failed_total", "Sensor events dropped on error."),
		discoveryPublished: desc("bridge", "discovery_announcements_total", "Completed discovery announcements."),
		scans:              desc("enrollment", "scans_total", "Scans started."),
		scanFailures:       desc("enrollment", "scan_failures_total", "Scans that failed."),
		sensorsEnrolled:    desc("enrollment", "sensors_enrolled_total", "Sensors published as newly enrolled."),
		scanning:           desc("enrollment", "scanning", "1 while a scan window is open."),
		up:                 desc("", "connected", "1 when the named dependency is connected.", "dependency"),
		healthy:            desc("bridge", "healthy", "1 when the bridge reports healthy."),
		gatewayConnects:    desc("gateway", "connects_total", "Gateway sessions opened."),
		gatewayReconnects:  desc("gateway", "reconnects_total", "Gateway sessions replaced after a failure."),
		gatewayFailures:    desc("gateway", "connect_failures_total", "Failed gateway open attempts."),
		gatewayProbeFails:  desc("gateway", "health_failures_total", "Failed gateway health probes."),
		gatewayDropped:     desc("gateway", "events_dropped_total", "Events dropped because the event queue was full."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.eventsReceived, c.eventsPublished, c.eventsIgnored, c.eventsFailed,
		c.discoveryPublished, c.scans, c.scanFailures, c.sensorsEnrolled,
		c.scanning, c.up, c.healthy, c.gatewayConnects, c.gatewayReconnects,
		c.gatewayFailures, c.gatewayProbeFails, c.gatewayDropped,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.GetMetrics()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, on bool, labels ...string) {
		v := 0.0
		if on {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.eventsReceived, m.EventsReceived)
	counter(c.eventsPublished, m.EventsPublished)
	counter(c.eventsIgnored, m.EventsIgnored)
	counter(c.eventsFailed, m.EventsFailed)
	counter(c.discoveryPublished, m.DiscoveryPublished)
	counter(c.scans, m.Enrollment.Scans)
	counter(c.scanFailures, m.Enrollment.ScanFailures)
	counter(c.sensorsEnrolled, m.Enrollment.SensorsEnrolled)
	gauge(c.scanning, m.Enrollment.State == StateScanning)
	gauge(c.up, m.MQTTConnected, "mqtt")
	gauge(c.up, m.GatewayConnected, "gateway")
	gauge(c.healthy, m.Status == HealthHealthy)
	counter(c.gatewayConnects, m.Gateway.Connects)
	counter(c.gatewayReconnects, m.Gateway.Reconnects)
	counter(c.gatewayFailures, m.Gateway.ConnectFailures)
	counter(c.gatewayProbeFails, m.Gateway.HealthFailures)
	counter(c.gatewayDropped, m.Gateway.EventsDropped)
}
