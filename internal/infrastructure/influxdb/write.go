package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementBridgeStats holds the bridge's periodic counter snapshots.
const MeasurementBridgeStats = "bridge_stats"

// WriteBridgeStats records one snapshot of the bridge counters.
//
// status is always a tag; gatewayMAC is added as a tag when known so stats
// from a replaced dongle form a separate series.
func (c *Client) WriteBridgeStats(status, gatewayMAC string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	tags := map[string]string{"status": status}
	if gatewayMAC != "" {
		tags["gateway"] = gatewayMAC
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementBridgeStats, tags, fields, at))
}
