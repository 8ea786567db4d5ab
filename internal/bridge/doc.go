// Package bridge connects a WyzeSense gateway to an MQTT broker.
//
// The Bridge owns three pieces of behaviour:
//
//   - The translation pipeline (HandleEvent) turns each sensor state event
//     into a Telemetry document on <publish prefix><MAC> and, when discovery
//     is enabled, republishes the sensor's Home Assistant descriptors.
//   - The EnrollmentController answers scan commands by listing the
//     gateway's sensors before and after a scan window and publishing
//     {"macs": [...]} for any that appeared.
//   - The DiscoveryAnnouncer builds the state, signal strength and battery
//     descriptors for a sensor.
//
// Failures in the event path are tagged with an ErrorKind, logged and
// counted; they never reach the gateway's event callback. The package does
// not import the MQTT or gateway drivers. It depends only on the small
// MQTTClient and Gateway interfaces.
//
// SensorRecorder keeps an optional SQLite inventory of sensors, Collector
// exposes counters to Prometheus, and HealthReporter writes periodic
// statistics to an optional metrics sink.
package bridge
