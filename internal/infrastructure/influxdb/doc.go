// Package influxdb pushes bridge operational statistics to InfluxDB v2.
//
// One measurement is written by the bridge:
//
//	bridge_stats  tags: status, gateway  fields: counters from the bridge
//
// Sensor readings are not stored. The integration is optional: Connect
// returns ErrDisabled when it is off, and every write method is a no-op on
// a closed or nil client.
package influxdb
