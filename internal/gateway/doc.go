// Package gateway owns the connection to the WyzeSense USB gateway.
//
// A Driver opens a hardware Session; the Connector keeps exactly one session
// alive for the life of the process:
//
//   - Connect retries Driver.Open with exponential backoff until it succeeds
//     or the context is cancelled. There is no attempt ceiling.
//   - Supervise watches the session's Done channel and probes it with Ping on
//     a fixed interval. A dead session is closed and the connect loop runs
//     again.
//   - Sensor events reported by the driver are queued and handed to the
//     registered callback one at a time, in hardware order.
//
// List and Scan are serialized so the scan window and the health probe never
// interleave on the wire.
//
// The concrete USB dongle driver lives in the dongle subpackage.
package gateway
