// Package dongle drives the WyzeSense USB bridge dongle.
//
// The dongle is a HID device (/dev/hidraw*) that frames every message as
//
//	magic(2) type(1) len(1) cmd(1) payload checksum(2)
//
// with magic AA55 towards the dongle and 55AA back. Synchronous commands
// (type 0x43) are answered directly; asynchronous ones (type 0x53) are
// acknowledged by the receiver before the answer follows. The answer to
// command N is always N+1.
//
// A Session runs the start-up handshake, then a read loop that reassembles
// packets, acknowledges async traffic, answers time sync requests and turns
// sensor alarm records into gateway.SensorEvent values. Serial devices are
// supported for USB-serial adapters carrying the same framing.
package dongle
