package dongle

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame magic. The direction is encoded in the byte order.
const (
	magicToDongle uint16 = 0xAA55
	magicToHost   uint16 = 0x55AA
)

// Packet types.
const (
	typeSync  byte = 0x43
	typeAsync byte = 0x53
)

// ackCmd marks an async acknowledgement. The acknowledged command id is
// carried in the length byte.
const ackCmd byte = 0xFF

// headerLen covers magic, type, length and command.
const headerLen = 5

// ackLen is the fixed size of an acknowledgement frame.
const ackLen = 7

// Command is a packet type in the high byte and a command id in the low byte.
// A command's response is always Command+1.
type Command uint16

func cmd(typ, id byte) Command { return Command(uint16(typ)<<8 | uint16(id)) }

// Type returns the packet type byte.
func (c Command) Type() byte { return byte(c >> 8) }

// ID returns the command id byte.
func (c Command) ID() byte { return byte(c) }

// Response returns the command the dongle answers with.
func (c Command) Response() Command { return c + 1 }

func (c Command) String() string { return fmt.Sprintf("0x%04X", uint16(c)) }

// Host to dongle.
var (
	cmdGetEnr         = cmd(typeSync, 0x02)
	cmdGetMAC         = cmd(typeSync, 0x04)
	cmdInquiry        = cmd(typeSync, 0x27)
	cmdFinishAuth     = cmd(typeAsync, 0x14)
	cmdGetVersion     = cmd(typeAsync, 0x16)
	cmdStartStopScan  = cmd(typeAsync, 0x1C)
	cmdGetSensorR1    = cmd(typeAsync, 0x21)
	cmdVerifySensor   = cmd(typeAsync, 0x23)
	cmdGetSensorCount = cmd(typeAsync, 0x2E)
	cmdGetSensorList  = cmd(typeAsync, 0x30)
)

// Dongle to host, unsolicited.
var (
	notifySensorAlarm = cmd(typeAsync, 0x19)
	notifySensorScan  = cmd(typeAsync, 0x20)
	notifySyncTime    = cmd(typeAsync, 0x32)
	notifyEventLog    = cmd(typeAsync, 0x35)
)

var (
	errShortPacket = errors.New("short packet")
	errBadMagic    = errors.New("bad magic")
	errBadLength   = errors.New("bad length")
	errChecksum    = errors.New("checksum mismatch")
)

// Packet is one framed message.
//
//	magic(2) type(1) len(1) cmd(1) payload(len-3) checksum(2)
//
// The checksum is the 16-bit sum of every preceding byte, big-endian.
type Packet struct {
	Cmd     Command
	Payload []byte
}

func newAck(acked Command) Packet {
	return Packet{Cmd: cmd(acked.Type(), ackCmd), Payload: []byte{acked.ID()}}
}

// IsAck reports whether p acknowledges another async packet.
func (p Packet) IsAck() bool { return p.Cmd.ID() == ackCmd }

// Acked returns the acknowledged command for an ack packet.
func (p Packet) Acked() Command {
	if !p.IsAck() || len(p.Payload) == 0 {
		return 0
	}
	return cmd(p.Cmd.Type(), p.Payload[0])
}

// Marshal encodes p for the wire with the given magic.
func (p Packet) Marshal(magic uint16) []byte {
	var b []byte
	if p.IsAck() {
		b = make([]byte, 0, ackLen)
		b = binary.BigEndian.AppendUint16(b, magic)
		b = append(b, p.Cmd.Type(), p.Payload[0], ackCmd)
	} else {
		b = make([]byte, 0, headerLen+len(p.Payload)+2)
		b = binary.BigEndian.AppendUint16(b, magic)
		b = append(b, p.Cmd.Type(), byte(len(p.Payload)+3), p.Cmd.ID())
		b = append(b, p.Payload...)
	}
	return binary.BigEndian.AppendUint16(b, checksum(b))
}

func checksum(b []byte) uint16 {
	var sum uint16
	for _, c := range b {
		sum += uint16(c)
	}
	return sum
}

// parsePacket decodes the packet at the start of b and returns it with the
// number of bytes consumed. errShortPacket means more bytes are needed.
func parsePacket(b []byte) (Packet, int, error) {
	if len(b) < headerLen {
		return Packet{}, 0, errShortPacket
	}

	magic := binary.BigEndian.Uint16(b)
	if magic != magicToHost && magic != magicToDongle {
		return Packet{}, 0, errBadMagic
	}

	typ, lenByte, id := b[2], b[3], b[4]

	n := ackLen
	if id != ackCmd {
		if lenByte < 3 {
			return Packet{}, 0, errBadLength
		}
		n = int(lenByte) + 4
	}
	if len(b) < n {
		return Packet{}, 0, errShortPacket
	}

	if got, want := binary.BigEndian.Uint16(b[n-2:]), checksum(b[:n-2]); got != want {
		return Packet{}, 0, fmt.Errorf("%w: got 0x%04X, want 0x%04X", errChecksum, got, want)
	}

	p := Packet{Cmd: cmd(typ, id)}
	if id == ackCmd {
		p.Payload = []byte{lenByte}
	} else {
		p.Payload = append([]byte(nil), b[headerLen:n-2]...)
	}
	return p, n, nil
}
