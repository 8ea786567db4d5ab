package dongle

import (
	"bytes"
	"errors"
	"testing"
)

func TestPacketMarshal(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		magic  uint16
		want   []byte
	}{
		{
			name:   "sync inquiry",
			packet: Packet{Cmd: cmdInquiry},
			magic:  magicToDongle,
			// AA 55 43 03 27 + checksum(0x016C)
			want: []byte{0xAA, 0x55, 0x43, 0x03, 0x27, 0x01, 0x6C},
		},
		{
			name:   "async with payload",
			packet: Packet{Cmd: cmdStartStopScan, Payload: []byte{0x01}},
			magic:  magicToDongle,
			want:   []byte{0xAA, 0x55, 0x53, 0x04, 0x1C, 0x01, 0x01, 0x73},
		},
		{
			name:   "ack carries acked id in length byte",
			packet: newAck(notifySensorAlarm),
			magic:  magicToDongle,
			want:   []byte{0xAA, 0x55, 0x53, 0x19, 0xFF, 0x02, 0x6A},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.packet.Marshal(tt.magic)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Marshal() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestParsePacket_Roundtrip(t *testing.T) {
	packets := []Packet{
		{Cmd: cmdGetMAC.Response(), Payload: []byte("GW000001")},
		{Cmd: cmdGetSensorCount.Response(), Payload: []byte{3}},
		{Cmd: notifySensorAlarm, Payload: bytes.Repeat([]byte{0x42}, 26)},
		newAck(cmdGetVersion),
	}

	for _, want := range packets {
		t.Run(want.Cmd.String(), func(t *testing.T) {
			wire := want.Marshal(magicToHost)
			got, n, err := parsePacket(append(wire, 0x55, 0xAA)) // trailing bytes are left alone
			if err != nil {
				t.Fatalf("parsePacket() error = %v", err)
			}
			if n != len(wire) {
				t.Errorf("consumed %d bytes, want %d", n, len(wire))
			}
			if got.Cmd != want.Cmd || !bytes.Equal(got.Payload, want.Payload) {
				t.Errorf("parsePacket() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestParsePacket_Errors(t *testing.T) {
	good := Packet{Cmd: cmdGetMAC.Response(), Payload: []byte("GW000001")}.Marshal(magicToHost)

	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0xFF

	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"header incomplete", good[:4], errShortPacket},
		{"payload incomplete", good[:len(good)-1], errShortPacket},
		{"bad magic", append([]byte{0x12, 0x34}, good[2:]...), errBadMagic},
		{"bad checksum", corrupt, errChecksum},
		{"impossible length", []byte{0x55, 0xAA, 0x53, 0x01, 0x20, 0x00, 0x00}, errBadLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := parsePacket(tt.input); !errors.Is(err, tt.want) {
				t.Errorf("parsePacket() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCommand(t *testing.T) {
	if cmdGetSensorList.Type() != typeAsync || cmdGetSensorList.ID() != 0x30 {
		t.Errorf("cmdGetSensorList = %s", cmdGetSensorList)
	}
	if cmdInquiry.Response() != 0x4328 {
		t.Errorf("cmdInquiry.Response() = %s, want 0x4328", cmdInquiry.Response())
	}
	ack := newAck(cmdFinishAuth)
	if !ack.IsAck() || ack.Acked() != cmdFinishAuth {
		t.Errorf("newAck(cmdFinishAuth) = %+v, acked %s", ack, ack.Acked())
	}
	if (Packet{Cmd: cmdFinishAuth}).Acked() != 0 {
		t.Error("Acked() on a non-ack packet should be zero")
	}
}
