package dongle

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nerrad567/wyzesense-bridge/internal/gateway"
)

// Alarm record layout: timestamp ms (8, BE), event type (1), MAC (8), data.
const (
	alarmHeaderLen = 17
	alarmDataLen   = 9
	macLen         = 8

	alarmEventStatus byte = 0xA1
	alarmEventState  byte = 0xA2
)

// Offsets into alarm data.
const (
	alarmSensorType = 0
	alarmBattery    = 2
	alarmState      = 5
	alarmSignal     = 8
)

// decodeAlarm turns a sensor alarm payload into an event.
//
// Sensor types the dongle reports for contact sensors are 0x01 and 0x0E
// (v2), for motion sensors 0x02 and 0x0F (v2). Any other type yields an
// event of KindUnknown with RawState "unknown".
func decodeAlarm(payload []byte) (gateway.SensorEvent, error) {
	if len(payload) < alarmHeaderLen+alarmDataLen {
		return gateway.SensorEvent{}, fmt.Errorf("alarm payload too short: %d bytes", len(payload))
	}

	ms := binary.BigEndian.Uint64(payload[0:8])
	eventType := payload[8]
	mac := string(payload[9 : 9+macLen])
	data := payload[alarmHeaderLen:]

	ev := gateway.SensorEvent{
		MAC:            mac,
		BatteryPercent: int(data[alarmBattery]),
		SignalRssiRaw:  int(data[alarmSignal]),
		Timestamp:      time.UnixMilli(int64(ms)), //nolint:gosec // dongle clock fits int64
	}

	switch eventType {
	case alarmEventState:
		ev.Type = gateway.EventState
	case alarmEventStatus:
		ev.Type = gateway.EventStatus
	default:
		ev.Type = gateway.EventOther
	}

	on := data[alarmState] == 1
	switch data[alarmSensorType] {
	case 0x01, 0x0E:
		ev.Kind = gateway.KindContact
		ev.RawState = pick(on, "open", "closed")
	case 0x02, 0x0F:
		ev.Kind = gateway.KindMotion
		ev.RawState = pick(on, "active", "inactive")
	default:
		ev.Kind = gateway.KindUnknown
		ev.RawState = "unknown"
	}

	return ev, nil
}

// decodeScan parses a scan notification: [1:9] MAC, [9] type, [10] version.
func decodeScan(payload []byte) (*gateway.ScanResult, error) {
	if len(payload) != 11 {
		return nil, fmt.Errorf("scan payload has %d bytes, want 11", len(payload))
	}
	return &gateway.ScanResult{
		MAC:        string(payload[1:9]),
		SensorType: payload[9],
		Version:    payload[10],
	}, nil
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
