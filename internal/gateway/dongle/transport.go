package dongle

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	// hidReportSize is the fixed HID input report size. The first byte of
	// each report is the number of valid bytes that follow.
	hidReportSize = 0x40

	// serialPollInterval bounds each serial read so Close is noticed.
	serialPollInterval = 200 * time.Millisecond

	defaultBaudRate = 115200
)

// transport moves raw bytes to and from the dongle.
//
// ReadFrame returns the next chunk of the byte stream; chunks carry no
// packet alignment. An empty chunk with a nil error is a read timeout.
type transport interface {
	ReadFrame() ([]byte, error)
	Write(b []byte) (int, error)
	Close() error
}

// openTransport opens device as a raw HID node for /dev/hidraw* and as a
// serial port otherwise.
func openTransport(device string, baudRate int) (transport, error) {
	if strings.HasPrefix(device, "/dev/hidraw") {
		f, err := os.OpenFile(device, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", device, err)
		}
		return &hidTransport{f: f}, nil
	}

	if baudRate <= 0 {
		baudRate = defaultBaudRate
	}
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", device, err)
	}
	if err := port.SetReadTimeout(serialPollInterval); err != nil {
		port.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("configuring serial port %s: %w", device, err)
	}
	return &serialTransport{port: port}, nil
}

type hidTransport struct {
	f *os.File
}

func (t *hidTransport) ReadFrame() ([]byte, error) {
	report := make([]byte, hidReportSize)
	n, err := t.f.Read(report)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	size := int(report[0])
	if size > n-1 {
		size = n - 1
	}
	return report[1 : 1+size], nil
}

func (t *hidTransport) Write(b []byte) (int, error) { return t.f.Write(b) }
func (t *hidTransport) Close() error                { return t.f.Close() }

type serialTransport struct {
	port serial.Port
}

func (t *serialTransport) ReadFrame() ([]byte, error) {
	buf := make([]byte, hidReportSize)
	n, err := t.port.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (t *serialTransport) Write(b []byte) (int, error) { return t.port.Write(b) }
func (t *serialTransport) Close() error                { return t.port.Close() }
