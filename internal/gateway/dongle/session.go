package dongle

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/wyzesense-bridge/internal/gateway"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/config"
)

const (
	defaultCommandTimeout = 2 * time.Second
	defaultScanTimeout    = 60 * time.Second

	// maxBufferedBytes caps the reassembly buffer if the stream never syncs.
	maxBufferedBytes = 4096
)

// sensorR1Challenge is the fixed challenge sent when verifying a new sensor.
var sensorR1Challenge = []byte("Ok5HPNQ4lf77u754")

// Driver opens sessions on the WyzeSense USB dongle.
type Driver struct {
	cfg    config.GatewayConfig
	logger gateway.Logger

	// dial is replaced in tests.
	dial func(device string, baudRate int) (transport, error)
}

var _ gateway.Driver = (*Driver)(nil)

// NewDriver creates a driver for the dongle at cfg.Device.
func NewDriver(cfg config.GatewayConfig, logger gateway.Logger) *Driver {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = defaultScanTimeout
	}
	return &Driver{cfg: cfg, logger: logger, dial: openTransport}
}

// Open opens the device, starts the read loop and runs the start-up
// handshake: inquiry, ENR exchange, MAC, version, finish auth.
func (d *Driver) Open(ctx context.Context, onEvent func(gateway.SensorEvent)) (gateway.Session, error) {
	t, err := d.dial(d.cfg.Device, d.cfg.BaudRate)
	if err != nil {
		return nil, err
	}

	s := newSession(t, d.cfg, onEvent, d.logger)
	if err := s.handshake(ctx); err != nil {
		s.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("dongle handshake: %w", err)
	}
	return s, nil
}

// Session is an open dongle.
type Session struct {
	t       transport
	cfg     config.GatewayConfig
	onEvent func(gateway.SensorEvent)
	logger  gateway.Logger

	writeMu sync.Mutex

	// cmdMu allows one command exchange at a time.
	cmdMu sync.Mutex

	handlersMu sync.Mutex
	handlers   map[Command]func(Packet)

	info gateway.SessionInfo

	done      chan struct{}
	closeOnce sync.Once
	closeT    sync.Once
	errMu     sync.Mutex
	err       error
	wg        sync.WaitGroup
}

var _ gateway.Session = (*Session)(nil)

func newSession(t transport, cfg config.GatewayConfig, onEvent func(gateway.SensorEvent), logger gateway.Logger) *Session {
	s := &Session{
		t:        t,
		cfg:      cfg,
		onEvent:  onEvent,
		logger:   logger,
		handlers: make(map[Command]func(Packet)),
		done:     make(chan struct{}),
	}
	s.handlers[notifySensorAlarm] = s.onAlarm
	s.handlers[notifySyncTime] = s.onSyncTime
	s.handlers[notifyEventLog] = s.onEventLog

	s.wg.Add(1)
	go s.readLoop()
	return s
}

func (s *Session) handshake(ctx context.Context) error {
	if _, err := s.command(ctx, Packet{Cmd: cmdInquiry}); err != nil {
		return fmt.Errorf("inquiry: %w", err)
	}

	enr, err := s.command(ctx, Packet{Cmd: cmdGetEnr, Payload: bytes.Repeat([]byte{0x30}, 16)})
	if err != nil {
		return fmt.Errorf("get enr: %w", err)
	}
	if len(enr) != 16 {
		return fmt.Errorf("get enr: unexpected %d-byte reply", len(enr))
	}

	mac, err := s.command(ctx, Packet{Cmd: cmdGetMAC})
	if err != nil {
		return fmt.Errorf("get mac: %w", err)
	}
	if len(mac) != macLen {
		return fmt.Errorf("get mac: unexpected %d-byte reply", len(mac))
	}

	version, err := s.command(ctx, Packet{Cmd: cmdGetVersion})
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}

	if _, err := s.command(ctx, Packet{Cmd: cmdFinishAuth, Payload: []byte{0xFF}}); err != nil {
		return fmt.Errorf("finish auth: %w", err)
	}

	s.info = gateway.SessionInfo{MAC: string(mac), Version: string(version)}
	s.logDebug("dongle handshake complete", "gateway_mac", s.info.MAC, "version", s.info.Version)
	return nil
}

// Info returns the dongle MAC and firmware version.
func (s *Session) Info() gateway.SessionInfo { return s.info }

// Ping sends an inquiry.
func (s *Session) Ping(ctx context.Context) error {
	resp, err := s.command(ctx, Packet{Cmd: cmdInquiry})
	if err != nil {
		return err
	}
	if len(resp) != 1 {
		return fmt.Errorf("inquiry: unexpected %d-byte reply", len(resp))
	}
	return nil
}

// List returns the paired sensor MACs. The dongle answers the list command
// with one packet per sensor.
func (s *Session) List(ctx context.Context) ([]string, error) {
	resp, err := s.command(ctx, Packet{Cmd: cmdGetSensorCount})
	if err != nil {
		return nil, fmt.Errorf("sensor count: %w", err)
	}
	if len(resp) != 1 {
		return nil, fmt.Errorf("sensor count: unexpected %d-byte reply", len(resp))
	}
	count := int(resp[0])
	if count == 0 {
		return []string{}, nil
	}

	macs := make([]string, 0, count)
	err = s.exchange(ctx, Packet{Cmd: cmdGetSensorList, Payload: []byte{byte(count)}}, cmdGetSensorList.Response(),
		func(p Packet) bool {
			if len(p.Payload) >= macLen {
				macs = append(macs, string(p.Payload[:macLen]))
			}
			return len(macs) == count
		})
	if err != nil {
		return nil, fmt.Errorf("sensor list: %w", err)
	}
	return macs, nil
}

// Scan enables pairing, waits up to the scan timeout for a sensor to
// announce itself, verifies it, and disables pairing again.
func (s *Session) Scan(ctx context.Context) (*gateway.ScanResult, error) {
	found := make(chan *gateway.ScanResult, 1)
	s.setHandler(notifySensorScan, func(p Packet) {
		result, err := decodeScan(p.Payload)
		if err != nil {
			s.logWarn("ignoring scan notification", "error", err)
			return
		}
		select {
		case found <- result:
		default:
		}
	})
	defer s.clearHandler(notifySensorScan)

	if _, err := s.command(ctx, Packet{Cmd: cmdStartStopScan, Payload: []byte{0x01}}); err != nil {
		return nil, fmt.Errorf("enable scan: %w", err)
	}

	result, err := s.awaitScan(ctx, found)
	if err == nil && result != nil {
		err = s.verify(ctx, result.MAC)
	}

	// Always close the pairing window, even when ctx is done.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommandTimeout)
	defer cancel()
	if _, stopErr := s.command(stopCtx, Packet{Cmd: cmdStartStopScan, Payload: []byte{0x00}}); stopErr != nil {
		err = errors.Join(err, fmt.Errorf("disable scan: %w", stopErr))
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Session) awaitScan(ctx context.Context, found <-chan *gateway.ScanResult) (*gateway.ScanResult, error) {
	timer := time.NewTimer(s.cfg.ScanTimeout)
	defer timer.Stop()

	select {
	case result := <-found:
		s.logInfo("sensor found during scan", "mac", result.MAC, "type", result.SensorType, "version", result.Version)
		return result, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, gateway.ErrSessionClosed
	}
}

func (s *Session) verify(ctx context.Context, mac string) error {
	payload := append([]byte(mac), sensorR1Challenge...)
	if _, err := s.command(ctx, Packet{Cmd: cmdGetSensorR1, Payload: payload}); err != nil {
		return fmt.Errorf("sensor r1 %s: %w", mac, err)
	}
	if _, err := s.command(ctx, Packet{Cmd: cmdVerifySensor, Payload: append([]byte(mac), 0xFF, 0x04)}); err != nil {
		return fmt.Errorf("verify sensor %s: %w", mac, err)
	}
	return nil
}

// command sends req and returns the payload of its single response.
func (s *Session) command(ctx context.Context, req Packet) ([]byte, error) {
	var resp []byte
	err := s.exchange(ctx, req, req.Cmd.Response(), func(p Packet) bool {
		resp = p.Payload
		return true
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// exchange sends req and feeds every packet with command want to collect
// until collect returns true. collect runs on the read goroutine.
func (s *Session) exchange(ctx context.Context, req Packet, want Command, collect func(Packet) bool) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	finished := make(chan struct{})
	var once sync.Once
	s.setHandler(want, func(p Packet) {
		select {
		case <-finished:
			return
		default:
		}
		if collect(p) {
			once.Do(func() { close(finished) })
		}
	})
	defer s.clearHandler(want)

	if err := s.write(req); err != nil {
		return err
	}

	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case <-finished:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", gateway.ErrTimeout, req.Cmd)
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return gateway.ErrSessionClosed
	}
}

func (s *Session) write(p Packet) error {
	select {
	case <-s.done:
		return gateway.ErrSessionClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.t.Write(p.Marshal(magicToDongle)); err != nil {
		return fmt.Errorf("writing %s: %w", p.Cmd, err)
	}
	return nil
}

func (s *Session) setHandler(c Command, h func(Packet)) {
	s.handlersMu.Lock()
	s.handlers[c] = h
	s.handlersMu.Unlock()
}

func (s *Session) clearHandler(c Command) {
	s.handlersMu.Lock()
	delete(s.handlers, c)
	s.handlersMu.Unlock()
}

func (s *Session) readLoop() {
	defer s.wg.Done()

	var buf []byte
	for {
		chunk, err := s.t.ReadFrame()
		if err != nil {
			s.fail(fmt.Errorf("reading %s: %w", s.cfg.Device, err))
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
		if len(chunk) == 0 {
			continue
		}

		buf = s.drain(append(buf, chunk...))
		if len(buf) > maxBufferedBytes {
			s.logWarn("discarding unsynchronised dongle input", "bytes", len(buf))
			buf = nil
		}
	}
}

// hostMagic is magicToHost as it appears on the wire.
var hostMagic = binary.BigEndian.AppendUint16(nil, magicToHost)

// drain handles every complete packet in buf and returns the unconsumed tail.
func (s *Session) drain(buf []byte) []byte {
	magic := hostMagic

	for {
		start := bytes.Index(buf, magic)
		if start < 0 {
			// Keep a trailing first magic byte; the second may be in the next chunk.
			if n := len(buf); n > 0 && buf[n-1] == magic[0] {
				return buf[n-1:]
			}
			return buf[:0]
		}
		buf = buf[start:]

		p, n, err := parsePacket(buf)
		switch {
		case errors.Is(err, errShortPacket):
			return buf
		case err != nil:
			s.logDebug("skipping bad dongle frame", "error", err)
			buf = buf[2:]
			continue
		}

		buf = buf[n:]
		s.handlePacket(p)
	}
}

func (s *Session) handlePacket(p Packet) {
	if p.IsAck() {
		return
	}
	if p.Cmd.Type() == typeAsync {
		if err := s.write(newAck(p.Cmd)); err != nil {
			s.logDebug("acknowledging dongle packet", "cmd", p.Cmd, "error", err)
		}
	}

	s.handlersMu.Lock()
	h := s.handlers[p.Cmd]
	s.handlersMu.Unlock()

	if h == nil {
		s.logDebug("unhandled dongle packet", "cmd", p.Cmd, "len", len(p.Payload))
		return
	}
	h(p)
}

func (s *Session) onAlarm(p Packet) {
	ev, err := decodeAlarm(p.Payload)
	if err != nil {
		s.logWarn("dropping sensor alarm", "error", err)
		return
	}
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func (s *Session) onSyncTime(Packet) {
	payload := binary.BigEndian.AppendUint64(nil, uint64(time.Now().UnixMilli())) //nolint:gosec // positive
	if err := s.write(Packet{Cmd: notifySyncTime.Response(), Payload: payload}); err != nil {
		s.logDebug("answering time sync", "error", err)
	}
}

func (s *Session) onEventLog(p Packet) {
	s.logDebug("dongle event log", "payload", fmt.Sprintf("%X", p.Payload))
}

// Done is closed when the read loop stops or Close is called.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// Close stops the read loop and closes the device. Safe to call more than once.
func (s *Session) Close() error {
	s.fail(gateway.ErrSessionClosed)

	var err error
	s.closeT.Do(func() { err = s.t.Close() })
	s.wg.Wait()
	return err
}

func (s *Session) logDebug(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, kv...)
	}
}

func (s *Session) logInfo(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Info(msg, kv...)
	}
}

func (s *Session) logWarn(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}
