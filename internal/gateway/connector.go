package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/config"
)

const (
	defaultEventQueueSize = 100

	// healthProbeTimeout bounds a single Ping issued by the supervisor.
	healthProbeTimeout = 5 * time.Second
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Stats holds connector statistics.
type Stats struct {
	Connected       bool
	Connects        uint64 // Successful session opens, including the first
	Reconnects      uint64 // Sessions replaced after a failure
	ConnectFailures uint64 // Failed open attempts
	HealthFailures  uint64 // Failed health probes
	EventsReceived  uint64
	EventsDropped   uint64 // Events dropped because the queue was full
	LastEvent       time.Time
}

// ConnectorOptions configures a Connector.
type ConnectorOptions struct {
	Driver Driver
	Config config.GatewayConfig
	Logger Logger
}

// Connector keeps a single gateway session open.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The event callback runs on one dedicated goroutine, so events are
//     delivered in the order the driver reported them.
type Connector struct {
	driver Driver
	cfg    config.GatewayConfig

	sessMu  sync.RWMutex
	session Session

	// opMu serializes commands on the session.
	opMu sync.Mutex

	onEvent    func(SensorEvent)
	callbackMu sync.RWMutex
	events     chan SensorEvent

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	connects        atomic.Uint64
	reconnects      atomic.Uint64
	connectFailures atomic.Uint64
	healthFailures  atomic.Uint64
	eventsReceived  atomic.Uint64
	eventsDropped   atomic.Uint64
	lastEvent       atomic.Int64
}

// NewConnector creates a connector and starts its event worker.
// No hardware is touched until Connect.
func NewConnector(opts ConnectorOptions) (*Connector, error) {
	if opts.Driver == nil {
		return nil, fmt.Errorf("gateway: driver is required")
	}

	queueSize := opts.Config.EventQueueSize
	if queueSize <= 0 {
		queueSize = defaultEventQueueSize
	}

	c := &Connector{
		driver: opts.Driver,
		cfg:    opts.Config,
		events: make(chan SensorEvent, queueSize),
		done:   newCloseOnce(),
		logger: opts.Logger,
	}

	c.wg.Add(1)
	go c.eventWorker()

	return c, nil
}

// Connect opens a gateway session, retrying with exponential backoff until
// it succeeds. Every failed attempt is logged with the delay before the next.
//
// Returns nil immediately if a session is already open. The only errors are
// ErrClosed and context cancellation, both wrapped in ErrConnectionFailed.
func (c *Connector) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	attempt := 0
	op := func() error {
		if c.isClosed() {
			return backoff.Permanent(ErrClosed)
		}
		attempt++

		sess, err := c.driver.Open(ctx, c.dispatch)
		if err != nil {
			c.connectFailures.Add(1)
			return &ConnectionError{Attempt: attempt, Err: err}
		}

		c.sessMu.Lock()
		if c.isClosed() {
			c.sessMu.Unlock()
			if cerr := sess.Close(); cerr != nil {
				c.logDebug("closing session opened during shutdown", "error", cerr)
			}
			return backoff.Permanent(ErrClosed)
		}
		c.session = sess
		c.sessMu.Unlock()
		c.connects.Add(1)

		info := sess.Info()
		c.logInfo("gateway connected",
			"attempt", attempt,
			"device", c.cfg.Device,
			"gateway_mac", info.MAC,
			"version", info.Version,
		)
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logWarn("gateway open failed, retrying",
			"device", c.cfg.Device,
			"error", err,
			"retry_in", wait,
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// newBackOff builds the reconnect schedule: InitialDelay doubling (by
// Multiplier) up to MaxDelay, with no elapsed-time limit.
func (c *Connector) newBackOff() backoff.BackOff {
	r := c.cfg.Reconnect

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialDelay
	b.MaxInterval = r.MaxDelay
	b.Multiplier = r.Multiplier
	b.RandomizationFactor = r.Jitter
	b.MaxElapsedTime = 0

	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}

	b.Reset()
	return b
}

// Supervise blocks until ctx is cancelled or the connector is closed,
// replacing the session whenever it dies or fails a health probe.
//
// It connects first if no session is open.
func (c *Connector) Supervise(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return c.superviseExit(ctx, err)
	}

	var tick <-chan time.Time
	if c.cfg.HealthCheckInterval > 0 {
		ticker := time.NewTicker(c.cfg.HealthCheckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		sess := c.currentSession()
		var sessDone <-chan struct{}
		if sess != nil {
			sessDone = sess.Done()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.done.Done():
			return nil

		case <-sessDone:
			c.logWarn("gateway session lost", "error", sess.Err())
			if err := c.replaceSession(ctx, sess); err != nil {
				return c.superviseExit(ctx, err)
			}

		case <-tick:
			if sess == nil {
				continue
			}
			if err := c.probe(ctx, sess); err != nil {
				c.healthFailures.Add(1)
				c.logWarn("gateway health check failed", "error", err)
				if err := c.replaceSession(ctx, sess); err != nil {
					return c.superviseExit(ctx, err)
				}
			}
		}
	}
}

// superviseExit hides the cancellation error on a normal shutdown.
func (c *Connector) superviseExit(ctx context.Context, err error) error {
	if ctx.Err() != nil || c.isClosed() {
		return nil
	}
	return err
}

// probe pings the session unless another command holds it. A scan in
// progress is itself proof the gateway is answering.
func (c *Connector) probe(ctx context.Context, sess Session) error {
	if !c.opMu.TryLock() {
		c.logDebug("gateway busy, skipping health check")
		return nil
	}
	defer c.opMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	if err := sess.Ping(probeCtx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

// replaceSession closes a failed session and reconnects with backoff.
func (c *Connector) replaceSession(ctx context.Context, failed Session) error {
	c.sessMu.Lock()
	if c.session == failed {
		c.session = nil
	}
	c.sessMu.Unlock()

	if err := failed.Close(); err != nil {
		c.logDebug("closing failed gateway session", "error", err)
	}

	c.reconnects.Add(1)
	return c.Connect(ctx)
}

// List returns the MACs of all paired sensors.
func (c *Connector) List(ctx context.Context) ([]string, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sess := c.currentSession()
	if sess == nil {
		return nil, ErrNotConnected
	}

	macs, err := sess.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway list: %w", err)
	}
	return macs, nil
}

// Scan runs one pairing window. It holds the session for the whole window,
// so health probes and other commands wait or are skipped.
func (c *Connector) Scan(ctx context.Context) (*ScanResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sess := c.currentSession()
	if sess == nil {
		return nil, ErrNotConnected
	}

	result, err := sess.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway scan: %w", err)
	}
	return result, nil
}

// SetOnEvent sets the callback for sensor events.
//
// The callback is invoked on the connector's event goroutine, one event at a
// time. Panics in the callback are recovered and logged.
func (c *Connector) SetOnEvent(callback func(SensorEvent)) {
	c.callbackMu.Lock()
	c.onEvent = callback
	c.callbackMu.Unlock()
}

// dispatch is handed to the driver. It must not block the read loop, so a
// full queue drops the event.
func (c *Connector) dispatch(ev SensorEvent) {
	if c.isClosed() {
		return
	}

	c.eventsReceived.Add(1)
	c.lastEvent.Store(time.Now().Unix())

	select {
	case c.events <- ev:
	default:
		c.eventsDropped.Add(1)
		c.logWarn("event queue full, dropping sensor event",
			"mac", ev.MAC,
			"queue_size", cap(c.events),
		)
	}
}

func (c *Connector) eventWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case ev := <-c.events:
			c.deliver(ev)
		}
	}
}

func (c *Connector) deliver(ev SensorEvent) {
	c.callbackMu.RLock()
	callback := c.onEvent
	c.callbackMu.RUnlock()

	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logError("sensor event callback panic", fmt.Errorf("%v", r))
		}
	}()
	callback(ev)
}

func (c *Connector) currentSession() Session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.session
}

func (c *Connector) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// IsConnected reports whether a live session is open.
func (c *Connector) IsConnected() bool {
	sess := c.currentSession()
	if sess == nil {
		return false
	}
	select {
	case <-sess.Done():
		return false
	default:
		return true
	}
}

// Info returns the identity of the open gateway, or a zero value.
func (c *Connector) Info() SessionInfo {
	if sess := c.currentSession(); sess != nil {
		return sess.Info()
	}
	return SessionInfo{}
}

// Stats returns a snapshot of the connector counters.
func (c *Connector) Stats() Stats {
	s := Stats{
		Connected:       c.IsConnected(),
		Connects:        c.connects.Load(),
		Reconnects:      c.reconnects.Load(),
		ConnectFailures: c.connectFailures.Load(),
		HealthFailures:  c.healthFailures.Load(),
		EventsReceived:  c.eventsReceived.Load(),
		EventsDropped:   c.eventsDropped.Load(),
	}
	if ts := c.lastEvent.Load(); ts > 0 {
		s.LastEvent = time.Unix(ts, 0)
	}
	return s
}

// HealthCheck returns ErrNotConnected when no live session is open.
func (c *Connector) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetLogger sets the logger.
func (c *Connector) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Close stops event delivery and closes the session. Queued events that
// were not yet delivered are discarded. Safe to call multiple times.
func (c *Connector) Close() error {
	c.done.Close()

	c.sessMu.Lock()
	sess := c.session
	c.session = nil
	c.sessMu.Unlock()

	var err error
	if sess != nil {
		if cerr := sess.Close(); cerr != nil && !errors.Is(cerr, ErrSessionClosed) {
			err = fmt.Errorf("closing gateway session: %w", cerr)
		}
	}

	c.wg.Wait()
	c.logInfo("gateway connector closed")
	return err
}

func (c *Connector) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Connector) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Connector) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Connector) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Connector) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
