package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// scanQueueSize bounds how many scan commands may wait behind a running scan.
const scanQueueSize = 4

// scanResultQoS and scanResultRetain match what existing consumers expect
// on the scan result topic.
const (
	scanResultQoS    byte = 0
	scanResultRetain      = false
)

// EnrollmentState is the enrollment state machine: Idle -> Scanning -> Idle.
type EnrollmentState int32

const (
	StateIdle EnrollmentState = iota
	StateScanning
)

func (s EnrollmentState) String() string {
	if s == StateScanning {
		return "scanning"
	}
	return "idle"
}

// ScanResult is the document published when a scan finds new sensors.
type ScanResult struct {
	MACs []string `json:"macs"`
}

// EnrollmentStats holds enrollment counters.
type EnrollmentStats struct {
	State           EnrollmentState
	Scans           uint64 // Scans started
	ScanFailures    uint64
	SensorsEnrolled uint64 // Sensor MACs published as new
	CommandsDropped uint64 // Scan commands rejected because the queue was full
	LastScan        time.Time
}

// EnrollmentOptions configures an EnrollmentController.
type EnrollmentOptions struct {
	Gateway     Gateway
	Publisher   Publisher
	Recorder    Recorder // Optional
	ResultTopic string
}

// EnrollmentController discovers newly paired sensors by listing the
// gateway's sensors around a scan window and publishing the difference.
//
// Scans are serialized: the gateway has a single pairing window.
type EnrollmentController struct {
	gateway     Gateway
	publisher   Publisher
	recorder    Recorder
	resultTopic string

	scanMu sync.Mutex
	state  atomic.Int32

	commands chan struct{}

	scans           atomic.Uint64
	scanFailures    atomic.Uint64
	sensorsEnrolled atomic.Uint64
	commandsDropped atomic.Uint64
	lastScan        atomic.Int64

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	logHolder
}

// NewEnrollmentController creates a controller. Call Start to run queued
// scan commands.
func NewEnrollmentController(opts EnrollmentOptions) *EnrollmentController {
	return &EnrollmentController{
		gateway:     opts.Gateway,
		publisher:   opts.Publisher,
		recorder:    opts.Recorder,
		resultTopic: opts.ResultTopic,
		commands:    make(chan struct{}, scanQueueSize),
		done:        make(chan struct{}),
	}
}

// Start runs the scan command worker until ctx is cancelled or Stop is called.
func (e *EnrollmentController) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.worker(ctx)
	})
}

// Stop stops the worker and waits for a running scan to return.
// Safe to call multiple times.
func (e *EnrollmentController) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
	})
}

// State returns the current enrollment state.
func (e *EnrollmentController) State() EnrollmentState {
	return EnrollmentState(e.state.Load())
}

// Stats returns enrollment counters.
func (e *EnrollmentController) Stats() EnrollmentStats {
	s := EnrollmentStats{
		State:           e.State(),
		Scans:           e.scans.Load(),
		ScanFailures:    e.scanFailures.Load(),
		SensorsEnrolled: e.sensorsEnrolled.Load(),
		CommandsDropped: e.commandsDropped.Load(),
	}
	if ns := e.lastScan.Load(); ns != 0 {
		s.LastScan = time.Unix(0, ns)
	}
	return s
}

// HandleScanCommand queues a scan. It never blocks the broker's message loop.
// The payload is ignored.
func (e *EnrollmentController) HandleScanCommand(topic string, payload []byte) {
	e.logInfo("scan requested", "topic", topic, "payload", string(payload))
	if err := e.Enqueue(); err != nil {
		e.logWarn("scan command dropped", "error", err)
	}
}

// HandleRemoveCommand accepts a remove command. The gateway is not touched.
func (e *EnrollmentController) HandleRemoveCommand(topic string, payload []byte) {
	e.logInfo("remove requested, no action taken", "topic", topic, "payload", string(payload))
}

// Enqueue schedules a scan on the worker.
func (e *EnrollmentController) Enqueue() error {
	select {
	case e.commands <- struct{}{}:
		return nil
	default:
		e.commandsDropped.Add(1)
		return ErrScanQueueFull
	}
}

func (e *EnrollmentController) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-e.commands:
			e.runQueued(ctx)
		}
	}
}

// runQueued runs one scan with a context that also ends on Stop.
func (e *EnrollmentController) runQueued(ctx context.Context) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-e.done:
			cancel()
		case <-scanCtx.Done():
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			e.scanFailures.Add(1)
			e.logError("scan panicked", fmt.Errorf("%v", r))
		}
	}()

	macs, err := e.Scan(scanCtx)
	if err != nil {
		e.logError("scan failed", err)
		return
	}
	e.logInfo("scan complete", "new_sensors", len(macs))
}

// Scan lists the gateway's sensors, runs a scan window, lists them again and
// publishes the MACs that appeared. Nothing is published when no new sensor
// joined. Concurrent calls run one after another.
func (e *EnrollmentController) Scan(ctx context.Context) (macs []string, err error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	e.state.Store(int32(StateScanning))
	defer e.state.Store(int32(StateIdle))

	e.scans.Add(1)
	e.lastScan.Store(time.Now().UnixNano())
	defer func() {
		if err != nil {
			e.scanFailures.Add(1)
		}
	}()

	pre, err := e.gateway.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("pre-scan list: %w", err)
	}
	e.logDebug("pre-scan sensors", "macs", pre)

	joined, err := e.gateway.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if joined != nil {
		e.logInfo("sensor joined scan window", "mac", joined.MAC, "type", joined.SensorType, "version", joined.Version)
	}

	post, err := e.gateway.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("post-scan list: %w", err)
	}
	e.logDebug("post-scan sensors", "macs", post)

	diff := Diff(post, pre)
	if len(diff) == 0 {
		e.logInfo("scan found no new sensors")
		return nil, nil
	}

	payload, err := json.Marshal(ScanResult{MACs: diff})
	if err != nil {
		return nil, fmt.Errorf("marshal scan result: %w", err)
	}
	if err := e.publisher.Publish(e.resultTopic, payload, scanResultQoS, scanResultRetain); err != nil {
		return nil, fmt.Errorf("publish scan result: %w", err)
	}
	e.sensorsEnrolled.Add(uint64(len(diff)))
	e.logInfo("published new sensors", "topic", e.resultTopic, "macs", diff)

	if e.recorder != nil {
		if err := e.recorder.RecordEnrollment(ctx, diff); err != nil {
			e.logError("recording enrollment", err)
		}
	}

	return diff, nil
}

// Diff returns the MACs in post that are not in pre, without duplicates.
// Order follows post. The result is empty exactly when post is a subset of pre.
func Diff(post, pre []string) []string {
	known := make(map[string]struct{}, len(pre)+len(post))
	for _, mac := range pre {
		known[mac] = struct{}{}
	}

	var diff []string
	for _, mac := range post {
		if _, ok := known[mac]; ok {
			continue
		}
		known[mac] = struct{}{}
		diff = append(diff, mac)
	}
	return diff
}
