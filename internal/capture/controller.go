package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scandesk/capture-agent/internal/eventlog"
	"github.com/scandesk/capture-agent/internal/source"
	"github.com/scandesk/capture-agent/internal/types"
	"github.com/scandesk/capture-agent/internal/util"
)

// ErrLockHeld is returned by Start when the activity lock is not free, e.g.
// while an exclusive external operation still holds it.
var ErrLockHeld = errors.New("activity lock held")

// gateWaitInterval is how often a cooling-down session re-checks the
// exclusive external gate before re-arming.
const gateWaitInterval = 50 * time.Millisecond

// ControllerConfig holds the per-session sampling parameters. Trigger
// thresholds may be updated live via ApplyConfig; the tick cadence is fixed
// for the lifetime of a session.
type ControllerConfig struct {
	TickInterval  time.Duration
	Trigger       TriggerConfig
	MaxReadMisses int
}

// Controller runs one capture session: the Sampler -> Classifier -> Trigger
// tick loop, the activity lock, and hand-off of fired captures to the
// processing queue. States: Idle -> Armed -> Capturing -> Cooldown -> Armed
// (loop) | Stopped.
type Controller struct {
	kind   types.SessionKind
	src    source.Source
	det    Detector
	norm   Normalizer
	queue  *Queue
	lock   *ActivityLock
	gate   Gate // shared "response being spoken" gate, may be nil
	events *eventlog.Logger

	mu           sync.Mutex
	cfg          ControllerConfig
	state        types.SessionState
	startPending bool
	stopping     bool
	stopCh       chan struct{}
	done         chan struct{}

	lastMagnitude float64
	runLen        int
	captures      uint64
	lastCaptured  time.Time
	lastErr       error
}

// NewController returns an idle session controller with its own activity lock.
func NewController(kind types.SessionKind, src source.Source, det Detector, norm Normalizer, queue *Queue, gate Gate, events *eventlog.Logger, cfg ControllerConfig) *Controller {
	return &Controller{
		kind:   kind,
		src:    src,
		det:    det,
		norm:   norm,
		queue:  queue,
		lock:   NewActivityLock(),
		gate:   gate,
		events: events,
		cfg:    cfg,
		state:  types.StateIdle,
	}
}

// Kind returns the session's modality.
func (c *Controller) Kind() types.SessionKind {
	return c.kind
}

// Lock exposes the session's activity lock for external exclusive operations.
func (c *Controller) Lock() *ActivityLock {
	return c.lock
}

// ApplyConfig updates trigger thresholds for the running session. The tick
// cadence and read-miss budget take effect on the next Start.
func (c *Controller) ApplyConfig(cfg ControllerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Start acquires the signal source and arms the session. A start request
// while already armed, or while another start is pending, is a no-op: starts
// can be requested from independent asynchronous triggers and must not
// overlap.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.startPending || (c.state != types.StateIdle && c.state != types.StateStopped) {
		c.mu.Unlock()
		return nil
	}
	c.startPending = true
	c.mu.Unlock()

	handle, err := c.src.Acquire(ctx)
	if err != nil {
		c.mu.Lock()
		c.startPending = false
		c.lastErr = err
		c.mu.Unlock()
		_ = c.events.LogSession(eventlog.SessionError, string(c.kind), err.Error())
		return util.WrapError("acquire capture source", err)
	}

	if !c.lock.TryAcquire(types.LockSampling) {
		_ = handle.Release()
		c.mu.Lock()
		c.startPending = false
		c.mu.Unlock()
		return ErrLockHeld
	}

	c.mu.Lock()
	c.state = types.StateArmed
	c.startPending = false
	c.stopping = false
	c.lastErr = nil
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	stopCh, done := c.stopCh, c.done
	c.mu.Unlock()

	_ = c.events.LogSession(eventlog.SessionStarted, string(c.kind), "")
	slog.Info("capture session armed", "kind", c.kind)

	go c.run(handle, stopCh, done)
	return nil
}

// Stop cancels the tick schedule and releases the signal source before
// returning, so a subsequent Start cannot race against a not-yet-released
// device handle. Already-enqueued tasks are unaffected and continue draining.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == types.StateIdle || c.state == types.StateStopped {
		c.mu.Unlock()
		return
	}
	if c.stopping {
		done := c.done
		c.mu.Unlock()
		<-done
		return
	}
	c.stopping = true
	stopCh, done := c.stopCh, c.done
	c.mu.Unlock()

	close(stopCh)
	<-done
}

// run is the session tick loop. It owns all per-attempt state; the only
// shared state it touches is guarded by c.mu or the activity lock.
func (c *Controller) run(handle source.Handle, stopCh chan struct{}, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := handle.Release(); err != nil {
			slog.Warn("failed to release capture source", "kind", c.kind, "error", err)
		}
		c.lock.Release()
		c.det.Reset()
		c.setState(types.StateStopped)
		_ = c.events.LogSession(eventlog.SessionStopped, string(c.kind), "")
		slog.Info("capture session stopped", "kind", c.kind)
	}()

	c.mu.Lock()
	tick := c.cfg.TickInterval
	c.mu.Unlock()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	trigger := NewTrigger(c.triggerConfig())
	trigger.Begin(time.Now())

	var attempt []byte // voice: accumulated chunks; document: latest frame
	misses := 0

	for {
		select {
		case <-stopCh:
			return

		case now := <-ticker.C:
			// The lock and the shared gate both gate the tick: while
			// either is held, no sampling or classification state
			// advances.
			if c.lock.State() != types.LockSampling {
				continue
			}
			if c.gate != nil && c.gate.Held() {
				continue
			}

			raw, err := handle.ReadRaw()
			if err != nil {
				if errors.Is(err, source.ErrReadMiss) {
					misses++
					if misses <= c.maxReadMisses() {
						continue
					}
					err = fmt.Errorf("%w: %d consecutive read misses", source.ErrDeviceUnavailable, misses)
				}
				c.fail(err)
				return
			}
			misses = 0

			trigger.SetConfig(c.triggerConfig())

			cls, sample := c.det.Process(raw, now)
			if c.kind == types.KindVoice {
				attempt = append(attempt, raw...)
			} else {
				attempt = raw
			}

			outcome, run := trigger.Observe(cls, now)
			c.noteSample(sample.Magnitude, run)

			switch outcome {
			case OutcomeFire, OutcomeForced:
				if !c.capture(attempt, raw, sample, run, outcome, trigger, now, stopCh) {
					return
				}
				attempt = nil
			case OutcomeAbort:
				slog.Debug("attempt idle timeout, restarting", "kind", c.kind)
				_ = c.events.LogCapture(eventlog.AttemptTimeout, string(c.kind), &eventlog.CaptureDetails{
					Magnitude: sample.Magnitude,
				})
				trigger.Begin(now)
				attempt = nil
			}
		}
	}
}

// capture finalizes a fired attempt: normalize, enqueue, cool down, re-arm.
// It reports false when the session was stopped while cooling down.
func (c *Controller) capture(buf, raw []byte, sample Sample, run int, outcome Outcome, trigger *Trigger, now time.Time, stopCh chan struct{}) bool {
	c.setState(types.StateCapturing)
	c.lock.Set(types.LockEncoding)

	// Atomic with the fire: snapshot the reference and clear run state in
	// the same step so residual state cannot fire a second time.
	c.det.CommitReference(raw)
	trigger.Begin(now)

	eventType := eventlog.CaptureFired
	if outcome == OutcomeForced {
		eventType = eventlog.CaptureForced
	}

	artifact, err := c.norm.Normalize(buf)
	switch {
	case errors.Is(err, ErrArtifactTooShort):
		slog.Debug("capture below minimum duration, discarding", "kind", c.kind, "bytes", len(buf))
		_ = c.events.LogCapture(eventlog.CaptureDiscarded, string(c.kind), &eventlog.CaptureDetails{
			SizeBytes: len(buf),
			Reason:    "below minimum duration",
		})
	case err != nil:
		// Absorbed locally: the sampler resumes immediately.
		slog.Warn("normalization failed, discarding capture", "kind", c.kind, "error", err)
		_ = c.events.LogCapture(eventlog.CaptureDiscarded, string(c.kind), &eventlog.CaptureDetails{
			SizeBytes: len(buf),
			Reason:    err.Error(),
		})
	default:
		c.queue.Enqueue(NewTask(artifact))
		c.mu.Lock()
		c.captures++
		c.lastCaptured = now
		c.mu.Unlock()
		_ = c.events.LogCapture(eventType, string(c.kind), &eventlog.CaptureDetails{
			Magnitude:  sample.Magnitude,
			RunLength:  run,
			SizeBytes:  len(artifact.Data),
			DurationMs: artifact.Duration.Milliseconds(),
		})
	}

	// Cooldown: release the lock, wait out any exclusive external operation
	// (e.g. the response being spoken), then re-arm.
	c.setState(types.StateCooldown)
	c.lock.Release()

	if c.gate != nil && c.gate.Held() {
		c.lock.TryAcquire(types.LockAwaitingResponse)
		if !c.waitGateClear(stopCh) {
			return false
		}
		c.lock.Release()
	}

	for !c.lock.TryAcquire(types.LockSampling) {
		select {
		case <-stopCh:
			return false
		case <-time.After(gateWaitInterval):
		}
	}

	c.setState(types.StateArmed)
	return true
}

// waitGateClear blocks until the shared gate releases or the session stops.
func (c *Controller) waitGateClear(stopCh chan struct{}) bool {
	for c.gate.Held() {
		select {
		case <-stopCh:
			return false
		case <-time.After(gateWaitInterval):
		}
	}
	return true
}

// fail records a hard session error. Only device loss reaches here; all
// transient conditions are absorbed in the tick loop.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	slog.Error("capture session failed", "kind", c.kind, "error", err)
	_ = c.events.LogSession(eventlog.SessionError, string(c.kind), err.Error())
}

func (c *Controller) setState(s types.SessionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) noteSample(magnitude float64, run int) {
	c.mu.Lock()
	c.lastMagnitude = magnitude
	c.runLen = run
	c.mu.Unlock()
}

func (c *Controller) triggerConfig() TriggerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Trigger
}

func (c *Controller) maxReadMisses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.MaxReadMisses
}

// Err returns the last hard error, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Status returns a point-in-time snapshot of the session.
func (c *Controller) Status() types.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := types.SessionStatus{
		Kind:      c.kind,
		State:     c.state,
		Lock:      c.lock.State(),
		Magnitude: c.lastMagnitude,
		RunLength: c.runLen,
		Captures:  c.captures,
	}
	if !c.lastCaptured.IsZero() {
		status.LastCaptured = c.lastCaptured.Format(time.RFC3339)
	}
	return status
}
