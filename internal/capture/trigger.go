package capture

import (
	"time"

	"github.com/scandesk/capture-agent/internal/types"
)

// TriggerConfig holds the debounce and timeout parameters for one attempt.
type TriggerConfig struct {
	// StabilityWindow is the number of consecutive settled ticks required
	// before the trigger fires.
	StabilityWindow int

	// IdleTimeout aborts an attempt when no activity has been classified
	// within this duration. The abort is silent and restarts the attempt.
	IdleTimeout time.Duration

	// MaxDuration force-finalizes an attempt that has been in progress this
	// long regardless of classifier state, guaranteeing forward progress
	// under input that never fully settles.
	MaxDuration time.Duration
}

// Outcome is the trigger's decision for one tick.
type Outcome int

// Trigger outcomes.
const (
	// OutcomeNone means keep sampling.
	OutcomeNone Outcome = iota
	// OutcomeFire means the stability window was reached: capture now.
	OutcomeFire
	// OutcomeForced means the attempt hit its hard ceiling and is treated
	// as if it had stabilized.
	OutcomeForced
	// OutcomeAbort means the idle timeout expired with no activity; the
	// attempt restarts from a clean state and nothing is enqueued.
	OutcomeAbort
)

// Trigger debounces classifications into a single fire-once decision per
// detected event. Not safe for concurrent use; it is owned by the session
// controller's tick loop.
type Trigger struct {
	cfg TriggerConfig

	run          int
	sawActive    bool
	attemptStart time.Time
}

// NewTrigger returns a trigger for the given debounce parameters.
func NewTrigger(cfg TriggerConfig) *Trigger {
	return &Trigger{cfg: cfg}
}

// SetConfig updates the debounce parameters. Applied live so threshold tuning
// does not require restarting a session.
func (t *Trigger) SetConfig(cfg TriggerConfig) {
	t.cfg = cfg
}

// Begin resets all run state and marks the start of a fresh attempt. It is
// called when a session arms and, atomically with the reference snapshot
// update, after every fire so residual state cannot double-fire.
func (t *Trigger) Begin(now time.Time) {
	t.run = 0
	t.sawActive = false
	t.attemptStart = now
}

// Observe advances the stability run with one classification and returns the
// resulting outcome plus the current run length.
//
// A settled tick only counts once activity has been seen in this attempt, so
// a static scene or ongoing silence never fires. Any classification that
// breaks a settled run resets it to zero, rejecting transient flicker.
func (t *Trigger) Observe(c types.Classification, now time.Time) (Outcome, int) {
	switch c {
	case types.Active:
		t.sawActive = true
		t.run = 0
	case types.Settled:
		if t.sawActive {
			t.run++
		}
	default:
		t.run = 0
	}

	if t.sawActive && t.run >= t.cfg.StabilityWindow {
		return OutcomeFire, t.run
	}

	if t.cfg.MaxDuration > 0 && now.Sub(t.attemptStart) >= t.cfg.MaxDuration {
		return OutcomeForced, t.run
	}

	if !t.sawActive && t.cfg.IdleTimeout > 0 && now.Sub(t.attemptStart) >= t.cfg.IdleTimeout {
		return OutcomeAbort, t.run
	}

	return OutcomeNone, t.run
}

// Run returns the current consecutive-settled count.
func (t *Trigger) Run() int {
	return t.run
}

// SawActivity reports whether any tick of this attempt classified as active.
func (t *Trigger) SawActivity() bool {
	return t.sawActive
}
