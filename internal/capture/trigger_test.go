package capture

import (
	"testing"
	"time"

	"github.com/scandesk/capture-agent/internal/types"
)

func triggerAt(cfg TriggerConfig) (*Trigger, time.Time) {
	tr := NewTrigger(cfg)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.Begin(base)
	return tr, base
}

func TestTriggerFiresAfterStabilityWindow(t *testing.T) {
	tr, now := triggerAt(TriggerConfig{StabilityWindow: 3})

	seq := []types.Classification{types.Active, types.Settled, types.Settled}
	for i, c := range seq {
		now = now.Add(time.Second)
		if outcome, _ := tr.Observe(c, now); outcome != OutcomeNone {
			t.Fatalf("tick %d: outcome %v, want none", i, outcome)
		}
	}

	now = now.Add(time.Second)
	outcome, run := tr.Observe(types.Settled, now)
	if outcome != OutcomeFire {
		t.Fatalf("outcome %v, want fire", outcome)
	}
	if run != 3 {
		t.Fatalf("run = %d, want 3", run)
	}
}

func TestTriggerNeverFiresWithoutActivity(t *testing.T) {
	tr, now := triggerAt(TriggerConfig{StabilityWindow: 2})

	// A static scene is settled forever but must not fire.
	for i := 0; i < 20; i++ {
		now = now.Add(time.Second)
		if outcome, run := tr.Observe(types.Settled, now); outcome != OutcomeNone || run != 0 {
			t.Fatalf("tick %d: outcome %v run %d, want none/0", i, outcome, run)
		}
	}
}

func TestTriggerIndeterminateResetsRun(t *testing.T) {
	tr, now := triggerAt(TriggerConfig{StabilityWindow: 3})

	seq := []types.Classification{
		types.Active,
		types.Settled, types.Settled,
		types.Indeterminate, // flicker breaks the run
		types.Settled, types.Settled,
	}
	for i, c := range seq {
		now = now.Add(time.Second)
		if outcome, _ := tr.Observe(c, now); outcome != OutcomeNone {
			t.Fatalf("tick %d: outcome %v, want none", i, outcome)
		}
	}

	now = now.Add(time.Second)
	if outcome, _ := tr.Observe(types.Settled, now); outcome != OutcomeFire {
		t.Fatalf("outcome %v, want fire after run rebuilds", outcome)
	}
}

func TestTriggerActivityResetsRun(t *testing.T) {
	tr, now := triggerAt(TriggerConfig{StabilityWindow: 2})

	seq := []types.Classification{types.Active, types.Settled, types.Active}
	for _, c := range seq {
		now = now.Add(time.Second)
		tr.Observe(c, now)
	}
	if tr.Run() != 0 {
		t.Fatalf("run = %d after renewed activity, want 0", tr.Run())
	}
}

func TestTriggerForcedAtMaxDuration(t *testing.T) {
	tr, now := triggerAt(TriggerConfig{
		StabilityWindow: 3,
		MaxDuration:     10 * time.Second,
	})

	// Signal never settles: active every tick.
	for i := 0; i < 9; i++ {
		now = now.Add(time.Second)
		if outcome, _ := tr.Observe(types.Active, now); outcome != OutcomeNone {
			t.Fatalf("tick %d: outcome %v, want none", i, outcome)
		}
	}

	now = now.Add(time.Second)
	if outcome, _ := tr.Observe(types.Active, now); outcome != OutcomeForced {
		t.Fatalf("outcome %v, want forced at max duration", outcome)
	}
}

func TestTriggerAbortsOnIdleTimeout(t *testing.T) {
	tr, now := triggerAt(TriggerConfig{
		StabilityWindow: 3,
		IdleTimeout:     5 * time.Second,
	})

	for i := 0; i < 4; i++ {
		now = now.Add(time.Second)
		if outcome, _ := tr.Observe(types.Indeterminate, now); outcome != OutcomeNone {
			t.Fatalf("tick %d: outcome %v, want none", i, outcome)
		}
	}

	now = now.Add(time.Second)
	if outcome, _ := tr.Observe(types.Indeterminate, now); outcome != OutcomeAbort {
		t.Fatalf("outcome %v, want abort", outcome)
	}
}

func TestTriggerNoIdleAbortAfterActivity(t *testing.T) {
	tr, now := triggerAt(TriggerConfig{
		StabilityWindow: 100,
		IdleTimeout:     2 * time.Second,
	})

	now = now.Add(time.Second)
	tr.Observe(types.Active, now)

	// Well past the idle timeout, but activity was seen: no abort.
	now = now.Add(time.Minute)
	if outcome, _ := tr.Observe(types.Indeterminate, now); outcome != OutcomeNone {
		t.Fatalf("outcome %v, want none once activity was seen", outcome)
	}
}

func TestTriggerBeginClearsState(t *testing.T) {
	tr, now := triggerAt(TriggerConfig{StabilityWindow: 1})

	now = now.Add(time.Second)
	tr.Observe(types.Active, now)
	now = now.Add(time.Second)
	if outcome, _ := tr.Observe(types.Settled, now); outcome != OutcomeFire {
		t.Fatal("expected fire to set up the test")
	}

	tr.Begin(now)
	if tr.Run() != 0 || tr.SawActivity() {
		t.Fatalf("run=%d sawActivity=%v after Begin, want 0/false", tr.Run(), tr.SawActivity())
	}

	// A settled tick right after Begin must not re-fire.
	now = now.Add(time.Second)
	if outcome, _ := tr.Observe(types.Settled, now); outcome != OutcomeNone {
		t.Fatalf("outcome %v right after Begin, want none", outcome)
	}
}
