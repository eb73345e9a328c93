package video

import (
	"testing"
	"time"

	"github.com/scandesk/capture-agent/internal/capture"
	"github.com/scandesk/capture-agent/internal/types"
)

// uniformFrame builds a 100-pixel RGB24 frame with every channel set to v.
func uniformFrame(v byte) []byte {
	f := make([]byte, 100*bytesPerPixel)
	for i := range f {
		f[i] = v
	}
	return f
}

func testConfig() Config {
	return Config{
		Diff:               DiffConfig{PixelThreshold: 90, SampleStride: 1},
		NewObjectThreshold: 25,
		SettledThreshold:   5,
	}
}

func TestClassify(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name string
		m    Measurement
		want types.Classification
	}{
		{"frame stopped moving", Measurement{RefDiff: 80, PrevDiff: 2}, types.Settled},
		{"new object in motion", Measurement{RefDiff: 60, PrevDiff: 40}, types.Active},
		{"same scene as last capture", Measurement{RefDiff: 10, PrevDiff: 30}, types.Indeterminate},
		{"settled wins over active", Measurement{RefDiff: 90, PrevDiff: 0}, types.Settled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.m, cfg); got != tt.want {
				t.Errorf("Classify(%+v) = %v, want %v", tt.m, got, tt.want)
			}
		})
	}
}

// TestDocumentArrivalFires walks a document placement through the detector
// and trigger: an empty desk, a sheet sliding in over two frames, then the
// sheet at rest. The trigger fires on the third still frame.
func TestDocumentArrivalFires(t *testing.T) {
	det := NewDetector(testConfig())
	trigger := capture.NewTrigger(capture.TriggerConfig{StabilityWindow: 3})
	now := time.Now()
	trigger.Begin(now)

	frames := [][]byte{
		uniformFrame(10),  // empty desk, first frame
		uniformFrame(10),  // still empty: settled but no activity yet
		uniformFrame(200), // sheet sliding in
		uniformFrame(60),  // still moving
		uniformFrame(60),  // at rest
		uniformFrame(60),
		uniformFrame(60),
	}

	fireIndex := -1
	var fired []byte
	for i, frame := range frames {
		now = now.Add(500 * time.Millisecond)
		cls, _ := det.Process(frame, now)
		outcome, _ := trigger.Observe(cls, now)
		if outcome == capture.OutcomeFire {
			fireIndex = i
			fired = frame
			break
		}
		if outcome != capture.OutcomeNone {
			t.Fatalf("frame %d: unexpected outcome %v", i, outcome)
		}
	}

	if fireIndex != 6 {
		t.Fatalf("fired at frame %d, want 6", fireIndex)
	}

	// After the capture the fired frame becomes the reference; the same
	// still scene must not re-trigger.
	det.CommitReference(fired)
	trigger.Begin(now)

	for i := 0; i < 10; i++ {
		now = now.Add(500 * time.Millisecond)
		cls, sample := det.Process(uniformFrame(60), now)
		if sample.Magnitude != 0 {
			t.Fatalf("still frame %d: magnitude %.1f vs committed reference, want 0", i, sample.Magnitude)
		}
		if outcome, _ := trigger.Observe(cls, now); outcome != capture.OutcomeNone {
			t.Fatalf("still frame %d: unexpected outcome %v", i, outcome)
		}
	}
}

func TestDetectorFirstFrameNeverSettled(t *testing.T) {
	det := NewDetector(testConfig())
	cls, _ := det.Process(uniformFrame(10), time.Now())
	if cls == types.Settled {
		t.Fatal("first frame classified settled with nothing to compare against")
	}
}

func TestDetectorResetClearsReference(t *testing.T) {
	det := NewDetector(testConfig())
	det.Process(uniformFrame(10), time.Now())
	det.CommitReference(uniformFrame(10))
	det.Reset()

	// After reset the next frame is a first frame again.
	cls, sample := det.Process(uniformFrame(200), time.Now())
	if sample.Magnitude != 0 {
		t.Errorf("magnitude after reset = %.1f, want 0 (no reference)", sample.Magnitude)
	}
	if cls == types.Settled {
		t.Error("first frame after reset classified settled")
	}
}
