package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/scandesk/capture-agent/internal/capture"
	"github.com/scandesk/capture-agent/internal/types"
)

// toneChunk synthesizes a 320-sample S16LE square wave whose RMS lands on the
// given 0-100 magnitude. The half-period of 16 samples keeps the
// zero-crossing rate inside the speech band.
func toneChunk(magnitude float64) []byte {
	amplitude := int16(magnitude / 100 * MaxSampleValue)
	buf := make([]byte, 320*2)
	for i := 0; i < 320; i++ {
		v := amplitude
		if (i/16)%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// dcChunk synthesizes a constant-offset buffer: loud but with zero crossings.
func dcChunk(magnitude float64) []byte {
	amplitude := int16(magnitude / 100 * MaxSampleValue)
	buf := make([]byte, 320*2)
	for i := 0; i < 320; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func TestClassify(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		buf  []byte
		want types.Classification
	}{
		{"loud speech burst", toneChunk(60), types.Active},
		{"near silence", toneChunk(2), types.Settled},
		{"marginal noise", toneChunk(8), types.Indeterminate},
		{"just under settled threshold", toneChunk(3), types.Settled},
		{"loud dc hum", dcChunk(60), types.Indeterminate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Analyze(tt.buf, cfg)
			if got := Classify(m, cfg); got != tt.want {
				t.Errorf("Classify() = %v, want %v (rms=%.2f peak=%.2f zcr=%.3f)",
					got, tt.want, m.RMS, m.Peak, m.ZeroCrossingRate)
			}
		})
	}
}

func TestAnalyzeMetrics(t *testing.T) {
	cfg := DefaultConfig()
	m := Analyze(toneChunk(60), cfg)

	if m.RMS < 59 || m.RMS > 61 {
		t.Errorf("RMS = %.2f, want ~60", m.RMS)
	}
	if m.Peak < 59 || m.Peak > 61 {
		t.Errorf("Peak = %.2f, want ~60", m.Peak)
	}
	if m.ZeroCrossingRate < 0.03 || m.ZeroCrossingRate > 0.1 {
		t.Errorf("ZeroCrossingRate = %.3f, want ~0.06", m.ZeroCrossingRate)
	}
	if m.ActiveWindowRatio != 1 {
		t.Errorf("ActiveWindowRatio = %.2f, want 1", m.ActiveWindowRatio)
	}
	if m.PeakWindowRatio != 1 {
		t.Errorf("PeakWindowRatio = %.2f, want 1", m.PeakWindowRatio)
	}
}

func TestAnalyzeEmptyBuffer(t *testing.T) {
	m := Analyze(nil, DefaultConfig())
	if m.RMS != 0 || m.Peak != 0 {
		t.Errorf("Analyze(nil) = %+v, want zero measurement", m)
	}
}

// TestUtteranceFiresOnceStable walks an utterance through the detector and
// trigger: ambient noise, a speech burst, a marginal tick, then silence. The
// trigger must fire on the third consecutive settled tick and not before.
func TestUtteranceFiresOnceStable(t *testing.T) {
	det := NewDetector(DefaultConfig())
	trigger := capture.NewTrigger(capture.TriggerConfig{StabilityWindow: 3})
	now := time.Now()
	trigger.Begin(now)

	magnitudes := []float64{5, 6, 60, 65, 58, 4, 3, 2, 3}
	fireIndex := -1

	for i, mag := range magnitudes {
		now = now.Add(20 * time.Millisecond)
		cls, _ := det.Process(toneChunk(mag), now)
		outcome, _ := trigger.Observe(cls, now)
		if outcome == capture.OutcomeFire {
			fireIndex = i
			break
		}
		if outcome != capture.OutcomeNone {
			t.Fatalf("tick %d: unexpected outcome %v", i, outcome)
		}
	}

	if fireIndex != 8 {
		t.Fatalf("fired at tick %d, want 8", fireIndex)
	}
}
