package video

import (
	"sync"
	"time"

	"github.com/scandesk/capture-agent/internal/capture"
	"github.com/scandesk/capture-agent/internal/types"
)

// Config holds the document classification thresholds.
type Config struct {
	Diff DiffConfig

	// NewObjectThreshold is the diff-from-reference percentage above which
	// the scene has changed since the last capture.
	NewObjectThreshold float64

	// SettledThreshold is the much tighter diff-from-previous percentage
	// below which the frame has stopped moving.
	SettledThreshold float64
}

// DefaultConfig returns a balanced threshold set for 500 ms frame ticks.
func DefaultConfig() Config {
	return Config{
		Diff: DiffConfig{
			PixelThreshold: 90,
			SampleStride:   7,
		},
		NewObjectThreshold: 25,
		SettledThreshold:   5,
	}
}

// Measurement holds the two diffs computed for one frame tick.
type Measurement struct {
	RefDiff  float64 // percent changed vs the last captured frame
	PrevDiff float64 // percent changed vs the immediately preceding frame
}

// Classify labels one frame measurement. Settled means the frame stopped
// moving; Active means the scene changed since the last capture and is still
// in motion; anything else (the same scene as the last capture) is
// Indeterminate and not worth re-triggering.
func Classify(m Measurement, cfg Config) types.Classification {
	if m.PrevDiff <= cfg.SettledThreshold {
		return types.Settled
	}
	if m.RefDiff >= cfg.NewObjectThreshold {
		return types.Active
	}
	return types.Indeterminate
}

// Detector adapts frame diffing to the capture pipeline. It holds the
// reference frame (last successful capture) and the previous tick's frame;
// until a first capture exists, the previous frame doubles as the reference.
// Safe for concurrent use.
type Detector struct {
	mu        sync.Mutex
	cfg       Config
	reference []byte
	prev      []byte
}

// NewDetector returns a document detector with the given thresholds.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// SetConfig replaces the classification thresholds, applied from the next
// tick.
func (d *Detector) SetConfig(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
}

// Process diffs one raw frame against the reference and previous frames.
func (d *Detector) Process(raw []byte, now time.Time) (types.Classification, capture.Sample) {
	d.mu.Lock()
	cfg := d.cfg
	base := d.reference
	if base == nil {
		base = d.prev
	}
	prev := d.prev
	d.prev = append([]byte(nil), raw...)
	d.mu.Unlock()

	var m Measurement
	if base != nil {
		m.RefDiff = DiffPercent(raw, base, cfg.Diff)
	}
	if prev != nil {
		m.PrevDiff = DiffPercent(raw, prev, cfg.Diff)
	} else {
		// First frame of an attempt: nothing to compare against, so it
		// cannot count as settled.
		m.PrevDiff = 100
	}

	sample := capture.Sample{Timestamp: now, Magnitude: m.RefDiff}
	return Classify(m, cfg), sample
}

// CommitReference snapshots the captured frame as the comparison baseline for
// detecting the next document.
func (d *Detector) CommitReference(raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reference = append([]byte(nil), raw...)
}

// Reset clears the reference and previous frames.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reference = nil
	d.prev = nil
}
