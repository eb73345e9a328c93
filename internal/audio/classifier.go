package audio

import (
	"sync"
	"time"

	"github.com/scandesk/capture-agent/internal/capture"
	"github.com/scandesk/capture-agent/internal/types"
)

// Config holds the voice classification thresholds. Every value is
// configuration: the numbers drift across tuning passes and no single set is
// canonical.
type Config struct {
	// ActiveThreshold is the RMS magnitude (0-100) above which a chunk is
	// a speech candidate.
	ActiveThreshold float64

	// SettledRatio scales ActiveThreshold down to the settled threshold.
	// The gap between the two rejects marginal noise from counting as
	// either speech or silence (hysteresis).
	SettledRatio float64

	// PeakFactor requires the chunk peak to exceed
	// ActiveThreshold*PeakFactor, ruling out soft constant hiss whose RMS
	// alone could cross the threshold.
	PeakFactor float64

	// MinWindowRatio is the minimum fraction of sub-windows with elevated
	// RMS or sharp peaks for a chunk to count as a genuine burst.
	MinWindowRatio float64

	// ZCRMin and ZCRMax bound the zero-crossing rate. Very low is DC/hum,
	// very high is pure noise; both are rejected.
	ZCRMin float64
	ZCRMax float64
}

// DefaultConfig returns a balanced threshold set for 16 kHz mono chunks.
func DefaultConfig() Config {
	return Config{
		ActiveThreshold: 15,
		SettledRatio:    0.25,
		PeakFactor:      1.8,
		MinWindowRatio:  0.3,
		ZCRMin:          0.02,
		ZCRMax:          0.35,
	}
}

// Classify labels one measurement. Active requires every criterion to hold;
// a chunk that is loud but fails the aux criteria is Indeterminate, not
// speech.
func Classify(m Measurement, cfg Config) types.Classification {
	speechLike := m.RMS >= cfg.ActiveThreshold &&
		m.Peak >= cfg.ActiveThreshold*cfg.PeakFactor &&
		(m.ActiveWindowRatio >= cfg.MinWindowRatio || m.PeakWindowRatio >= cfg.MinWindowRatio) &&
		m.ZeroCrossingRate >= cfg.ZCRMin && m.ZeroCrossingRate <= cfg.ZCRMax

	if speechLike {
		return types.Active
	}
	if m.RMS < cfg.ActiveThreshold*cfg.SettledRatio {
		return types.Settled
	}
	return types.Indeterminate
}

// Detector adapts the voice metering and classifier to the capture pipeline.
// It is safe for concurrent use: config updates arrive from the config
// watcher while the tick loop is running.
type Detector struct {
	mu        sync.Mutex
	cfg       Config
	reference []byte // envelope snapshot of the last captured utterance
}

// NewDetector returns a voice detector with the given thresholds.
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

// Process meters and classifies one raw S16LE chunk.
func (d *Detector) Process(raw []byte, now time.Time) (types.Classification, capture.Sample) {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	m := Analyze(raw, cfg)
	sample := capture.Sample{
		Timestamp: now,
		Magnitude: m.RMS,
		Aux: &capture.AuxMetrics{
			PeakAmplitude:     m.Peak,
			ZeroCrossingRate:  m.ZeroCrossingRate,
			ActiveWindowRatio: m.ActiveWindowRatio,
			PeakWindowRatio:   m.PeakWindowRatio,
		},
	}
	return Classify(m, cfg), sample
}

// CommitReference snapshots the captured utterance's final chunk as the
// comparison baseline for the next attempt.
func (d *Detector) CommitReference(raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reference = append([]byte(nil), raw...)
}

// Reset clears the reference snapshot.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reference = nil
}
