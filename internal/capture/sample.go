// Package capture implements the threshold-driven capture machinery shared by
// the voice and document controllers: the stability run tracker, the debounced
// capture trigger, the per-session activity lock, the session controller state
// machine, and the serialized processing queue.
package capture

import (
	"time"

	"github.com/scandesk/capture-agent/internal/types"
)

// Sample is one tick's normalized measurement. It is ephemeral: produced,
// classified and discarded within a single tick.
type Sample struct {
	Timestamp time.Time
	Magnitude float64     // normalized 0-100
	Aux       *AuxMetrics // audio only, nil for frame samples
}

// AuxMetrics is secondary evidence used to distinguish genuine speech bursts
// from broadband noise. All fields are computed from the same buffer as the
// magnitude, never mixed across ticks.
type AuxMetrics struct {
	PeakAmplitude     float64 // peak sample amplitude, 0-100
	ZeroCrossingRate  float64 // fraction of adjacent samples flipping sign, 0-1
	ActiveWindowRatio float64 // fraction of sub-windows with elevated RMS, 0-1
	PeakWindowRatio   float64 // fraction of sub-windows with sharp peaks, 0-1
}

// Detector turns raw buffers into per-tick classifications. Implementations
// (one per modality) own the reference snapshot used to detect "changed since
// last capture".
type Detector interface {
	// Process classifies one raw buffer. The returned sample is the
	// measurement the classification was derived from, for metering.
	Process(raw []byte, now time.Time) (types.Classification, Sample)

	// CommitReference snapshots raw as the new comparison baseline. Called
	// in the same step as the trigger firing.
	CommitReference(raw []byte)

	// Reset clears the reference snapshot and any per-attempt state.
	Reset()
}

// Gate reports whether an exclusive external operation (e.g. synthesized
// response playback) is in progress. While held, no sampling state advances.
type Gate interface {
	Held() bool
}
