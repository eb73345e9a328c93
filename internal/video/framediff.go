// Package video provides the document-side signal processing: frame
// difference sampling and the new-object/settled classifier.
package video

// DiffConfig controls pixel sampling for frame comparison.
type DiffConfig struct {
	// PixelThreshold is the per-pixel color distance (sum of absolute
	// channel deltas, 0-765 for RGB24) above which a pixel counts as
	// changed.
	PixelThreshold int

	// SampleStride samples every Nth pixel rather than the full frame;
	// frame diffing runs on every tick and full-frame comparison buys no
	// extra signal.
	SampleStride int
}

// bytesPerPixel is the RGB24 frame layout delivered by the source boundary.
const bytesPerPixel = 3

// DiffPercent returns the percentage (0-100) of sampled pixels whose color
// distance between the two frames exceeds the per-pixel threshold. Frames of
// different sizes are fully different by definition.
func DiffPercent(a, b []byte, cfg DiffConfig) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 100
	}

	stride := cfg.SampleStride
	if stride < 1 {
		stride = 1
	}

	sampled := 0
	changed := 0
	step := bytesPerPixel * stride
	for i := 0; i+bytesPerPixel <= len(a); i += step {
		sampled++
		distance := absDelta(a[i], b[i]) + absDelta(a[i+1], b[i+1]) + absDelta(a[i+2], b[i+2])
		if distance > cfg.PixelThreshold {
			changed++
		}
	}
	if sampled == 0 {
		return 0
	}
	return float64(changed) / float64(sampled) * 100
}

func absDelta(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
