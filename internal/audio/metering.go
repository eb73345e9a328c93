// Package audio provides the voice-side signal processing: chunk metering,
// speech classification and PCM/WAV artifact normalization.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0

	// subWindowCount is how many sub-windows a chunk is split into for the
	// active/peak window ratios.
	subWindowCount = 10
)

// Measurement holds the metrics computed from one raw S16LE chunk. All fields
// derive from the same buffer; measurements are never mixed across ticks.
type Measurement struct {
	RMS               float64 // root-mean-square energy, normalized 0-100
	Peak              float64 // peak amplitude, normalized 0-100
	ZeroCrossingRate  float64 // fraction of adjacent samples flipping sign
	ActiveWindowRatio float64 // fraction of sub-windows with elevated RMS
	PeakWindowRatio   float64 // fraction of sub-windows with sharp peaks
}

// Analyze meters one S16LE mono chunk. The threshold config is needed because
// the window ratios count sub-windows against the active thresholds.
func Analyze(buf []byte, cfg Config) Measurement {
	sampleCount := len(buf) / 2
	if sampleCount == 0 {
		return Measurement{}
	}

	var (
		sumSquares float64
		peak       float64
		crossings  int
		prev       int16
	)

	windowSize := sampleCount / subWindowCount
	if windowSize == 0 {
		windowSize = sampleCount
	}
	var (
		windowSumSquares float64
		windowPeak       float64
		windowLen        int
		activeWindows    int
		peakWindows      int
		windows          int
	)

	peakFloor := cfg.ActiveThreshold * cfg.PeakFactor

	flushWindow := func() {
		if windowLen == 0 {
			return
		}
		windows++
		rms := normalize(math.Sqrt(windowSumSquares / float64(windowLen)))
		if rms >= cfg.ActiveThreshold {
			activeWindows++
		}
		if normalize(windowPeak) >= peakFloor {
			peakWindows++
		}
		windowSumSquares, windowPeak, windowLen = 0, 0, 0
	}

	for i := 0; i+1 < len(buf); i += 2 {
		s := int16(binary.LittleEndian.Uint16(buf[i:]))
		v := float64(s)
		abs := math.Abs(v)

		sumSquares += v * v
		if abs > peak {
			peak = abs
		}
		if i > 0 && ((prev < 0 && s >= 0) || (prev >= 0 && s < 0)) {
			crossings++
		}
		prev = s

		windowSumSquares += v * v
		if abs > windowPeak {
			windowPeak = abs
		}
		windowLen++
		if windowLen >= windowSize {
			flushWindow()
		}
	}
	flushWindow()

	m := Measurement{
		RMS:  normalize(math.Sqrt(sumSquares / float64(sampleCount))),
		Peak: normalize(peak),
	}
	if sampleCount > 1 {
		m.ZeroCrossingRate = float64(crossings) / float64(sampleCount-1)
	}
	if windows > 0 {
		m.ActiveWindowRatio = float64(activeWindows) / float64(windows)
		m.PeakWindowRatio = float64(peakWindows) / float64(windows)
	}
	return m
}

// normalize maps a raw 16-bit amplitude to the 0-100 scale.
func normalize(v float64) float64 {
	return v / MaxSampleValue * 100
}
