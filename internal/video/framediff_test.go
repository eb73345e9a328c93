package video

import "testing"

func TestDiffPercent(t *testing.T) {
	cfg := DiffConfig{PixelThreshold: 90, SampleStride: 1}

	t.Run("identical frames", func(t *testing.T) {
		a := uniformFrame(50)
		if got := DiffPercent(a, uniformFrame(50), cfg); got != 0 {
			t.Errorf("DiffPercent = %.1f, want 0", got)
		}
	})

	t.Run("fully changed", func(t *testing.T) {
		if got := DiffPercent(uniformFrame(0), uniformFrame(200), cfg); got != 100 {
			t.Errorf("DiffPercent = %.1f, want 100", got)
		}
	})

	t.Run("size mismatch is fully different", func(t *testing.T) {
		if got := DiffPercent(uniformFrame(0), uniformFrame(0)[:30], cfg); got != 100 {
			t.Errorf("DiffPercent = %.1f, want 100", got)
		}
	})

	t.Run("empty frames", func(t *testing.T) {
		if got := DiffPercent(nil, nil, cfg); got != 100 {
			t.Errorf("DiffPercent = %.1f, want 100", got)
		}
	})

	t.Run("partial change", func(t *testing.T) {
		a := uniformFrame(0)
		b := uniformFrame(0)
		// Change 25 of 100 pixels beyond the threshold.
		for p := 0; p < 25; p++ {
			b[p*bytesPerPixel] = 200
		}
		if got := DiffPercent(a, b, cfg); got != 25 {
			t.Errorf("DiffPercent = %.1f, want 25", got)
		}
	})

	t.Run("below per-pixel threshold ignored", func(t *testing.T) {
		// Distance 90 is not strictly above the threshold.
		if got := DiffPercent(uniformFrame(0), uniformFrame(30), cfg); got != 0 {
			t.Errorf("DiffPercent = %.1f, want 0", got)
		}
	})
}

func TestDiffPercentStride(t *testing.T) {
	cfg := DiffConfig{PixelThreshold: 90, SampleStride: 10}

	a := uniformFrame(0)
	b := uniformFrame(0)
	// Change only the sampled pixels (0, 10, 20, ...).
	for p := 0; p < 100; p += 10 {
		b[p*bytesPerPixel] = 255
	}

	if got := DiffPercent(a, b, cfg); got != 100 {
		t.Errorf("DiffPercent with stride = %.1f, want 100 (all sampled pixels changed)", got)
	}
}
