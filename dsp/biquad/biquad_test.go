package biquad

import (
	"math"
	"testing"
)

func TestNewDefaultsToPassThroughCutoff(t *testing.T) {
	t.Parallel()

	f := New(Lowpass)
	if f.cutoffCurr != 20000 {
		t.Errorf("cutoffCurr = %v, want 20000", f.cutoffCurr)
	}
}

func TestSetTargetFrequencySmoothsGradually(t *testing.T) {
	t.Parallel()

	f := New(Lowpass)
	f.SetTargetFrequency(1000, 0.99, 48000)

	if f.cutoffCurr >= 20000 || f.cutoffCurr <= 1000 {
		t.Errorf("expected one smoothing step to land strictly between start and target, got %v", f.cutoffCurr)
	}

	for i := 0; i < 10000; i++ {
		f.SetTargetFrequency(1000, 0.99, 48000)
	}

	if math.Abs(f.cutoffCurr-1000) > 1e-3 {
		t.Errorf("after many steps cutoffCurr = %v, want ~1000", f.cutoffCurr)
	}
}

func TestProcessLowpassAttenuatesHighFrequency(t *testing.T) {
	t.Parallel()

	const sampleRate = 48000.0
	const n = 4096

	f := New(Lowpass)

	for i := 0; i < 200; i++ {
		f.SetTargetFrequency(500, 0.9, sampleRate)
	}

	src := make([]float32, n)
	for i := range src {
		src[i] = float32(math.Sin(2 * math.Pi * 10000 * float64(i) / sampleRate))
	}

	dst := make([]float32, n)
	f.Process(dst, src)

	var inEnergy, outEnergy float64
	for i := n / 2; i < n; i++ {
		inEnergy += float64(src[i]) * float64(src[i])
		outEnergy += float64(dst[i]) * float64(dst[i])
	}

	if outEnergy >= inEnergy*0.5 {
		t.Errorf("expected substantial attenuation of a 10kHz tone with 500Hz lowpass cutoff, in=%v out=%v", inEnergy, outEnergy)
	}
}

func TestResetRestoresPassThrough(t *testing.T) {
	t.Parallel()

	f := New(Highpass)
	f.SetTargetFrequency(100, 0.5, 48000)
	f.Reset()

	if f.cutoffCurr != 20000 {
		t.Errorf("cutoffCurr after Reset = %v, want 20000", f.cutoffCurr)
	}

	src := []float32{0.5, -0.3, 0.1, 0.9}
	dst := make([]float32, len(src))
	f.Process(dst, src)

	for i := range src {
		if dst[i] != src[i] {
			t.Errorf("sample %d: got %v, want pass-through %v", i, dst[i], src[i])
		}
	}
}
