// Package biquad provides the smoothed-cutoff Butterworth lowpass and
// highpass filters used to color a prepared impulse response.
package biquad

import (
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design/pass"

	"nupcverb/dsp/smoothing"
)

// Kind selects which side of the spectrum a Filter shapes.
type Kind int

const (
	// Lowpass attenuates above the cutoff.
	Lowpass Kind = iota
	// Highpass attenuates below the cutoff.
	Highpass
)

// Filter is a single second-order Butterworth section with an
// exponentially smoothed cutoff frequency, matching the original
// decay/color shaping stage: retargeting never jumps the cutoff, it
// eases toward it over successive calls to SetTargetFrequency.
type Filter struct {
	kind       Kind
	section    *biquad.Section
	cutoffCurr float64
	sampleRate float64
}

// New creates a filter of the given kind with the cutoff initialized
// to the Nyquist-safe default of 20kHz (matches the original's
// m_cutoffFreq_Current default, the "wide open" starting point).
func New(kind Kind) *Filter {
	return &Filter{
		kind:       kind,
		section:    biquad.NewSection(biquad.Coefficients{B0: 1}),
		cutoffCurr: 20000,
	}
}

// ClearState zeroes the delay line without touching coefficients.
func (f *Filter) ClearState() {
	f.section.Reset()
}

// Reset clears state and coefficients back to a transparent pass-through.
func (f *Filter) Reset() {
	f.section.Reset()
	f.section.Coefficients = biquad.Coefficients{B0: 1}
	f.cutoffCurr = 20000
}

// SetTargetFrequency smooths the cutoff one step toward target and
// recomputes the Butterworth coefficients at that smoothed cutoff.
// cutoffTarget must lie in [20, 20000] Hz.
func (f *Filter) SetTargetFrequency(target, smoothingFactor, sampleRate float64) {
	f.cutoffCurr = smoothing.ExpSmoothing(target, f.cutoffCurr, smoothingFactor)
	f.sampleRate = sampleRate

	var coeffs []biquad.Coefficients
	if f.kind == Lowpass {
		coeffs = pass.ButterworthLP(f.cutoffCurr, 2, sampleRate)
	} else {
		coeffs = pass.ButterworthHP(f.cutoffCurr, 2, sampleRate)
	}

	if len(coeffs) > 0 {
		f.section.Coefficients = coeffs[0]
	}
}

// Process filters src into dst (which may alias src) in double
// precision regardless of the caller's working type.
func (f *Filter) Process(dst, src []float32) {
	for i, x := range src {
		dst[i] = float32(f.section.ProcessSample(float64(x)))
	}
}
