// Package smoothing provides the parameter-ramp and curve-mapping
// primitives the reverb controller uses to move decay, color and
// dry/wet targets without discontinuities on the audio thread.
package smoothing

import "math"

// MinDB is the silence floor used by DBToLinear.
const MinDB = -120.0

// DBToLinear converts a decibel value to a linear gain, returning 0
// at or below MinDB instead of an arbitrarily small positive number.
func DBToLinear(db float64) float64 {
	if db <= MinDB {
		return 0
	}

	return math.Pow(10, db/20)
}

// TimeConstantSamples returns the one-pole smoothing coefficient that
// reaches roughly 90% of a step change after the given number of
// samples (exp(-2.2/samples), the JUCE-style -20dB-in settle-time
// convention).
func TimeConstantSamples(samples float64) float64 {
	return math.Exp(-2.2 / samples)
}

// TimeConstantFromMs returns the one-pole smoothing coefficient for a
// settle time of ms milliseconds at sample rate fs.
func TimeConstantFromMs(ms, fs float64) float64 {
	return math.Exp(-2200.0 / (ms * fs))
}

// ExpSmoothing advances a one-pole filter one step toward target.
func ExpSmoothing(target, current, rate float64) float64 {
	return target - target*rate + current*rate
}

// LinearInterpolate blends linearly between y0 and y1 at position
// mu in [0,1].
func LinearInterpolate(y0, y1, mu float64) float64 {
	return y0*(1-mu) + y1*mu
}

// Ramp holds the per-sample increment state produced by
// RecalculateRamp, applied once per sample via Next.
type Ramp struct {
	value float64
	incr  float64
}

// Value returns the current ramp value without advancing it.
func (r *Ramp) Value() float64 { return r.value }

// Next returns the current value and advances the ramp by one sample.
func (r *Ramp) Next() float64 {
	v := r.value
	r.value += r.incr
	return v
}

// RecalculateRamp advances the smoother by one recalculation period
// (blockSize samples) toward target and returns the ramp to use over
// that period. future holds the smoother's state across calls: pass
// the same pointer every time for a given parameter.
func RecalculateRamp(target float64, future *float64, smoothingFactor float64, blockSize int) Ramp {
	current := *future
	next := ExpSmoothing(target, current, smoothingFactor)
	if next == current {
		// target reached up to floating point precision
		next = target
	}

	*future = next

	return Ramp{value: current, incr: (next - current) / float64(blockSize)}
}

// ArrayLen is the resolution of the precomputed control-curve tables
// used by Curve1024. Evaluating exp/log/pow per control change (not
// per sample) and interpolating a fixed table keeps worst-case
// control-rate work bounded regardless of how the curve is shaped.
const ArrayLen = 1024

// Curve1024 is a fixed-resolution lookup table over the control range
// [0,1], used to evaluate an expensive, shape-defining function without
// calling it from the audio thread.
type Curve1024 [ArrayLen]float64

// BuildCurve1024 fills a Curve1024 by evaluating f at ArrayLen evenly
// spaced positions across [0,1].
func BuildCurve1024(f func(x float64) float64) Curve1024 {
	var c Curve1024
	for i := range c {
		x := float64(i) / float64(ArrayLen-1)
		c[i] = f(x)
	}

	return c
}

// At interpolates the curve at position pos in [0,1].
func (c *Curve1024) At(pos float64) float64 {
	index := pos * float64(ArrayLen-1)
	i0 := int(index)
	if i0 < 0 {
		i0 = 0
	}
	if i0 > ArrayLen-1 {
		i0 = ArrayLen - 1
	}

	mu := index - float64(i0)

	y0 := c[i0]
	y1 := y0
	if i0 < ArrayLen-1 {
		y1 = c[i0+1]
	}

	return LinearInterpolate(y0, y1, mu)
}

// LogCurve maps a linear [0,1] knob position onto a logarithmic [0,1]
// curve spanning the given number of decades, i.e. a knob that feels
// linear but sweeps a decade-scaled range (used for the decay-time
// control).
func LogCurve(lin01 float64, decades float64) float64 {
	return (math.Pow(10, decades*lin01) - 1) / (math.Pow(10, decades) - 1)
}
