// Package fft narrows the engine's dependency on the underlying FFT
// library down to two plan types: RealPlan (real-to-complex), which the
// convolution stages use for their time-domain audio blocks, and
// ComplexPlan (complex-to-complex), which no stage uses.
package fft

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// RealPlan performs real-input forward FFTs and real-output inverse
// FFTs of a fixed size, as used by the partitioned convolution stages.
type RealPlan struct {
	plan *algofft.PlanRealT[float32, complex64]
	size int
}

// NewRealPlan creates a real FFT plan for the given time-domain size.
// size must be even; it is typically a power of two.
func NewRealPlan(size int) (*RealPlan, error) {
	plan, err := algofft.NewPlanReal32(size)
	if err != nil {
		return nil, fmt.Errorf("fft: real plan size %d: %w", size, err)
	}

	return &RealPlan{plan: plan, size: size}, nil
}

// Size returns the time-domain size of the plan.
func (p *RealPlan) Size() int { return p.size }

// SpectrumLen returns the number of complex bins a forward transform
// produces (N/2+1 for a real-input FFT of size N).
func (p *RealPlan) SpectrumLen() int { return p.size/2 + 1 }

// Forward transforms a time-domain block of length Size() into dst,
// which must have length SpectrumLen().
func (p *RealPlan) Forward(dst []complex64, src []float32) error {
	if err := p.plan.Forward(dst, src); err != nil {
		return fmt.Errorf("fft: forward: %w", err)
	}

	return nil
}

// Inverse transforms a spectrum of length SpectrumLen() back into a
// time-domain block of length Size().
func (p *RealPlan) Inverse(dst []float32, src []complex64) error {
	if err := p.plan.Inverse(dst, src); err != nil {
		return fmt.Errorf("fft: inverse: %w", err)
	}

	return nil
}

// ComplexPlan performs complex-to-complex FFTs. Only this package's own
// tests exercise it.
type ComplexPlan struct {
	plan *algofft.Plan[complex64]
	size int
}

// NewComplexPlan creates a complex FFT plan of the given size.
func NewComplexPlan(size int) (*ComplexPlan, error) {
	plan, err := algofft.NewPlan32(size)
	if err != nil {
		return nil, fmt.Errorf("fft: complex plan size %d: %w", size, err)
	}

	return &ComplexPlan{plan: plan, size: size}, nil
}

// Size returns the transform size.
func (p *ComplexPlan) Size() int { return p.size }

// Forward performs an in-place-capable forward transform: dst and src
// may alias the same slice.
func (p *ComplexPlan) Forward(dst, src []complex64) error {
	if err := p.plan.Forward(dst, src); err != nil {
		return fmt.Errorf("fft: forward: %w", err)
	}

	return nil
}

// Inverse performs an in-place-capable inverse transform: dst and src
// may alias the same slice.
func (p *ComplexPlan) Inverse(dst, src []complex64) error {
	if err := p.plan.Inverse(dst, src); err != nil {
		return fmt.Errorf("fft: inverse: %w", err)
	}

	return nil
}
