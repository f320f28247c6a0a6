// Package irbank provides impulse responses to the reverb controller:
// a small set of procedurally generated presets available with no
// external assets, plus loading additional impulse responses from an
// .irlib file (see pkg/irformat). AIFF captures are not read here;
// cmd/ir-convert turns them into .irlib files.
package irbank

import (
	"fmt"
	"io"
	"math"
	"os"

	"nupcverb/dsp/convengine"
	"nupcverb/pkg/irformat"
)

// entry is one loaded or generated impulse response, kept in memory as
// deinterleaved float32 per channel at its native sample rate.
type entry struct {
	name       string
	data       [][]float32
	sampleRate float64
}

// Bank is an ordered collection of impulse responses, addressed by
// index the same way the original plugin's bundled IR array was.
type Bank struct {
	entries []entry
}

// Builtin returns a bank seeded with four procedurally generated
// presets. No captured impulse response audio ships with this module,
// so these stand in for it: each is an exponentially decaying,
// band-shaped burst of noise, parameterized to land roughly in the
// range a small room, a plate, a hall and a cathedral would occupy.
func Builtin() *Bank {
	b := &Bank{}

	presets := []struct {
		name       string
		seconds    float64
		decayTau   float64 // seconds, envelope time constant
		lowpassHz  float64
		earlyDelay float64 // seconds, initial silence before the tail begins
	}{
		{"Small Room", 0.5, 0.08, 9000, 0.0},
		{"Plate", 1.5, 0.35, 12000, 0.0},
		{"Hall", 3.0, 0.8, 6000, 0.01},
		{"Cathedral", 6.0, 1.8, 3000, 0.03},
	}

	for _, p := range presets {
		b.entries = append(b.entries, entry{
			name:       p.name,
			data:       synthesizeIR(p.seconds, p.decayTau, p.lowpassHz, p.earlyDelay, convengine.DefaultIRSampleRate),
			sampleRate: convengine.DefaultIRSampleRate,
		})
	}

	return b
}

// synthesizeIR builds a two-channel decaying noise burst: white noise
// shaped by an exponential envelope and a simple one-pole lowpass,
// seeded deterministically (a linear congruential generator, not
// math/rand, so the same preset is bit-identical across runs and
// platforms without needing a stored seed).
func synthesizeIR(seconds, tau, lowpassHz, earlyDelay float64, sampleRate float64) [][]float32 {
	n := int(seconds * sampleRate)
	delaySamples := int(earlyDelay * sampleRate)

	data := make([][]float32, 2)
	data[0] = make([]float32, n)
	data[1] = make([]float32, n)

	rc := 1.0 / (2 * math.Pi * lowpassHz)
	dt := 1.0 / sampleRate
	alpha := dt / (rc + dt)

	var lpState [2]float64

	var lcg uint64 = 0x2545F4914F6CDD1D

	nextRandom := func() float64 {
		lcg = lcg*6364136223846793005 + 1442695040888963407
		// top 32 bits, mapped to [-1,1)
		u := uint32(lcg >> 32)

		return float64(u)/float64(1<<31) - 1.0
	}

	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		envelope := 0.0

		if i >= delaySamples {
			envelope = math.Exp(-(t - earlyDelay) / tau)
		}

		for ch := 0; ch < 2; ch++ {
			white := nextRandom() * envelope
			lpState[ch] += alpha * (white - lpState[ch])
			data[ch][i] = float32(lpState[ch])
		}
	}

	return data
}

// IRCount reports the number of impulse responses in the bank.
func (b *Bank) IRCount() int { return len(b.entries) }

// IRName returns the display name of the impulse response at index.
func (b *Bank) IRName(index int) string {
	if index < 0 || index >= len(b.entries) {
		return ""
	}

	return b.entries[index].name
}

// IR returns the deinterleaved per-channel samples and native sample
// rate of the impulse response at index.
func (b *Bank) IR(index int) ([][]float32, float64, error) {
	if index < 0 || index >= len(b.entries) {
		return nil, 0, fmt.Errorf("irbank: index %d out of range [0,%d)", index, len(b.entries))
	}

	e := b.entries[index]

	return e.data, e.sampleRate, nil
}

// Add appends an already-decoded impulse response to the bank,
// returning its index. Channels longer than convengine.MaxIRLenSamples
// are truncated: that cap bounds the engine's worst-case partition
// count regardless of where the IR came from (AIFF import, .irlib
// load, or a caller-supplied buffer).
func (b *Bank) Add(name string, data [][]float32, sampleRate float64) int {
	for ch := range data {
		if len(data[ch]) > convengine.MaxIRLenSamples {
			data[ch] = data[ch][:convengine.MaxIRLenSamples]
		}
	}

	b.entries = append(b.entries, entry{name: name, data: data, sampleRate: sampleRate})

	return len(b.entries) - 1
}

// LoadFile appends every impulse response found in an .irlib file to
// the bank.
func (b *Bank) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("irbank: opening %s: %w", path, err)
	}
	defer f.Close()

	return b.LoadLibrary(f)
}

// LoadLibrary appends every impulse response in an already-open .irlib
// reader to the bank.
func (b *Bank) LoadLibrary(r io.ReadSeeker) error {
	lib, err := irformat.ReadLibrary(r)
	if err != nil {
		return fmt.Errorf("irbank: reading library: %w", err)
	}

	for _, ir := range lib.IRs {
		b.Add(ir.Metadata.Name, ir.Audio.Data, ir.Metadata.SampleRate)
	}

	return nil
}

// SaveFile writes the full bank out as a single .irlib file, useful
// for freezing a set of AIFF-imported impulse responses (see
// cmd/ir-convert) into the format the runtime loads quickly.
func (b *Bank) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("irbank: creating %s: %w", path, err)
	}
	defer f.Close()

	lib := irformat.NewIRLibrary()

	for _, e := range b.entries {
		lib.AddIR(irformat.NewImpulseResponse(e.name, e.sampleRate, len(e.data), e.data))
	}

	if err := irformat.WriteLibrary(f, lib); err != nil {
		return fmt.Errorf("irbank: writing library: %w", err)
	}

	return nil
}
