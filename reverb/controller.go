// Package reverb implements the real-time-safe non-uniform partitioned
// convolution reverb: dry/wet and decay/color parameter smoothing,
// background impulse-response preparation, and the handoff into the
// convolution engine chain in dsp/convengine.
package reverb

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"nupcverb/dsp/biquad"
	"nupcverb/dsp/convengine"
	"nupcverb/dsp/resample"
	"nupcverb/dsp/smoothing"
)

const (
	decayColorSmoothLenMs = 80.0
	dryWetSmoothLenMs     = 5.0

	colorLPFFreqMin = 220.0
	colorHPFFreqMax = 3000.0

	decayMin          = 0.015
	decayKnobDecades  = 2.15
	decayEnvelopePct  = 2.3
	decayEnvMaxSecond = 1.5
)

var (
	colorLPFLogMin = math.Log(colorLPFFreqMin)
	colorLPFRange  = math.Log(20000.0) - colorLPFLogMin
	colorHPFLogMin = math.Log(20.0)
	colorHPFRange  = math.Log(colorHPFFreqMax) - colorHPFLogMin
)

// Source supplies the raw impulse response samples the controller
// prepares (decay shaping, coloring, normalization) before handing
// them to the convolution engine. A Bank satisfies this interface.
type Source interface {
	IRCount() int
	IRName(index int) string
	// IR returns deinterleaved per-channel samples at sampleRate Hz.
	IR(index int) (data [][]float32, sampleRate float64, err error)
}

// Params is the full set of user-facing controls, also the unit
// persisted by internal/state.
type Params struct {
	Decay   float64 // [0,1]
	Color   float64 // [-1,1], negative = lowpass, positive = highpass
	DryWet  float64 // [-1,1], negative = dry-leaning, positive = wet-leaning
	IRIndex int
	Bypass  bool
}

// Controller owns the engine, the dual IR buffers, and every smoothed
// parameter. Process must be called from a single audio thread and
// holds mu for the whole call; the background IR-preparation worker is
// the only other goroutine that touches controller state, and it takes
// the same mutex around its reads and writes of that state.
type Controller struct {
	source Source

	mu          sync.Mutex
	sampleRate  float64
	blockSize   int
	numChannels int

	engine *convengine.Engine

	irIndex    int
	irLen      int
	irPre      [][]float32    // normalized, pre-decay/color, length irLen
	irPost     [2][][]float32 // [slot][ch], decay+color applied, length irLen
	updateSlot atomic.Uint32  // which slot m_irUpdateIndex points at next

	decayTarget     atomic.Value // float64
	colorTarget     atomic.Value // float64
	decayCurrent    float64
	colorCurrentLPF [2]biquad.Filter
	colorCurrentHPF [2]biquad.Filter

	decayColorSmoothing float64

	dryCurrent                 float64
	wetCurrent                 float64
	dryWetSmoothing            float64
	dryWetSamplesBetweenRecalc int
	dryWetRecalcsPerBlock      int

	volumeCurve smoothing.Curve1024
	decayCurve  smoothing.Curve1024
	lpfCurve    smoothing.Curve1024
	hpfCurve    smoothing.Curve1024

	resampler *resample.Converter

	updating atomic.Bool
	worker   *convengine.Worker

	dryBuf [][]float32
	wetBuf [][]float32

	lastErr atomic.Value // error

	bypass atomic.Bool

	meters [2]channelMeter

	log *slog.Logger
}

// channelMeter holds the most recent per-block peak levels for one
// channel, lock-free so TUI/web control surfaces can poll it from a
// goroutine other than the audio thread.
type channelMeter struct {
	in  atomic.Uint32 // math.Float32bits of the block's peak |input|
	out atomic.Uint32 // peak |output| (post dry/wet mix)
	rev atomic.Uint32 // peak |wet| contribution alone
}

func (m *channelMeter) update(in, out, rev float32) {
	m.in.Store(math.Float32bits(in))
	m.out.Store(math.Float32bits(out))
	m.rev.Store(math.Float32bits(rev))
}

// Metrics returns the most recent peak levels (linear amplitude, not
// dB) for the given channel: input, mixed output, and the wet-only
// reverb contribution. Safe to call from any goroutine; channel
// indices outside 0..1 report zero, and a channel that later Process
// calls no longer carry keeps its last reading.
func (c *Controller) Metrics(channel int) (inputLevel, outputLevel, reverbLevel float32) {
	if channel < 0 || channel >= len(c.meters) {
		return 0, 0, 0
	}

	m := &c.meters[channel]

	return math.Float32frombits(m.in.Load()),
		math.Float32frombits(m.out.Load()),
		math.Float32frombits(m.rev.Load())
}

// New creates a controller backed by the given IR source. The
// controller is idle (every Process call is a pass-through) until the
// first call to Process configures it for an actual sample rate and
// block size.
func New(source Source, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}

	c := &Controller{
		source:       source,
		irIndex:      -1,
		numChannels:  2,
		decayCurrent: 1.0,
		log:          log,
	}

	c.decayTarget.Store(0.0)
	c.colorTarget.Store(0.0)
	c.lastErr.Store(error(nil))

	c.volumeCurve = smoothing.BuildCurve1024(func(x float64) float64 {
		db := -120.0
		if x > 0.000001 {
			db = 60 * math.Log10(x)
		}

		return smoothing.DBToLinear(db)
	})

	c.decayCurve = smoothing.BuildCurve1024(func(x float64) float64 {
		return decayMin + smoothing.LogCurve(x, decayKnobDecades)*(1-decayMin)
	})

	c.lpfCurve = smoothing.BuildCurve1024(func(x float64) float64 {
		return math.Exp(x*colorLPFRange + colorLPFLogMin)
	})

	c.hpfCurve = smoothing.BuildCurve1024(func(x float64) float64 {
		return math.Exp(x*colorHPFRange + colorHPFLogMin)
	})

	c.resampler = resample.New()

	for ch := range c.colorCurrentLPF {
		c.colorCurrentLPF[ch] = *biquad.New(biquad.Lowpass)
		c.colorCurrentHPF[ch] = *biquad.New(biquad.Highpass)
	}

	c.worker = convengine.NewWorker(nil, c.prepareIR, nil)
	c.worker.Start()

	return c
}

// SetBypass enables or disables the wet path; the dry signal always
// passes through regardless.
func (c *Controller) SetBypass(b bool) { c.bypass.Store(b) }

// Bypass reports the current bypass state.
func (c *Controller) Bypass() bool { return c.bypass.Load() }

// LastError returns the most recent processing error, or nil. Errors
// are never fatal: Process always produces audio (falling back to a
// dry pass-through) even when this is non-nil.
func (c *Controller) LastError() error {
	if v, ok := c.lastErr.Load().(error); ok {
		return v
	}

	return nil
}

func (c *Controller) setErr(err error) {
	c.lastErr.Store(err)
	if err != nil {
		c.log.Error("reverb processing error", "error", err)
	}
}

// Close stops the background IR-preparation worker. Safe to call once
// after the controller is no longer in use.
func (c *Controller) Close(ctx context.Context) error {
	if c.engine != nil {
		if err := c.engine.Stop(ctx); err != nil {
			return err
		}
	}

	return c.worker.Stop(ctx)
}

// Process runs one host block through the full signal chain: split
// into dry/wet, convolve the wet path, recombine. audioIn and audioOut
// are [channel][sample] with len(audioIn[ch]) == blockSize.
func (c *Controller) Process(audioIn, audioOut [][]float32, sampleRate float64, blockSize int, params Params) {
	numChannels := len(audioIn)

	if blockSize < convengine.MinBlockSize || blockSize > convengine.MaxBlockSize ||
		!isPowerOfTwo(blockSize) || sampleRate > convengine.MaxSampleRate {
		for ch := range audioOut {
			copy(audioOut[ch], audioIn[ch])
		}

		c.setErr(fmt.Errorf("reverb: unsupported block size=%d samplerate=%.0f", blockSize, sampleRate))

		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	paramChanges := params.IRIndex != c.irIndex || sampleRate != c.sampleRate ||
		blockSize != c.blockSize || numChannels != c.numChannels

	c.irIndex = params.IRIndex
	c.sampleRate = sampleRate
	c.blockSize = blockSize
	c.numChannels = numChannels

	if paramChanges {
		if err := c.reconfigure(); err != nil {
			c.setErr(err)

			for ch := range audioOut {
				copy(audioOut[ch], audioIn[ch])
			}

			return
		}
	}

	c.setErr(nil)

	if c.dryBuf == nil || len(c.dryBuf) != numChannels || len(c.dryBuf[0]) < blockSize {
		c.dryBuf = allocChannels(numChannels, blockSize)
		c.wetBuf = allocChannels(numChannels, blockSize)
	}

	dryWetControl := params.DryWet

	dryTarget := c.volumeGain(volumeControlFor(dryWetControl, false))
	wetTarget := c.volumeGain(volumeControlFor(dryWetControl, true))

	dryCurrent := c.dryCurrent
	wetCurrent := c.wetCurrent

	for r := 0; r < c.dryWetRecalcsPerBlock; r++ {
		dryRamp := smoothing.RecalculateRamp(dryTarget, &dryCurrent, c.dryWetSmoothing, c.dryWetSamplesBetweenRecalc)
		wetRamp := smoothing.RecalculateRamp(wetTarget, &wetCurrent, c.dryWetSmoothing, c.dryWetSamplesBetweenRecalc)

		base := r * c.dryWetSamplesBetweenRecalc

		for j := 0; j < c.dryWetSamplesBetweenRecalc; j++ {
			idx := base + j
			dry := dryRamp.Next()
			wet := wetRamp.Next()

			for ch := 0; ch < numChannels; ch++ {
				x := audioIn[ch][idx]
				c.dryBuf[ch][idx] = x * float32(dry)
				c.wetBuf[ch][idx] = x * float32(wet)
			}
		}
	}

	c.dryCurrent = dryCurrent
	c.wetCurrent = wetCurrent

	if c.engine.CanUpdateIR() && !c.updating.Load() {
		slot := c.updateSlot.Load()
		c.engine.UpdateIR(slot)

		next := uint32(0)
		if slot == 0 {
			next = 1
		}

		c.updateSlot.Store(next)

		c.decayTarget.Store(params.Decay)
		c.colorTarget.Store(params.Color)

		c.updating.Store(true)
		c.worker.Notify()
	}

	wetIn := make([][]float32, numChannels)
	for ch := range wetIn {
		wetIn[ch] = c.wetBuf[ch][:blockSize]
	}

	c.engine.Process(wetIn, audioOut)

	bypassed := c.bypass.Load()

	for ch := 0; ch < numChannels; ch++ {
		var peakIn, peakOut, peakRev float32

		for i := 0; i < blockSize; i++ {
			wet := audioOut[ch][i]
			if bypassed {
				wet = 0
			}

			out := wet + c.dryBuf[ch][i]
			audioOut[ch][i] = out

			if a := float32(math.Abs(float64(audioIn[ch][i]))); a > peakIn {
				peakIn = a
			}

			if a := float32(math.Abs(float64(out))); a > peakOut {
				peakOut = a
			}

			if a := float32(math.Abs(float64(wet))); a > peakRev {
				peakRev = a
			}
		}

		if ch < len(c.meters) {
			c.meters[ch].update(peakIn, peakOut, peakRev)
		}
	}
}

func volumeControlFor(dryWet float64, wet bool) float64 {
	if wet {
		if dryWet > 0 {
			return 1.0
		}

		return 1.0 + dryWet
	}

	if dryWet < 0 {
		return 1.0
	}

	return 1.0 - dryWet
}

func (c *Controller) volumeGain(control float64) float64 {
	return c.volumeCurve.At(clamp01(control))
}

func (c *Controller) reconfigure() error {
	if c.engine != nil {
		if err := c.engine.Stop(context.Background()); err != nil {
			return err
		}
	}

	c.dryWetSamplesBetweenRecalc = convengine.MinBlockSize
	c.dryWetRecalcsPerBlock = c.blockSize / c.dryWetSamplesBetweenRecalc
	c.dryWetSmoothing = smoothing.TimeConstantFromMs(dryWetSmoothLenMs, sampleRateForRecalc(c.sampleRate, c.dryWetSamplesBetweenRecalc))
	c.decayColorSmoothing = smoothing.TimeConstantFromMs(decayColorSmoothLenMs, c.sampleRate/float64(convengine.LongestStageSize))

	rawIR, rawRate, err := c.source.IR(c.irIndex)
	if err != nil {
		return fmt.Errorf("reverb: loading IR %d: %w", c.irIndex, err)
	}

	irLen := len(rawIR[0])

	var processed [][]float32
	if rawRate == c.sampleRate {
		processed = rawIR

		if irLen > convengine.MaxIRLenSamples {
			irLen = convengine.MaxIRLenSamples
		}
	} else {
		processed = make([][]float32, len(rawIR))
		for ch := range rawIR {
			processed[ch] = c.resampler.Process(rawIR[ch], rawRate, c.sampleRate, convengine.MaxIRLenSamples)
		}

		irLen = len(processed[0])

		if irLen < convengine.MinIRLenSamples {
			irLen = convengine.MinIRLenSamples
		}

		if irLen > convengine.MaxIRLenSamples {
			irLen = convengine.MaxIRLenSamples
		}
	}

	irLenPadded := irLen
	if rem := irLenPadded % convengine.LongestStageSize; rem != 0 {
		irLenPadded += convengine.LongestStageSize - rem
	}

	if irLenPadded < 2*convengine.LongestStageSize {
		irLenPadded = 2 * convengine.LongestStageSize
	}

	c.irLen = irLen
	c.irPre = allocChannels(c.numChannels, irLenPadded)

	for ch := 0; ch < c.numChannels; ch++ {
		src := processed[ch%len(processed)]
		n := min(len(src), irLen)
		copy(c.irPre[ch], src[:n])
	}

	normalizeIR(c.irPre, irLen, c.numChannels)

	c.irPost[0] = allocChannels(c.numChannels, irLenPadded)
	c.irPost[1] = allocChannels(c.numChannels, irLenPadded)

	engine, err := convengine.New(c.blockSize, c.numChannels, irLenPadded)
	if err != nil {
		return fmt.Errorf("reverb: building engine: %w", err)
	}

	// Both slots start identical (pass-through shape, decay/color
	// applied on the first background update) so the engine never
	// convolves against uninitialized data while paramChanges settles.
	copyChannels(c.irPost[0], c.irPre)
	copyChannels(c.irPost[1], c.irPre)

	engine.SetIR(0, c.irPost[0])
	engine.SetIR(1, c.irPost[1])
	engine.Start()

	c.engine = engine
	c.updateSlot.Store(0)

	for ch := range c.colorCurrentLPF {
		c.colorCurrentLPF[ch].Reset()
		c.colorCurrentHPF[ch].Reset()
	}

	return nil
}

// prepareIR runs on the background worker: applies the decay envelope
// and color filtering to the currently-inactive IR slot.
func (c *Controller) prepareIR() {
	c.mu.Lock()
	numChannels := c.numChannels
	irLen := c.irLen
	sampleRate := c.sampleRate
	// Process already flipped updateSlot to the next target before
	// notifying: this is the slot to (re)prepare, matching the
	// already-live slot engine.UpdateIR was just pointed away from.
	prepareSlot := c.updateSlot.Load()

	dest := c.irPost[prepareSlot]
	src := c.irPre
	decayTarget, _ := c.decayTarget.Load().(float64)
	colorTarget, _ := c.colorTarget.Load().(float64)
	smoothingFactor := c.decayColorSmoothing
	decayCurrent := c.decayCurrent
	c.mu.Unlock()

	decay := c.decayCurve.At(clamp01(decayTarget))
	decayCurrent = smoothing.ExpSmoothing(decay, decayCurrent, smoothingFactor)

	decayCutPoint := float64(irLen) * decayCurrent

	decayEnvTime := min(decayCutPoint*decayEnvelopePct, decayEnvMaxSecond*sampleRate)
	decayEnvFactor := smoothing.TimeConstantSamples(decayEnvTime)

	decayGain := 1.0

	for i := 0; i < irLen; i++ {
		target := 0.0
		if float64(i) < decayCutPoint {
			target = 1.0
		}

		decayGain = smoothing.ExpSmoothing(target, decayGain, decayEnvFactor)

		for ch := 0; ch < numChannels; ch++ {
			dest[ch][i] = src[ch][i] * float32(decayGain)
		}
	}

	lowPass := colorTarget <= 0

	var lpfCutoff, hpfCutoff float64
	if lowPass {
		lpfCutoff = c.lpfCurve.At(clamp01(1 + colorTarget))
		hpfCutoff = 20.0
	} else {
		lpfCutoff = 20000.0
		hpfCutoff = c.hpfCurve.At(clamp01(colorTarget))
	}

	for ch := 0; ch < numChannels; ch++ {
		c.colorCurrentLPF[ch].ClearState()
		c.colorCurrentLPF[ch].SetTargetFrequency(lpfCutoff, smoothingFactor, sampleRate)
		c.colorCurrentLPF[ch].Process(dest[ch][:irLen], dest[ch][:irLen])

		c.colorCurrentHPF[ch].ClearState()
		c.colorCurrentHPF[ch].SetTargetFrequency(hpfCutoff, smoothingFactor, sampleRate)
		c.colorCurrentHPF[ch].Process(dest[ch][:irLen], dest[ch][:irLen])
	}

	c.mu.Lock()
	c.decayCurrent = decayCurrent
	c.mu.Unlock()

	c.updating.Store(false)
}

func normalizeIR(ir [][]float32, irLen, numChannels int) {
	var sumSquares float64

	for ch := 0; ch < numChannels; ch++ {
		for i := 0; i < irLen; i++ {
			s := float64(ir[ch][i])
			sumSquares += s * s
		}
	}

	sumSquares /= float64(numChannels)

	if sumSquares <= 1e-7 {
		return
	}

	factor := float32(0.65 / math.Sqrt(sumSquares))

	for ch := 0; ch < numChannels; ch++ {
		for i := 0; i < irLen; i++ {
			ir[ch][i] *= factor
		}
	}
}

func allocChannels(numChannels, length int) [][]float32 {
	out := make([][]float32, numChannels)
	for ch := range out {
		out[ch] = make([]float32, length)
	}

	return out
}

func copyChannels(dst, src [][]float32) {
	for ch := range dst {
		copy(dst[ch], src[ch])
	}
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

func sampleRateForRecalc(sampleRate float64, samplesBetweenRecalc int) float64 {
	if samplesBetweenRecalc <= 0 {
		return sampleRate
	}

	return sampleRate / float64(samplesBetweenRecalc)
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }
