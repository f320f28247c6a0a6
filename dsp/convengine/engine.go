package convengine

import (
	"context"
	"fmt"
)

// Engine is the full non-uniform partitioned convolution chain: a
// direct-form stage for the earliest IR samples (when the host block
// size is small enough to need it) plus a ladder of FFT stages at
// doubling partition sizes, covering the impulse response from
// SmallestStageSize up to LongestStageSize samples per partition.
//
// The doubling ladder always starts at SmallestStageSize (or at
// 2*DirectStageMaxBlockSize when a replacing stage stands in for the
// direct stage); stages smaller than the host block size are still
// built and skip themselves at runtime. When irLen is exactly
// 2*LongestStageSize the shorter stages cover the whole IR and no
// LongestStageSize stage is built.
type Engine struct {
	numChannels              int
	audioProcessingBlockSize int

	direct *DirectStage // nil when the host block size exceeds DirectStageMaxBlockSize

	replacingStage *FFTStage // nil unless direct is nil (see above)
	fftStages      []*FFTStage
}

// New builds the stage chain for one (sampleRate, blockSize, numChannels)
// configuration and a given impulse-response length. irLen is the
// padded length (a multiple of LongestStageSize, at least
// 2*LongestStageSize) that both IR buffer slots must provide.
func New(audioProcessingBlockSize, numChannels, irLen int) (*Engine, error) {
	if !isPowerOfTwo(audioProcessingBlockSize) || audioProcessingBlockSize < MinBlockSize || audioProcessingBlockSize > MaxBlockSize {
		return nil, fmt.Errorf("convengine: invalid block size %d", audioProcessingBlockSize)
	}

	if irLen%LongestStageSize != 0 || irLen < 2*LongestStageSize {
		return nil, fmt.Errorf("convengine: IR length %d must be a multiple of %d and at least %d", irLen, LongestStageSize, 2*LongestStageSize)
	}

	e := &Engine{
		numChannels:              numChannels,
		audioProcessingBlockSize: audioProcessingBlockSize,
	}

	longestStageBlockCount := irLen/LongestStageSize - 2

	if audioProcessingBlockSize <= DirectStageMaxBlockSize {
		directBlockSize := max(audioProcessingBlockSize, SmallestStageSize)
		e.direct = NewDirectStage(numChannels, 2*directBlockSize)

		for size := SmallestStageSize; size <= LongestStageSize; size *= 2 {
			blockCount := 2
			if size == LongestStageSize {
				blockCount = longestStageBlockCount
				if blockCount == 0 {
					break // no IR left past the shorter stages
				}
			}

			stage, err := NewFFTStage(FFTStageConfig{
				BlockSize:                size,
				BlockCount:               blockCount,
				BlockOffset:              2,
				ReplacesDirectStage:      false,
				NumChannels:              numChannels,
				AudioProcessingBlockSize: audioProcessingBlockSize,
			})
			if err != nil {
				return nil, err
			}

			e.fftStages = append(e.fftStages, stage)
		}
	} else {
		replacingSize := audioProcessingBlockSize

		replacing, err := NewFFTStage(FFTStageConfig{
			BlockSize:                replacingSize,
			BlockCount:               2,
			BlockOffset:              0,
			ReplacesDirectStage:      true,
			NumChannels:              numChannels,
			AudioProcessingBlockSize: audioProcessingBlockSize,
		})
		if err != nil {
			return nil, err
		}

		e.replacingStage = replacing

		for size := 2 * DirectStageMaxBlockSize; size <= LongestStageSize; size *= 2 {
			blockCount := 2
			if size == LongestStageSize {
				blockCount = longestStageBlockCount
				if blockCount == 0 {
					break // no IR left past the shorter stages
				}
			}

			stage, err := NewFFTStage(FFTStageConfig{
				BlockSize:                size,
				BlockCount:               blockCount,
				BlockOffset:              2,
				ReplacesDirectStage:      false,
				NumChannels:              numChannels,
				AudioProcessingBlockSize: audioProcessingBlockSize,
			})
			if err != nil {
				return nil, err
			}

			e.fftStages = append(e.fftStages, stage)
		}
	}

	return e, nil
}

// SetIR installs the full per-channel impulse response for buffer slot
// 0 or 1 across every stage. ir[ch] must have length irLen, the value
// New was configured with.
func (e *Engine) SetIR(slot int, ir [][]float32) {
	if e.direct != nil {
		directIR := make([][]float32, e.numChannels)
		for ch := range directIR {
			n := e.direct.blockSize2
			if n > len(ir[ch]) {
				n = len(ir[ch])
			}

			directIR[ch] = ir[ch][:n]
		}

		e.direct.SetIR(slot, directIR)
	}

	if e.replacingStage != nil {
		e.replacingStage.SetIR(slot, ir)
	}

	for _, stage := range e.fftStages {
		stage.SetIR(slot, ir)
	}
}

// Start launches any background workers the stage chain needs.
func (e *Engine) Start() {
	if e.replacingStage != nil {
		e.replacingStage.Start()
	}

	for _, stage := range e.fftStages {
		stage.Start()
	}
}

// Stop halts all background workers, waiting up to the context's
// deadline for each to exit.
func (e *Engine) Stop(ctx context.Context) error {
	if e.replacingStage != nil {
		if err := e.replacingStage.Stop(ctx); err != nil {
			return err
		}
	}

	for _, stage := range e.fftStages {
		if err := stage.Stop(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Process runs one host block through the full stage chain. audioIn
// and audioOut must each have numChannels slices of length
// audioProcessingBlockSize; audioOut is overwritten, not accumulated
// into.
func (e *Engine) Process(audioIn, audioOut [][]float32) {
	for ch := range audioOut {
		clear(audioOut[ch])
	}

	if e.direct != nil {
		e.direct.Process(audioIn, audioOut)
	}

	if e.replacingStage != nil {
		e.replacingStage.Process(audioIn, audioOut)
	}

	for _, stage := range e.fftStages {
		stage.Process(audioIn, audioOut)
	}
}

// CanUpdateIR reports whether every stage is at a safe point to flip
// IR buffer slots. The caller must poll this before UpdateIR; flipping
// while a stage is mid-block would hand it a half-written buffer.
func (e *Engine) CanUpdateIR() bool {
	if e.direct != nil && !e.direct.CanUpdateIR() {
		return false
	}

	if e.replacingStage != nil && !e.replacingStage.CanUpdateIR() {
		return false
	}

	for _, stage := range e.fftStages {
		if !stage.CanUpdateIR() {
			return false
		}
	}

	return true
}

// UpdateIR flips every stage to the given IR buffer slot. Only safe to
// call when CanUpdateIR returns true.
func (e *Engine) UpdateIR(slot uint32) {
	if e.direct != nil {
		e.direct.UpdateIR(slot)
	}

	if e.replacingStage != nil {
		e.replacingStage.UpdateIR(slot)
	}

	for _, stage := range e.fftStages {
		stage.UpdateIR(slot)
	}
}

// Reset clears all stages' internal history without touching IR data.
func (e *Engine) Reset() {
	if e.direct != nil {
		e.direct.Reset()
	}

	if e.replacingStage != nil {
		e.replacingStage.Reset()
	}

	for _, stage := range e.fftStages {
		stage.Reset()
	}
}
