package convengine

import (
	"context"
	"sync/atomic"

	"nupcverb/dsp/fft"
)

// FFTStage convolves one doubling-sized partition of the impulse
// response against the matching length of input history, using
// overlap-save block convolution in the frequency domain. A chain of
// FFTStages at successively larger block sizes, each triggered at a
// successively lower rate, is what makes the engine's total per-block
// cost roughly constant no matter how long the impulse response is.
//
// The IR's frequency-domain partitions are recomputed on every trigger
// rather than cached, trading CPU for the simpler one-buffer-per-slot
// memory layout (mirrors ConvolutionEngineFftStage's
// ALWAYS_UPDATE_IR_BLOCKS mode).
type FFTStage struct {
	blockSize   int
	blockCount  int
	blockOffset int // which partition index this stage's IR data starts at

	replacesDirectStage bool
	numBuffers          int
	numChannels         int

	fftSizeTimeDomain int
	spectrumLen       int

	audioProcessingBlockSize   int
	skipThisStage              bool
	convProcessingPointSamples int
	processInThread            bool

	real *fft.RealPlan

	ir      [2][][]float32 // ir[slot][ch], full per-channel IR; partitions sliced on demand
	irIndex atomic.Uint32

	audioInputBuffer  [][][]float32 // [buffer][ch], len fftSizeTimeDomain ([blockSize:] stays zero)
	audioOutputBuffer [][][]float32 // [buffer][ch], len blockSize

	audioBufferPtr            int
	audioReadWriteBufferIndex int
	audioProcessBufferIndex   int

	audioInBlocks         [][][]complex64 // [ch][historyIndex], len spectrumLen
	audioInBlocksWritePtr int

	irBlockTime []float32
	irBlockFreq []complex64

	convFreq []complex64
	convTime []float32

	overlap [][]float32 // [ch], len blockSize

	outWindowScratch [][]float32 // [ch], reused by Process to avoid a per-call allocation

	worker *Worker
}

// FFTStageConfig bundles the sizing decisions an engine makes once per
// host block size, used to construct and initialize an FFTStage.
type FFTStageConfig struct {
	BlockSize                int
	BlockCount               int
	BlockOffset              int
	ReplacesDirectStage      bool
	NumChannels              int
	AudioProcessingBlockSize int
}

// NewFFTStage builds a stage for the given partition size and wires up
// its own forward/inverse FFT plan. The returned stage is idle until
// Start is called.
func NewFFTStage(cfg FFTStageConfig) (*FFTStage, error) {
	fftSize := 2 * cfg.BlockSize

	plan, err := fft.NewRealPlan(fftSize)
	if err != nil {
		return nil, err
	}

	numBuffers := 2
	if cfg.ReplacesDirectStage {
		numBuffers = 1
	}

	spectrumLen := plan.SpectrumLen()

	s := &FFTStage{
		blockSize:                cfg.BlockSize,
		blockCount:               cfg.BlockCount,
		blockOffset:              cfg.BlockOffset,
		replacesDirectStage:      cfg.ReplacesDirectStage,
		numBuffers:               numBuffers,
		numChannels:              cfg.NumChannels,
		fftSizeTimeDomain:        fftSize,
		spectrumLen:              spectrumLen,
		audioProcessingBlockSize: cfg.AudioProcessingBlockSize,
		real:                     plan,
		audioProcessBufferIndex:  1,
		irBlockTime:              make([]float32, fftSize),
		irBlockFreq:              make([]complex64, spectrumLen),
		convFreq:                 make([]complex64, spectrumLen),
		convTime:                 make([]float32, fftSize),
	}

	s.processInThread = !s.replacesDirectStage && s.blockSize > s.audioProcessingBlockSize

	if s.processInThread {
		s.convProcessingPointSamples = s.blockSize
	} else if s.blockSize > s.audioProcessingBlockSize {
		s.convProcessingPointSamples = s.blockSize / 2
	} else {
		s.convProcessingPointSamples = s.blockSize
	}

	if s.replacesDirectStage {
		s.skipThisStage = s.audioProcessingBlockSize != s.blockSize
	} else {
		s.skipThisStage = s.audioProcessingBlockSize > s.blockSize
	}

	s.audioInputBuffer = make([][][]float32, numBuffers)
	s.audioOutputBuffer = make([][][]float32, numBuffers)

	for b := 0; b < numBuffers; b++ {
		s.audioInputBuffer[b] = make([][]float32, s.numChannels)
		s.audioOutputBuffer[b] = make([][]float32, s.numChannels)

		for ch := 0; ch < s.numChannels; ch++ {
			s.audioInputBuffer[b][ch] = make([]float32, fftSize) // 2nd half stays zero: FFT zero padding
			s.audioOutputBuffer[b][ch] = make([]float32, cfg.BlockSize)
		}
	}

	s.audioInBlocks = make([][][]complex64, s.numChannels)
	s.overlap = make([][]float32, s.numChannels)

	for ch := 0; ch < s.numChannels; ch++ {
		s.audioInBlocks[ch] = make([][]complex64, s.blockCount)
		for b := 0; b < s.blockCount; b++ {
			s.audioInBlocks[ch][b] = make([]complex64, spectrumLen)
		}

		s.overlap[ch] = make([]float32, cfg.BlockSize)
	}

	s.outWindowScratch = make([][]float32, s.numChannels)
	s.worker = NewWorker(nil, s.processSignal, nil)

	return s, nil
}

// SetIR installs the full per-channel impulse response for buffer slot
// 0 or 1. ir[ch] must be long enough to cover
// (blockOffset+blockCount)*blockSize samples.
func (s *FFTStage) SetIR(slot int, ir [][]float32) {
	s.ir[slot] = ir
}

// Start launches the background worker if this stage processes off
// the audio thread. Stages small enough to keep up inline never start
// a goroutine.
func (s *FFTStage) Start() {
	if s.processInThread {
		s.worker.Start()
	}
}

// Stop halts the background worker, if one was started.
func (s *FFTStage) Stop(ctx context.Context) error {
	if !s.processInThread {
		return nil
	}

	return s.worker.Stop(ctx)
}

// Process consumes audioProcessingBlockSize samples per channel from
// audioIn and accumulates this stage's contribution into audioOut.
func (s *FFTStage) Process(audioIn, audioOut [][]float32) {
	if s.skipThisStage {
		return
	}

	n := s.audioProcessingBlockSize
	audioBufferPtr := s.audioBufferPtr
	rwIdx := s.audioReadWriteBufferIndex

	// Captured once, before rwIdx/audioBufferPtr roll over below: both
	// branches below must accumulate through this same window.
	outWindow := s.outWindowScratch

	for ch := 0; ch < s.numChannels; ch++ {
		in := s.audioInputBuffer[rwIdx][ch][audioBufferPtr:]
		out := s.audioOutputBuffer[rwIdx][ch][audioBufferPtr:]
		outWindow[ch] = out

		copy(in[:n], audioIn[ch][:n])

		if !s.replacesDirectStage {
			for i := 0; i < n; i++ {
				audioOut[ch][i] += out[i]
			}
		}
	}

	audioBufferPtr += n

	if audioBufferPtr == s.convProcessingPointSamples {
		if s.processInThread {
			s.audioProcessBufferIndex = rwIdx
			s.worker.Notify()
		} else {
			if s.numBuffers == 2 {
				s.audioProcessBufferIndex = 1 - rwIdx
			} else {
				s.audioProcessBufferIndex = rwIdx
			}

			s.processSignal()
		}
	}

	if audioBufferPtr >= s.blockSize {
		audioBufferPtr = 0

		if s.numBuffers == 2 {
			rwIdx = 1 - rwIdx
		}
	}

	if s.replacesDirectStage {
		for ch := 0; ch < s.numChannels; ch++ {
			for i := 0; i < n; i++ {
				audioOut[ch][i] += outWindow[ch][i]
			}
		}
	}

	s.audioReadWriteBufferIndex = rwIdx
	s.audioBufferPtr = audioBufferPtr
}

// CanUpdateIR reports whether this stage is at a safe point (not
// mid-processing) for the engine to flip IR buffer slots.
func (s *FFTStage) CanUpdateIR() bool {
	if s.skipThisStage {
		return true
	}

	return s.audioBufferPtr == s.convProcessingPointSamples-s.audioProcessingBlockSize
}

// UpdateIR flips the active IR buffer slot. Only safe to call when
// CanUpdateIR returns true.
func (s *FFTStage) UpdateIR(slot uint32) {
	s.irIndex.Store(slot)
}

// processSignal runs one full block convolution: forward-FFT the
// newest input, recompute every IR partition's spectrum, accumulate
// the frequency-domain products, and inverse-FFT with overlap-save.
// This is the expensive step that either runs inline (small stages) or
// on the background worker (large stages).
func (s *FFTStage) processSignal() {
	irSlot := s.ir[s.irIndex.Load()]
	processIdx := s.audioProcessBufferIndex
	writePtr := s.audioInBlocksWritePtr

	for ch := 0; ch < s.numChannels; ch++ {
		in := s.audioInputBuffer[processIdx][ch]
		out := s.audioOutputBuffer[processIdx][ch]

		if err := s.real.Forward(s.audioInBlocks[ch][writePtr], in); err != nil {
			continue
		}

		for i := range s.convFreq {
			s.convFreq[i] = 0
		}

		ir := irSlot[ch]

		for b := 0; b < s.blockCount; b++ {
			readPtr := writePtr - b
			if readPtr < 0 {
				readPtr += s.blockCount
			}

			start := (b + s.blockOffset) * s.blockSize
			end := start + s.blockSize

			for i := range s.irBlockTime[:s.blockSize] {
				s.irBlockTime[i] = 0
			}

			if start < len(ir) {
				if end > len(ir) {
					end = len(ir)
				}

				copy(s.irBlockTime[:s.blockSize], ir[start:end])
			}

			for i := s.blockSize; i < s.fftSizeTimeDomain; i++ {
				s.irBlockTime[i] = 0
			}

			if err := s.real.Forward(s.irBlockFreq, s.irBlockTime); err != nil {
				continue
			}

			audioBlock := s.audioInBlocks[ch][readPtr]
			for i := range s.convFreq {
				s.convFreq[i] += s.irBlockFreq[i] * audioBlock[i]
			}
		}

		if err := s.real.Inverse(s.convTime, s.convFreq); err != nil {
			continue
		}

		for i := 0; i < s.blockSize; i++ {
			out[i] = s.convTime[i] + s.overlap[ch][i]
		}

		copy(s.overlap[ch], s.convTime[s.blockSize:s.fftSizeTimeDomain])
	}

	s.audioInBlocksWritePtr++
	if s.audioInBlocksWritePtr >= s.blockCount {
		s.audioInBlocksWritePtr = 0
	}
}

// Reset clears all accumulated state (history, overlap, buffer
// pointers) without changing configuration or IR data.
func (s *FFTStage) Reset() {
	s.audioBufferPtr = 0
	s.audioReadWriteBufferIndex = 0
	s.audioProcessBufferIndex = 1
	s.audioInBlocksWritePtr = 0

	for b := range s.audioOutputBuffer {
		for ch := range s.audioOutputBuffer[b] {
			clear(s.audioOutputBuffer[b][ch])
		}
	}

	for b := range s.audioInputBuffer {
		for ch := range s.audioInputBuffer[b] {
			clear(s.audioInputBuffer[b][ch])
		}
	}

	for ch := range s.audioInBlocks {
		for b := range s.audioInBlocks[ch] {
			clear(s.audioInBlocks[ch][b])
		}

		clear(s.overlap[ch])
	}
}
