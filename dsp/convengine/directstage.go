package convengine

import "sync/atomic"

// DirectStage performs brute-force time-domain convolution against the
// first two blocks' worth of impulse-response samples, giving the
// engine a zero-FFT-latency path for the earliest and loudest part of
// the response. It is only used when the host's block size is small
// enough that an FFT stage of that size couldn't keep up (see
// DirectStageMaxBlockSize).
type DirectStage struct {
	numChannels int
	blockSize2  int // = 2 * the direct stage's own block size
	accum       [][]float32
	ir          [2][][]float32 // ir[bufferSlot][channel], each len blockSize2
	irIndex     atomic.Uint32
	currentPos  int
}

// NewDirectStage creates a direct-form stage covering blockSize2
// samples of IR per channel (blockSize2 = 2*directStageBlockSize).
func NewDirectStage(numChannels, blockSize2 int) *DirectStage {
	accum := make([][]float32, numChannels)
	for ch := range accum {
		accum[ch] = make([]float32, blockSize2)
	}

	return &DirectStage{
		numChannels: numChannels,
		blockSize2:  blockSize2,
		accum:       accum,
	}
}

// SetIR installs the IR data for buffer slot 0 or 1. ir[ch] must have
// length >= blockSize2; only the first blockSize2 samples are used.
func (d *DirectStage) SetIR(slot int, ir [][]float32) {
	d.ir[slot] = ir
}

// UpdateIR flips the active IR buffer slot.
func (d *DirectStage) UpdateIR(slot uint32) {
	d.irIndex.Store(slot)
}

// CanUpdateIR is always true: the direct stage keeps no background
// processing state that an IR swap could race with.
func (d *DirectStage) CanUpdateIR() bool { return true }

// Process convolves audioIn (audioProcessingBlockSize samples per
// channel) against the active IR slot, accumulating into audioOut.
func (d *DirectStage) Process(audioIn, audioOut [][]float32) {
	ir := d.ir[d.irIndex.Load()]
	blockSize2 := d.blockSize2
	currentPos := d.currentPos
	n := len(audioIn[0])

	for i := 0; i < n; i++ {
		for ch := 0; ch < d.numChannels; ch++ {
			x := audioIn[ch][i]
			acc := d.accum[ch]
			irCh := ir[ch]

			for j := 0; j < blockSize2; j++ {
				writePtr := currentPos + j
				if writePtr >= blockSize2 {
					writePtr -= blockSize2
				}

				acc[writePtr] += x * irCh[j]
			}
		}

		for ch := 0; ch < d.numChannels; ch++ {
			audioOut[ch][i] += d.accum[ch][currentPos]
			d.accum[ch][currentPos] = 0
		}

		currentPos++
		if currentPos == blockSize2 {
			currentPos = 0
		}
	}

	d.currentPos = currentPos
}

// Reset clears the accumulator and position.
func (d *DirectStage) Reset() {
	for ch := range d.accum {
		clear(d.accum[ch])
	}

	d.currentPos = 0
}
