package convengine

// Engine-wide limits, pinned to the values the original plugin shipped
// with so IR partitioning and latency math stay bit-compatible.
const (
	DefaultIRSampleRate = 48000
	MaxSampleRate       = 48000 * 8

	MinBlockSize = 16
	MaxBlockSize = 8 * 1024

	MaxIRLenSeconds = 10
	MaxIRLenSamples = MaxSampleRate * MaxIRLenSeconds
	MinIRLenSamples = 3 * MaxBlockSize // smallest IR the partition scheme can cover

	SmallestStageSize       = 64
	LongestStageSize        = 16 * 1024
	DirectStageMaxBlockSize = 128
)

// isPowerOfTwo reports whether n is a positive power of two.
func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
