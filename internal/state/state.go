// Package state persists the reverb's user-facing parameters across
// host sessions: a fixed-width little-endian binary blob, the same
// shape a plugin host would save as the node's opaque state chunk.
package state

import (
	"encoding/binary"
	"fmt"
	"math"

	"nupcverb/reverb"
)

// EncodedSize is the exact byte length of every Encode result and the
// only length Decode accepts: three float32 parameters (decay, color,
// dryWet) followed by two int32 values (irIndex, bypass).
const EncodedSize = 3*4 + 2*4

// Encode serializes params into the wire format: decay, color, dryWet
// (float32 LE), irIndex, bypass (int32 LE, bypass as 0/1). The result
// carries no header of its own, so it can be written directly into an
// external shell's opaque state chunk.
func Encode(params reverb.Params) []byte {
	buf := make([]byte, EncodedSize)

	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(float32(params.Decay)))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(float32(params.Color)))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(params.DryWet)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(int32(params.IRIndex)))

	bypass := int32(0)
	if params.Bypass {
		bypass = 1
	}

	binary.LittleEndian.PutUint32(buf[16:20], uint32(bypass))

	return buf
}

// Decode parses a blob written by Encode. An error is returned for any
// length mismatch; callers should fall back to default parameters
// rather than propagate it as fatal.
func Decode(data []byte) (reverb.Params, error) {
	var p reverb.Params

	if len(data) != EncodedSize {
		return p, fmt.Errorf("state: expected %d bytes, got %d", EncodedSize, len(data))
	}

	p.Decay = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[0:4])))
	p.Color = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[4:8])))
	p.DryWet = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[8:12])))
	p.IRIndex = int(int32(binary.LittleEndian.Uint32(data[12:16])))
	p.Bypass = int32(binary.LittleEndian.Uint32(data[16:20])) != 0

	return p, nil
}

// Default returns the parameter set a freshly instantiated controller
// should start with.
func Default() reverb.Params {
	return reverb.Params{
		Decay:   0.5,
		Color:   0,
		DryWet:  0,
		IRIndex: 0,
		Bypass:  false,
	}
}
