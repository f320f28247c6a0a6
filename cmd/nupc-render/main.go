// Command nupc-render is an offline demonstration host for the
// convolution reverb: it reads a WAV file, runs it through
// reverb.Controller in fixed-size blocks exactly as a realtime audio
// callback would, and writes the result back out as WAV. It exists to
// exercise the controller and IR bank end to end without the
// platform-specific audio bridge a live host would need.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"

	"nupcverb/dsp/convengine"
	"nupcverb/irbank"
	"nupcverb/reverb"
)

func main() {
	inPath := flag.String("in", "", "Input WAV file (required)")
	outPath := flag.String("out", "", "Output WAV file (required)")
	irLibrary := flag.String("ir-library", "", "Path to an additional .irlib file to load alongside the built-in presets")
	irName := flag.String("ir-name", "", "Name of the impulse response to use (overrides -ir-index)")
	irIndex := flag.Int("ir-index", 0, "Index of the impulse response to use")
	listIRs := flag.Bool("list-irs", false, "List available impulse responses and exit")
	decay := flag.Float64("decay", 0.5, "Decay amount [0,1]")
	color := flag.Float64("color", 0.0, "Color [-1,1], negative = darker (lowpass), positive = brighter (highpass)")
	dryWet := flag.Float64("dry-wet", 0.0, "Dry/wet balance [-1,1], negative = dry-leaning, positive = wet-leaning")
	bypass := flag.Bool("bypass", false, "Bypass the wet path entirely (dry pass-through)")
	blockSize := flag.Int("block-size", 256, "Host block size in samples; must be a power of two")
	logPath := flag.String("log", "", "Log file path (default: stderr)")

	flag.Parse()

	logger := newLogger(*logPath)
	slog.SetDefault(logger)

	bank := irbank.Builtin()

	if *irLibrary != "" {
		if err := bank.LoadFile(*irLibrary); err != nil {
			fatalf("failed to load IR library %s: %v", *irLibrary, err)
		}
	}

	if *listIRs {
		for i := 0; i < bank.IRCount(); i++ {
			//nolint:forbidigo // CLI output
			fmt.Printf("  %3d: %s\n", i, bank.IRName(i))
		}

		return
	}

	index := *irIndex
	if *irName != "" {
		found := -1

		for i := 0; i < bank.IRCount(); i++ {
			if bank.IRName(i) == *irName {
				found = i
				break
			}
		}

		if found < 0 {
			fatalf("no impulse response named %q", *irName)
		}

		index = found
	}

	if *inPath == "" || *outPath == "" {
		fatalf("both -in and -out are required")
	}

	if *blockSize < convengine.MinBlockSize || *blockSize > convengine.MaxBlockSize || *blockSize&(*blockSize-1) != 0 {
		fatalf("-block-size must be a power of two in [%d,%d]", convengine.MinBlockSize, convengine.MaxBlockSize)
	}

	left, right, sampleRate, err := readWAVStereo(*inPath)
	if err != nil {
		fatalf("reading %s: %v", *inPath, err)
	}

	slog.Info("loaded input", "file", *inPath, "sampleRate", sampleRate, "frames", len(left))

	ctrl := reverb.New(bank, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := ctrl.Close(ctx); err != nil {
			slog.Error("controller shutdown error", "error", err)
		}
	}()

	ctrl.SetBypass(*bypass)

	params := reverb.Params{
		Decay:   *decay,
		Color:   *color,
		DryWet:  *dryWet,
		IRIndex: index,
		Bypass:  *bypass,
	}

	outLeft, outRight := renderStereo(ctrl, left, right, sampleRate, *blockSize, params)

	if err := writeWAVStereo(*outPath, outLeft, outRight, sampleRate); err != nil {
		fatalf("writing %s: %v", *outPath, err)
	}

	slog.Info("wrote output", "file", *outPath, "frames", len(outLeft))
}

// renderStereo feeds left/right through the controller blockSize
// samples at a time, zero-padding the final partial block so every
// call to Process sees a full-sized buffer.
func renderStereo(ctrl *reverb.Controller, left, right []float32, sampleRate float64, blockSize int, params reverb.Params) (outLeft, outRight []float32) {
	n := len(left)

	outLeft = make([]float32, n)
	outRight = make([]float32, n)

	in := [][]float32{make([]float32, blockSize), make([]float32, blockSize)}
	out := [][]float32{make([]float32, blockSize), make([]float32, blockSize)}

	for pos := 0; pos < n; pos += blockSize {
		end := pos + blockSize
		if end > n {
			end = n
		}

		chunk := end - pos

		copy(in[0], left[pos:end])
		copy(in[1], right[pos:end])

		for ch := range in {
			for i := chunk; i < blockSize; i++ {
				in[ch][i] = 0
			}
		}

		ctrl.Process(in, out, sampleRate, blockSize, params)

		if err := ctrl.LastError(); err != nil {
			slog.Warn("reverb processing fell back to dry pass-through", "error", err)
		}

		copy(outLeft[pos:end], out[0][:chunk])
		copy(outRight[pos:end], out[1][:chunk])
	}

	return outLeft, outRight
}

func readWAVStereo(path string) (left, right []float32, sampleRate float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, nil, 0, fmt.Errorf("not a valid WAV file: %s", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, nil, 0, err
	}

	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, nil, 0, fmt.Errorf("invalid WAV buffer: %s", path)
	}

	fbuf := buf.AsFloat32Buffer()
	ch := fbuf.Format.NumChannels
	frames := len(fbuf.Data) / ch

	left = make([]float32, frames)
	right = make([]float32, frames)

	for i := 0; i < frames; i++ {
		left[i] = fbuf.Data[i*ch]

		if ch > 1 {
			right[i] = fbuf.Data[i*ch+1]
		} else {
			right[i] = left[i]
		}
	}

	return left, right, float64(fbuf.Format.SampleRate), nil
}

func writeWAVStereo(path string, left, right []float32, sampleRate float64) error {
	if len(left) != len(right) {
		return fmt.Errorf("left/right length mismatch: %d != %d", len(left), len(right))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, int(sampleRate), 16, 2, 1)
	defer enc.Close()

	interleaved := make([]float32, len(left)*2)
	for i := range left {
		interleaved[i*2] = left[i]
		interleaved[i*2+1] = right[i]
	}

	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  int(sampleRate),
			NumChannels: 2,
		},
		Data:           interleaved,
		SourceBitDepth: 16,
	}

	return enc.Write(buf)
}

func newLogger(logPath string) *slog.Logger {
	if logPath == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		fatalf("failed to open log file: %v", err)
	}

	return slog.New(slog.NewTextHandler(file, nil))
}

func fatalf(format string, args ...interface{}) {
	//nolint:forbidigo // critical error output to user
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}
