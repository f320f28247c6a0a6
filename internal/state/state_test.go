package state

import (
	"math"
	"testing"

	"nupcverb/reverb"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	want := reverb.Params{
		Decay:   0.75,
		Color:   -0.3,
		DryWet:  0.2,
		IRIndex: 3,
		Bypass:  true,
	}

	blob := Encode(want)
	if len(blob) != EncodedSize {
		t.Fatalf("len(blob) = %d, want %d", len(blob), EncodedSize)
	}

	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if math.Abs(got.Decay-want.Decay) > 1e-6 {
		t.Errorf("Decay = %v, want %v", got.Decay, want.Decay)
	}

	if math.Abs(got.Color-want.Color) > 1e-6 {
		t.Errorf("Color = %v, want %v", got.Color, want.Color)
	}

	if math.Abs(got.DryWet-want.DryWet) > 1e-6 {
		t.Errorf("DryWet = %v, want %v", got.DryWet, want.DryWet)
	}

	if got.IRIndex != want.IRIndex {
		t.Errorf("IRIndex = %d, want %d", got.IRIndex, want.IRIndex)
	}

	if got.Bypass != want.Bypass {
		t.Errorf("Bypass = %v, want %v", got.Bypass, want.Bypass)
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short buffer")
	}

	if _, err := Decode(make([]byte, EncodedSize+1)); err == nil {
		t.Error("expected error for overlong buffer")
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	d := Default()

	if d.Decay != 0.5 {
		t.Errorf("Default().Decay = %v, want 0.5", d.Decay)
	}

	if d.Color != 0 || d.DryWet != 0 || d.IRIndex != 0 || d.Bypass {
		t.Errorf("Default() = %+v, want all-zero except Decay", d)
	}
}
