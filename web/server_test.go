package web

import (
	"encoding/json"
	"math"
	"testing"

	"nupcverb/reverb"
)

type fakeController struct {
	bypass    bool
	processed int
}

func (f *fakeController) Process(_, _ [][]float32, _ float64, _ int, _ reverb.Params) {
	f.processed++
}

func (f *fakeController) SetBypass(b bool) { f.bypass = b }
func (f *fakeController) Bypass() bool     { return f.bypass }

func (f *fakeController) Metrics(channel int) (float32, float32, float32) {
	return 0.1, 0.2, 0.3
}

type fakeIRSource struct {
	names []string
}

func (f *fakeIRSource) IRCount() int { return len(f.names) }

func (f *fakeIRSource) IRName(index int) string {
	if index < 0 || index >= len(f.names) {
		return ""
	}

	return f.names[index]
}

func newTestServer() (*Server, *fakeController) {
	ctrl := &fakeController{}
	irs := &fakeIRSource{names: []string{"Small Room", "Hall"}}
	s := NewServer(ctrl, irs, 0, reverb.Params{Decay: 0.5})

	return s, ctrl
}

func TestClamp01(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want float64 }{
		{-1, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {2, 1},
	}

	for _, tt := range tests {
		if got := clamp01(tt.in); got != tt.want {
			t.Errorf("clamp01(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClampSigned(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want float64 }{
		{-2, -1}, {-1, -1}, {0, 0}, {1, 1}, {2, 1},
	}

	for _, tt := range tests {
		if got := clampSigned(tt.in); got != tt.want {
			t.Errorf("clampSigned(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLinToDBClampsRange(t *testing.T) {
	t.Parallel()

	if got := linToDB(0); got != -96.0 {
		t.Errorf("linToDB(0) = %v, want -96", got)
	}

	if got := linToDB(10); got != 6.0 {
		t.Errorf("linToDB(10) = %v, want clamped to 6", got)
	}

	got := linToDB(1)
	if math.Abs(got) > 1e-9 {
		t.Errorf("linToDB(1) = %v, want ~0", got)
	}
}

func TestHandleClientMessageSetDecayClampsAndUpdatesParams(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer()

	msg, _ := json.Marshal(Message{Type: "set_decay", Payload: map[string]interface{}{"value": 1.5}})
	s.handleClientMessage(msg)

	if got := s.Params().Decay; got != 1.0 {
		t.Errorf("Decay = %v, want clamped to 1.0", got)
	}
}

func TestHandleClientMessageSetColorClampsSigned(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer()

	msg, _ := json.Marshal(Message{Type: "set_color", Payload: map[string]interface{}{"value": -5.0}})
	s.handleClientMessage(msg)

	if got := s.Params().Color; got != -1.0 {
		t.Errorf("Color = %v, want clamped to -1.0", got)
	}
}

func TestHandleClientMessageSetDryWet(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer()

	msg, _ := json.Marshal(Message{Type: "set_dry_wet", Payload: map[string]interface{}{"value": 0.4}})
	s.handleClientMessage(msg)

	if got := s.Params().DryWet; got != 0.4 {
		t.Errorf("DryWet = %v, want 0.4", got)
	}
}

func TestHandleClientMessageSetIR(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer()

	msg, _ := json.Marshal(Message{Type: "set_ir", Payload: map[string]interface{}{"index": 1.0}})
	s.handleClientMessage(msg)

	if got := s.Params().IRIndex; got != 1 {
		t.Errorf("IRIndex = %v, want 1", got)
	}
}

func TestHandleClientMessageSetBypassPropagatesToController(t *testing.T) {
	t.Parallel()

	s, ctrl := newTestServer()

	msg, _ := json.Marshal(Message{Type: "set_bypass", Payload: map[string]interface{}{"value": true}})
	s.handleClientMessage(msg)

	if !s.Params().Bypass {
		t.Error("Params().Bypass = false, want true")
	}

	if !ctrl.bypass {
		t.Error("controller bypass was not set")
	}
}

func TestIRNameOutOfRangeReturnsEmpty(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer()

	if got := s.irName(99); got != "" {
		t.Errorf("irName(99) = %q, want empty", got)
	}

	if got := s.irName(0); got != "Small Room" {
		t.Errorf("irName(0) = %q, want %q", got, "Small Room")
	}
}
