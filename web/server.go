// Package web exposes a browser control surface for the convolution
// reverb: a small REST/WebSocket server broadcasting parameter state
// and meter levels, mirroring the decay/color/dry-wet/IR/bypass
// surface cmd/nupc-tui exposes in the terminal. Like nupc-tui it drives
// its own internal test-tone render loop rather than a live audio
// device, since no platform audio backend is in scope here.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nupcverb/reverb"
)

// ErrUnsupportedPlatform is returned when browser opening is not supported.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

//go:embed static/*
var staticFiles embed.FS

const (
	renderSampleRate = 48000.0
	renderBlockSize  = 256
	renderTickRate   = 50 * time.Millisecond
	renderToneHz     = 220.0
)

// ReverbController is the subset of *reverb.Controller the server
// needs: enough to drive its own render loop and to react to a bypass
// toggle immediately rather than waiting for the next Process call.
type ReverbController interface {
	Process(audioIn, audioOut [][]float32, sampleRate float64, blockSize int, params reverb.Params)
	SetBypass(bypass bool)
	Bypass() bool
	Metrics(channel int) (inputLevel, outputLevel, reverbLevel float32)
}

// IRSource is the subset of irbank.Bank needed to list and name
// impulse responses.
type IRSource interface {
	IRCount() int
	IRName(index int) string
}

// IREntry represents an impulse response entry for JSON serialization.
type IREntry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Message represents a WebSocket message.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// StatePayload represents the current parameter state.
type StatePayload struct {
	Decay   float64 `json:"decay"`
	Color   float64 `json:"color"`
	DryWet  float64 `json:"dryWet"`
	IRIndex int     `json:"irIndex"`
	IRName  string  `json:"irName"`
	Bypass  bool    `json:"bypass"`
}

// MetersPayload represents meter values in dB.
type MetersPayload struct {
	InL  float64 `json:"inL"`
	InR  float64 `json:"inR"`
	RevL float64 `json:"revL"`
	RevR float64 `json:"revR"`
	OutL float64 `json:"outL"`
	OutR float64 `json:"outR"`
}

// Server is the web server for the convolution reverb UI.
type Server struct {
	ctrl   ReverbController
	irs    IRSource
	port   int
	hub    *Hub
	server *http.Server

	mu     sync.RWMutex
	params reverb.Params
}

// NewServer creates a new web server driving ctrl with an initial
// parameter set read from initial (typically internal/state.Default()
// or a loaded state blob).
func NewServer(ctrl ReverbController, irs IRSource, port int, initial reverb.Params) *Server {
	return &Server{
		ctrl:   ctrl,
		irs:    irs,
		port:   port,
		hub:    NewHub(),
		params: initial,
	}
}

// Params returns the current parameter state.
func (s *Server) Params() reverb.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.params
}

// Start starts the web server and its internal render/broadcast loops.
// Blocks until the server stops.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.renderLoop()
	go s.meterBroadcastLoop()

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("failed to create static file system: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/state", s.handleAPIState)
	mux.HandleFunc("/api/ir-list", s.handleAPIIRList)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("web server starting", "port", s.port, "url", fmt.Sprintf("http://localhost:%d", s.port))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}

	return nil
}

// renderLoop feeds a steady test tone through the controller so meter
// levels have something to show and Bypass/Process remain exercised
// even with no browser-driven audio path.
func (s *Server) renderLoop() {
	ticker := time.NewTicker(renderTickRate)
	defer ticker.Stop()

	in := [][]float32{make([]float32, renderBlockSize), make([]float32, renderBlockSize)}
	out := [][]float32{make([]float32, renderBlockSize), make([]float32, renderBlockSize)}

	var blockIndex int

	for range ticker.C {
		for ch := range in {
			for i := range in[ch] {
				t := float64(blockIndex*renderBlockSize+i) / renderSampleRate
				in[ch][i] = float32(0.2 * math.Sin(2*math.Pi*renderToneHz*t))
			}
		}

		blockIndex++

		s.ctrl.Process(in, out, renderSampleRate, renderBlockSize, s.Params())
	}
}

// handleIndex serves the main HTML page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

//nolint:gochecknoglobals // WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// handleWebSocket handles WebSocket connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	s.hub.register <- client

	s.sendState(client)
	s.sendIRList(client)

	go client.writePump()
	client.readPump(func(msg []byte) {
		s.handleClientMessage(msg)
	})
}

func (s *Server) irName(index int) string {
	if s.irs == nil {
		return ""
	}

	return s.irs.IRName(index)
}

func (s *Server) sendState(client *Client) {
	p := s.Params()
	state := StatePayload{
		Decay:   p.Decay,
		Color:   p.Color,
		DryWet:  p.DryWet,
		IRIndex: p.IRIndex,
		IRName:  s.irName(p.IRIndex),
		Bypass:  p.Bypass,
	}

	s.sendJSON(client, Message{Type: "state", Payload: state})
}

func (s *Server) sendIRList(client *Client) {
	var list []IREntry

	if s.irs != nil {
		list = make([]IREntry, s.irs.IRCount())
		for i := range list {
			list[i] = IREntry{Index: i, Name: s.irs.IRName(i)}
		}
	}

	s.sendJSON(client, Message{Type: "ir_list", Payload: list})
}

func (s *Server) sendJSON(client *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal message", "type", msg.Type, "error", err)
		return
	}

	client.send <- data
}

// handleClientMessage handles incoming WebSocket messages.
func (s *Server) handleClientMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Error("failed to parse WebSocket message", "error", err)
		return
	}

	payload, _ := msg.Payload.(map[string]interface{})

	switch msg.Type {
	case "set_decay":
		s.setFloatParam(payload, func(p *reverb.Params, v float64) { p.Decay = clamp01(v) }, "decay")
	case "set_color":
		s.setFloatParam(payload, func(p *reverb.Params, v float64) { p.Color = clampSigned(v) }, "color")
	case "set_dry_wet":
		s.setFloatParam(payload, func(p *reverb.Params, v float64) { p.DryWet = clampSigned(v) }, "dryWet")
	case "set_ir":
		if v, ok := payload["index"].(float64); ok {
			idx := int(v)

			s.mu.Lock()
			s.params.IRIndex = idx
			s.mu.Unlock()

			s.broadcastIRChange(idx, s.irName(idx))
		}
	case "set_bypass":
		if v, ok := payload["value"].(bool); ok {
			s.mu.Lock()
			s.params.Bypass = v
			s.mu.Unlock()

			s.ctrl.SetBypass(v)
			s.broadcastParamChange("bypass", v)
		}
	}
}

func (s *Server) setFloatParam(payload map[string]interface{}, apply func(*reverb.Params, float64), name string) {
	v, ok := payload["value"].(float64)
	if !ok {
		return
	}

	s.mu.Lock()
	apply(&s.params, v)
	newVal := s.params
	s.mu.Unlock()

	var broadcastVal float64

	switch name {
	case "decay":
		broadcastVal = newVal.Decay
	case "color":
		broadcastVal = newVal.Color
	case "dryWet":
		broadcastVal = newVal.DryWet
	}

	s.broadcastParamChange(name, broadcastVal)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}

	if v > 1 {
		return 1
	}

	return v
}

func (s *Server) broadcastParamChange(param string, value interface{}) {
	s.sendBroadcast(Message{
		Type: "param_changed",
		Payload: map[string]interface{}{
			"param": param,
			"value": value,
		},
	})
}

func (s *Server) broadcastIRChange(index int, name string) {
	s.sendBroadcast(Message{
		Type: "ir_changed",
		Payload: map[string]interface{}{
			"index": index,
			"name":  name,
		},
	})
}

func (s *Server) sendBroadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal broadcast", "type", msg.Type, "error", err)
		return
	}

	s.hub.Broadcast(data)
}

// meterBroadcastLoop broadcasts meter values at 50ms intervals.
func (s *Server) meterBroadcastLoop() {
	ticker := time.NewTicker(renderTickRate)
	defer ticker.Stop()

	for range ticker.C {
		if s.hub.ClientCount() == 0 {
			continue
		}

		inL, outL, revL := s.ctrl.Metrics(0)
		inR, outR, revR := s.ctrl.Metrics(1)

		s.sendBroadcast(Message{Type: "meters", Payload: MetersPayload{
			InL:  linToDB(inL),
			InR:  linToDB(inR),
			RevL: linToDB(revL),
			RevR: linToDB(revR),
			OutL: linToDB(outL),
			OutR: linToDB(outR),
		}})
	}
}

// linToDB converts linear amplitude to dB, clamped to a displayable range.
func linToDB(l float32) float64 {
	if l <= 1e-9 {
		return -96.0
	}

	db := 20 * math.Log10(float64(l))
	if db < -96.0 {
		return -96.0
	}

	if db > 6.0 {
		return 6.0
	}

	return db
}

// handleAPIState handles the REST API state endpoint.
func (s *Server) handleAPIState(w http.ResponseWriter, _ *http.Request) {
	p := s.Params()
	state := StatePayload{
		Decay:   p.Decay,
		Color:   p.Color,
		DryWet:  p.DryWet,
		IRIndex: p.IRIndex,
		IRName:  s.irName(p.IRIndex),
		Bypass:  p.Bypass,
	}

	w.Header().Set("Content-Type", "application/json")
	//nolint:errchkjson // StatePayload is a well-defined struct
	_ = json.NewEncoder(w).Encode(state)
}

// handleAPIIRList handles the REST API IR list endpoint.
func (s *Server) handleAPIIRList(w http.ResponseWriter, _ *http.Request) {
	var list []IREntry

	if s.irs != nil {
		list = make([]IREntry, s.irs.IRCount())
		for i := range list {
			list[i] = IREntry{Index: i, Name: s.irs.IRName(i)}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	//nolint:errchkjson // IREntry slice is well-defined
	_ = json.NewEncoder(w).Encode(list)
}

// OpenBrowser opens the default browser to the specified URL.
func OpenBrowser(url string) error {
	ctx := context.Background()

	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", url)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
	}

	return cmd.Start()
}
