// Command nupc-tui is an interactive terminal control surface for the
// convolution reverb, driven by a loopback-style render loop rather
// than a live audio backend: it re-convolves the same input buffer on
// every tick so parameter changes show on the level meters without
// needing a platform-specific audio bridge. Nothing is played back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/nsf/termbox-go"

	"nupcverb/irbank"
	"nupcverb/reverb"
)

const (
	tickInterval = 50 * time.Millisecond
	sampleRate   = 48000.0
	blockSize    = 256
	toneFreqHz   = 220.0
	paramStep    = 0.02
)

var paramNames = []string{
	"Impulse Response",
	"Decay",
	"Color",
	"Dry/Wet",
	"Bypass",
}

// tuiState mirrors reverb.Params plus the navigation/display state the
// draw loop needs; params.IRIndex is authoritative, mirrored into
// irBrowseIdx only while browsing.
type tuiState struct {
	selectedParam int
	exit          bool

	ctrl *reverb.Controller
	bank *irbank.Bank

	params reverb.Params

	irBrowseMode bool
	irBrowseIdx  int

	in  [][]float32
	out [][]float32
}

func main() {
	irLibrary := flag.String("ir-library", "", "Path to an additional .irlib file to load alongside the built-in presets")
	irIndex := flag.Int("ir-index", 0, "Initial impulse response index")
	logPath := flag.String("log", "nupc-tui.log", "Log file path")

	flag.Parse()

	file, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		//nolint:forbidigo // error output before logging is initialized
		fmt.Printf("Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	logger := slog.New(slog.NewTextHandler(file, nil))
	slog.SetDefault(logger)

	bank := irbank.Builtin()

	if *irLibrary != "" {
		if err := bank.LoadFile(*irLibrary); err != nil {
			slog.Error("failed to load IR library", "path", *irLibrary, "error", err)
		}
	}

	ctrl := reverb.New(bank, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ctrl.Close(ctx)
	}()

	state := &tuiState{
		ctrl: ctrl,
		bank: bank,
		params: reverb.Params{
			Decay:   0.5,
			IRIndex: clampIRIndex(*irIndex, bank.IRCount()),
		},
		irBrowseIdx: clampIRIndex(*irIndex, bank.IRCount()),
		in:          [][]float32{make([]float32, blockSize), make([]float32, blockSize)},
		out:         [][]float32{make([]float32, blockSize), make([]float32, blockSize)},
	}

	fillTone(state.in[0], 0)
	fillTone(state.in[1], 0)

	runTUI(state)
}

func clampIRIndex(idx, count int) int {
	if count == 0 {
		return 0
	}

	if idx < 0 {
		return 0
	}

	if idx >= count {
		return count - 1
	}

	return idx
}

// fillTone writes one block of a steady test tone starting at phase
// offset blockIndex*blockSize samples, giving the meters something
// non-silent to react to as parameters change.
func fillTone(dst []float32, blockIndex int) {
	for i := range dst {
		t := float64(blockIndex*blockSize+i) / sampleRate
		dst[i] = float32(0.2 * math.Sin(2*math.Pi*toneFreqHz*t))
	}
}

func runTUI(state *tuiState) {
	if err := termbox.Init(); err != nil {
		//nolint:forbidigo // TUI initialization error requires direct output
		fmt.Printf("Failed to initialize TUI: %v\n", err)
		return
	}
	defer termbox.Close()

	termbox.SetInputMode(termbox.InputEsc)

	eventQueue := make(chan termbox.Event)

	go func() {
		for {
			eventQueue <- termbox.PollEvent()
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var blockIndex int

	draw(state)

	for !state.exit {
		select {
		case ev := <-eventQueue:
			switch ev.Type {
			case termbox.EventKey:
				handleKey(ev, state)
			case termbox.EventResize:
				draw(state)
			}
		case <-ticker.C:
			blockIndex++
			fillTone(state.in[0], blockIndex)
			fillTone(state.in[1], blockIndex)

			state.ctrl.Process(state.in, state.out, sampleRate, blockSize, state.params)
			draw(state)
		}
	}
}

func handleKey(ev termbox.Event, s *tuiState) {
	if s.irBrowseMode {
		handleIRBrowseKey(ev, s)
		return
	}

	if ev.Key == termbox.KeyEsc || ev.Ch == 'q' {
		s.exit = true
		return
	}

	switch ev.Key {
	case termbox.KeyArrowUp:
		s.selectedParam--
		if s.selectedParam < 0 {
			s.selectedParam = len(paramNames) - 1
		}
	case termbox.KeyArrowDown:
		s.selectedParam++
		if s.selectedParam >= len(paramNames) {
			s.selectedParam = 0
		}
	}

	switch s.selectedParam {
	case 0: // Impulse Response
		if ev.Key == termbox.KeyArrowRight || ev.Key == termbox.KeyArrowLeft || ev.Key == termbox.KeyEnter {
			s.irBrowseMode = true
			s.irBrowseIdx = s.params.IRIndex
		}
	case 1: // Decay
		s.params.Decay = stepParam(ev, s.params.Decay, 0, 1)
	case 2: // Color
		s.params.Color = stepParam(ev, s.params.Color, -1, 1)
	case 3: // Dry/Wet
		s.params.DryWet = stepParam(ev, s.params.DryWet, -1, 1)
	case 4: // Bypass
		if ev.Key == termbox.KeyArrowRight || ev.Key == termbox.KeyArrowLeft || ev.Key == termbox.KeyEnter {
			s.params.Bypass = !s.params.Bypass
			s.ctrl.SetBypass(s.params.Bypass)
		}
	}
}

func stepParam(ev termbox.Event, value, lo, hi float64) float64 {
	change := 0.0
	if ev.Key == termbox.KeyArrowRight {
		change = paramStep
	}

	if ev.Key == termbox.KeyArrowLeft {
		change = -paramStep
	}

	value += change
	if value < lo {
		value = lo
	}

	if value > hi {
		value = hi
	}

	return value
}

func handleIRBrowseKey(ev termbox.Event, s *tuiState) {
	count := s.bank.IRCount()

	switch ev.Key {
	case termbox.KeyEsc:
		s.irBrowseMode = false
		s.irBrowseIdx = s.params.IRIndex
	case termbox.KeyEnter:
		s.params.IRIndex = s.irBrowseIdx
		s.irBrowseMode = false
	case termbox.KeyArrowUp:
		s.irBrowseIdx--
		if s.irBrowseIdx < 0 {
			s.irBrowseIdx = count - 1
		}
	case termbox.KeyArrowDown:
		s.irBrowseIdx++
		if s.irBrowseIdx >= count {
			s.irBrowseIdx = 0
		}
	}
}

func draw(state *tuiState) {
	_ = termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)

	if state.irBrowseMode {
		drawIRBrowser(state)
		return
	}

	printTB(0, 0, termbox.ColorCyan, termbox.ColorDefault, "Convolution Reverb - Interactive Mode")
	printTB(0, 1, termbox.ColorWhite, termbox.ColorDefault, fmt.Sprintf("Sample Rate: %.0f Hz  Block: %d", sampleRate, blockSize))
	printTB(0, 2, termbox.ColorDefault, termbox.ColorDefault, "Use Arrows to navigate/adjust. 'q' or Esc to quit.")
	printTB(0, 3, termbox.ColorDefault, termbox.ColorDefault, "----------------------------------------------------")

	irName := state.bank.IRName(state.params.IRIndex)
	if irName == "" {
		irName = "(none)"
	}

	bypassStr := "off"
	if state.params.Bypass {
		bypassStr = "on"
	}

	vals := []string{
		irName,
		fmt.Sprintf("%.2f", state.params.Decay),
		fmt.Sprintf("%+.2f", state.params.Color),
		fmt.Sprintf("%+.2f", state.params.DryWet),
		bypassStr,
	}

	for i, name := range paramNames {
		col := termbox.ColorWhite
		bg := termbox.ColorDefault
		prefix := "  "

		if i == state.selectedParam {
			col = termbox.ColorDefault
			bg = termbox.ColorWhite
			prefix = "> "
		}

		line := fmt.Sprintf("%-22s %s", prefix+name, vals[i])
		printTB(0, 5+i, col, bg, line)

		if i == 0 && i == state.selectedParam {
			printTB(len(line)+2, 5+i, termbox.ColorYellow, termbox.ColorDefault, "[Enter to browse]")
		}
	}

	meterY := 12
	printTB(0, meterY, termbox.ColorYellow, termbox.ColorDefault, "Meters:")

	inL, outL, revL := state.ctrl.Metrics(0)
	inR, outR, revR := state.ctrl.Metrics(1)

	drawMeter(meterY+2, "In L ", linToDB(inL), termbox.ColorGreen)
	drawMeter(meterY+3, "In R ", linToDB(inR), termbox.ColorGreen)
	drawMeter(meterY+5, "Rev L", linToDB(revL), termbox.ColorRed)
	drawMeter(meterY+6, "Rev R", linToDB(revR), termbox.ColorRed)
	drawMeter(meterY+8, "Out L", linToDB(outL), termbox.ColorBlue)
	drawMeter(meterY+9, "Out R", linToDB(outR), termbox.ColorBlue)

	termbox.Flush()
}

func drawIRBrowser(state *tuiState) {
	_, h := termbox.Size()

	printTB(0, 0, termbox.ColorMagenta, termbox.ColorDefault, "Select Impulse Response")
	printTB(0, 1, termbox.ColorDefault, termbox.ColorDefault, "Use Up/Down to browse, Enter to select, Esc to cancel")
	printTB(0, 2, termbox.ColorDefault, termbox.ColorDefault, "─────────────────────────────────────────")

	listStartY := 4
	listHeight := h - listStartY - 1
	if listHeight < 5 {
		listHeight = 5
	}

	count := state.bank.IRCount()

	for i := 0; i < listHeight && i < count; i++ {
		col := termbox.ColorWhite
		bg := termbox.ColorDefault
		prefix := "  "

		if i == state.irBrowseIdx {
			col = termbox.ColorDefault
			bg = termbox.ColorWhite
			prefix = "> "
		}

		suffix := ""
		if i == state.params.IRIndex {
			suffix = " [current]"
		}

		line := fmt.Sprintf("%s%3d: %-25s%s", prefix, i, state.bank.IRName(i), suffix)
		printTB(0, listStartY+i, col, bg, line)
	}

	termbox.Flush()
}

func linToDB(l float32) float64 {
	if l <= 1e-9 {
		return -96.0
	}

	return 20 * math.Log10(float64(l))
}

func drawMeter(yPos int, label string, db float64, color termbox.Attribute) {
	const (
		barWidth = 60
		xPos     = 2
		minDB    = -96.0
		maxDB    = 6.0
	)

	if db < minDB {
		db = minDB
	}

	if db > maxDB {
		db = maxDB
	}

	ratio := (db - minDB) / (maxDB - minDB)
	filled := int(ratio * float64(barWidth))

	printTB(xPos, yPos, termbox.ColorDefault, termbox.ColorDefault, fmt.Sprintf("%s [%-6.1f dB] ", label, db))

	startX := xPos + 15

	for i := 0; i < barWidth; i++ {
		barChar := '░'
		if i < filled {
			barChar = '█'
		}

		termbox.SetCell(startX+i, yPos, barChar, color, termbox.ColorDefault)
	}
}

func printTB(x, y int, fg, bg termbox.Attribute, msg string) {
	for _, c := range msg {
		termbox.SetCell(x, y, c, fg, bg)
		x++
	}
}
