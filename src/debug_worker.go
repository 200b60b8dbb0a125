package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
)

// formatDebugValue formats a float with smart precision
func formatDebugValue(v float64) string {
	if v >= 100 || v <= -100 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// ANSI color codes for highlighting changes
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m" // Yellow for changed values
)

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output
var rlWriter = &readlineWriter{}

// maxRunSteps bounds a single run command
const maxRunSteps = 100000

// DebugState tracks what the console has shown so far
type DebugState struct {
	xlen, ulen    int
	headerPrinted bool
	columnWidths  []int
	prevValues    []string // Previous row for change highlighting
	latest        *StepResult
	lastControl   []float64
	rl            *readline.Instance
}

// NewDebugState creates a new debug state for the given widths
func NewDebugState(xlen, ulen int) *DebugState {
	return &DebugState{xlen: xlen, ulen: ulen}
}

// SetReadline sets the readline instance for proper output handling
func (s *DebugState) SetReadline(rl *readline.Instance) {
	s.rl = rl
}

// print outputs a line, handling readline prompt properly
func (s *DebugState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	} else {
		fmt.Println(line)
	}
}

// columnNames returns step, clock, states then controls
func (s *DebugState) columnNames() []string {
	names := []string{"step", "clock"}
	for i := range s.xlen {
		names = append(names, stateKey(i))
	}
	for i := range s.ulen {
		names = append(names, controlKey(i))
	}
	return names
}

// rowValues formats a result in columnNames order
func (s *DebugState) rowValues(r StepResult) []string {
	values := []string{strconv.Itoa(r.Step), formatDebugValue(r.Clock)}
	for _, v := range r.State {
		values = append(values, formatDebugValue(v))
	}
	control := r.Applied
	if control == nil {
		control = r.Control
	}
	for _, v := range control {
		values = append(values, formatDebugValue(v))
	}
	return values
}

// PrintHeader prints the column headers
func (s *DebugState) PrintHeader() {
	names := s.columnNames()
	s.columnWidths = make([]int, len(names))
	parts := make([]string, 0, len(names))
	for i, name := range names {
		s.columnWidths[i] = max(len(name), 8)
		parts = append(parts, fmt.Sprintf("%*s", s.columnWidths[i], name))
	}
	s.print("%s", strings.Join(parts, " | "))
	s.headerPrinted = true
	s.prevValues = nil
}

// PrintRow prints a result, highlighting values that differ from the previous row
func (s *DebugState) PrintRow(r StepResult) {
	s.latest = &r
	if !s.headerPrinted {
		s.PrintHeader()
	}

	values := s.rowValues(r)
	parts := make([]string, 0, len(values))
	for i, value := range values {
		if i >= len(s.columnWidths) {
			break
		}
		width := max(s.columnWidths[i], len(value))
		s.columnWidths[i] = width

		// Step and clock always move; only highlight state and control
		changed := i >= 2 && (i >= len(s.prevValues) || s.prevValues[i] != value)
		if changed {
			parts = append(parts, fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset))
		} else {
			parts = append(parts, fmt.Sprintf("%*s", width, value))
		}
	}
	s.print("%s", strings.Join(parts, " | "))
	s.prevValues = values
}

// ShowLatest prints the most recent result in full
func (s *DebugState) ShowLatest() {
	if s.latest == nil {
		log.Println("No steps taken yet")
		return
	}
	names := s.columnNames()
	values := s.rowValues(*s.latest)
	for i := range min(len(names), len(values)) {
		s.print("  %-6s %s", names[i], values[i])
	}
}

// ShowWindow prints the scaled state window from the most recent result
func (s *DebugState) ShowWindow() {
	if s.latest == nil {
		log.Println("No steps taken yet")
		return
	}
	s.print("State window (scaled, oldest first, %d rows):", len(s.latest.Window))
	for i, row := range s.latest.Window {
		parts := make([]string, len(row))
		for j, v := range row {
			parts[j] = strconv.FormatFloat(v, 'g', 6, 64)
		}
		s.print("  t-%d: %s", len(s.latest.Window)-1-i, strings.Join(parts, ", "))
	}
}

// parseControlArgs reads ulen numbers, or nothing to repeat the previous control
func parseControlArgs(args []string, ulen int, last []float64) ([]float64, error) {
	if len(args) == 0 {
		if last == nil {
			return nil, fmt.Errorf("no previous control, give %d value(s)", ulen)
		}
		return last, nil
	}
	if len(args) != ulen {
		return nil, fmt.Errorf("control needs %d value(s), got %d", ulen, len(args))
	}
	control := make([]float64, ulen)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid control value %q", a)
		}
		control[i] = v
	}
	return control, nil
}

// parseRunArgs parses "run <n> [u...]"
func parseRunArgs(args []string, ulen int, last []float64) (int, []float64, error) {
	if len(args) == 0 {
		return 0, nil, fmt.Errorf("usage: run <n> [u...]")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > maxRunSteps {
		return 0, nil, fmt.Errorf("step count must be between 1 and %d", maxRunSteps)
	}
	control, err := parseControlArgs(args[1:], ulen, last)
	if err != nil {
		return 0, nil, err
	}
	return n, control, nil
}

// handleDebugCommand processes a console command and returns controls to queue
func handleDebugCommand(cmd string, state *DebugState) []ControlCommand {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return nil
	}

	switch parts[0] {
	case "step":
		control, err := parseControlArgs(parts[1:], state.ulen, state.lastControl)
		if err != nil {
			log.Printf("Error: %v", err)
			return nil
		}
		state.lastControl = control
		return []ControlCommand{{Control: control, Source: "console"}}

	case "run":
		n, control, err := parseRunArgs(parts[1:], state.ulen, state.lastControl)
		if err != nil {
			log.Printf("Error: %v", err)
			return nil
		}
		state.lastControl = control
		cmds := make([]ControlCommand, n)
		for i := range cmds {
			cmds[i] = ControlCommand{Control: control, Source: "console"}
		}
		return cmds

	case "show":
		state.ShowLatest()

	case "window":
		state.ShowWindow()

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  step [u...]        - Advance one step (no values repeats the last control)")
		fmt.Println("  run <n> [u...]     - Advance n steps with the same control")
		fmt.Println("  show               - Show the latest step")
		fmt.Println("  window             - Show the scaled state window")
		fmt.Println("  help               - Show this help")

	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
	return nil
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for debug history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	mlsimCache := filepath.Join(cacheDir, "mlsim")
	_ = os.MkdirAll(mlsimCache, 0750)
	return filepath.Join(mlsimCache, "debug_history")
}

// debugWorker drives the simulator from an interactive console and prints every step
func debugWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	xlen, ulen int,
	resultChan <-chan StepResult,
	controlChan chan<- ControlCommand,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Debug worker: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil // Clear readline reference on exit
	}()

	// Redirect log output through readline-aware writer
	rlWriter.rl = rl
	log.SetOutput(rlWriter)

	log.Println("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := NewDebugState(xlen, ulen)
	state.SetReadline(rl)

	go readlineLoop(ctx, cancel, rl, commandChan)

	var pending []ControlCommand
	for {
		// Only offer a send while something is queued
		var sendChan chan<- ControlCommand
		var next ControlCommand
		if len(pending) > 0 {
			sendChan = controlChan
			next = pending[0]
		}

		select {
		case cmd := <-commandChan:
			pending = append(pending, handleDebugCommand(cmd, state)...)
		case sendChan <- next:
			pending = pending[1:]
		case result := <-resultChan:
			state.PrintRow(result)
		case <-ctx.Done():
			log.Println("Debug worker stopped")
			return
		}
	}
}
