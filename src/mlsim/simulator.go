package mlsim

import (
	"fmt"
	"math"
)

// Phase is the lifecycle stage of a Simulator
type Phase int

const (
	// PhaseUninitialized means no step has run and the control window does not exist yet
	PhaseUninitialized Phase = iota
	// PhaseRunning means the control window holds ULag scaled controls
	PhaseRunning
	// PhaseFailed means a step failed part way; the simulator must be discarded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseRunning:
		return "running"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Config holds the construction options for a Simulator
type Config struct {
	Scaler Scaler // Fitted on joint rows of XLen state columns followed by ULen control columns
	Model  Model  // Maps XLag*XLen + ULag*ULen scaled features to XLen scaled state

	// InitialState is either a single raw state row, replicated XLag times,
	// or XLag raw rows ordered oldest to newest.
	InitialState [][]float64

	XLag, ULag int
	XLen, ULen int

	Interval     float64 // Simulated time per step, 0 means 1
	InitialClock float64 // Clock before the first step

	// PriorActions are the ULag-1 raw controls preceding the first step.
	// When nil the first control is assumed to have been applied throughout.
	PriorActions [][]float64

	// UtMin and UtMax clip raw controls elementwise. Set both or neither.
	UtMin, UtMax []float64

	// SkipSeparabilityCheck disables probing Scaler for cross-column coupling
	SkipSeparabilityCheck bool
}

// Simulator steps a Model forward in time. It is not safe for concurrent use.
type Simulator struct {
	model    Model
	xScaler  *PartialScaler
	uScaler  *PartialScaler
	xlag     int
	ulag     int
	xlen     int
	ulen     int
	interval float64
	clock0   float64
	steps    int
	phase    Phase
	utMin    []float64
	utMax    []float64
	prior    [][]float64
	applied  []float64 // Raw control used by the last successful step, after clipping

	states   *window
	controls *window // nil until the first step
}

// New validates cfg and builds a Simulator with its state window seeded
func New(cfg Config) (*Simulator, error) {
	if cfg.Scaler == nil || cfg.Model == nil {
		return nil, configError("scaler and model are required")
	}
	if cfg.XLag <= 0 || cfg.ULag <= 0 || cfg.XLen <= 0 || cfg.ULen <= 0 {
		return nil, configError("lags and widths must be positive (xlag=%d ulag=%d xlen=%d ulen=%d)",
			cfg.XLag, cfg.ULag, cfg.XLen, cfg.ULen)
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = 1
	}
	if interval < 0 || math.IsNaN(interval) || math.IsInf(interval, 0) {
		return nil, configError("interval must be positive and finite, got %v", cfg.Interval)
	}
	if math.IsNaN(cfg.InitialClock) || math.IsInf(cfg.InitialClock, 0) {
		return nil, configError("initial clock must be finite, got %v", cfg.InitialClock)
	}

	if (cfg.UtMin == nil) != (cfg.UtMax == nil) {
		return nil, configError("ut_min and ut_max must be set together")
	}
	if cfg.UtMin != nil {
		if len(cfg.UtMin) != cfg.ULen {
			return nil, widthError("ut_min", cfg.ULen, len(cfg.UtMin))
		}
		if len(cfg.UtMax) != cfg.ULen {
			return nil, widthError("ut_max", cfg.ULen, len(cfg.UtMax))
		}
		for i := range cfg.UtMin {
			// Infinite bounds leave a side open; NaN would poison every clipped control
			if math.IsNaN(cfg.UtMin[i]) || math.IsNaN(cfg.UtMax[i]) {
				return nil, configError("clip bound %d is NaN", i)
			}
			if cfg.UtMin[i] > cfg.UtMax[i] {
				return nil, configError("ut_min[%d]=%v exceeds ut_max[%d]=%v", i, cfg.UtMin[i], i, cfg.UtMax[i])
			}
		}
	}

	width := cfg.XLen + cfg.ULen
	if !cfg.SkipSeparabilityCheck {
		if err := CheckSeparable(cfg.Scaler, 0, cfg.XLen, width); err != nil {
			return nil, err
		}
		if err := CheckSeparable(cfg.Scaler, cfg.XLen, width, width); err != nil {
			return nil, err
		}
	}
	xScaler, err := NewPartialScaler(cfg.Scaler, 0, cfg.XLen, width)
	if err != nil {
		return nil, err
	}
	uScaler, err := NewPartialScaler(cfg.Scaler, cfg.XLen, width, width)
	if err != nil {
		return nil, err
	}

	initial, err := expandInitialState(cfg.InitialState, cfg.XLag, cfg.XLen)
	if err != nil {
		return nil, err
	}
	states := newWindow(cfg.XLag, cfg.XLen)
	for _, row := range initial {
		scaled, err := xScaler.Transform(row)
		if err != nil {
			return nil, err
		}
		if err := states.push(scaled); err != nil {
			return nil, err
		}
	}

	if cfg.PriorActions != nil && !isBlock(cfg.PriorActions, cfg.ULag-1, cfg.ULen) {
		return nil, blockError("prior actions", cfg.ULag-1, cfg.ULen, cfg.PriorActions)
	}

	return &Simulator{
		model:    cfg.Model,
		xScaler:  xScaler,
		uScaler:  uScaler,
		xlag:     cfg.XLag,
		ulag:     cfg.ULag,
		xlen:     cfg.XLen,
		ulen:     cfg.ULen,
		interval: interval,
		clock0:   cfg.InitialClock,
		phase:    PhaseUninitialized,
		utMin:    cloneVector(cfg.UtMin),
		utMax:    cloneVector(cfg.UtMax),
		prior:    cloneBlock(cfg.PriorActions),
		states:   states,
	}, nil
}

// expandInitialState replicates a single row xlag times or accepts a full block
func expandInitialState(rows [][]float64, xlag, xlen int) ([][]float64, error) {
	if len(rows) == 1 && len(rows[0]) == xlen {
		out := make([][]float64, xlag)
		for i := range out {
			out[i] = rows[0]
		}
		return out, nil
	}
	if isBlock(rows, xlag, xlen) {
		return rows, nil
	}
	return nil, &ShapeError{
		What: "initial state",
		Want: fmt.Sprintf("1x%d or %dx%d", xlen, xlag, xlen),
		Got:  describeBlock(rows, xlen),
	}
}

func isBlock(rows [][]float64, n, width int) bool {
	if len(rows) != n {
		return false
	}
	for _, r := range rows {
		if len(r) != width {
			return false
		}
	}
	return true
}

// Step applies one raw control vector and returns the clock and raw state at
// the end of the step.
//
// A control of the wrong width is rejected before anything changes. Any later
// failure, including a Model error (returned unchanged), leaves the simulator in
// PhaseFailed and every following Step returns ErrDiscarded.
func (s *Simulator) Step(control []float64) (float64, []float64, error) {
	if s.phase == PhaseFailed {
		return 0, nil, ErrDiscarded
	}
	if len(control) != s.ulen {
		return 0, nil, widthError("control", s.ulen, len(control))
	}

	next, err := s.advance(control)
	if err != nil {
		s.phase = PhaseFailed
		return 0, nil, err
	}
	return s.Clock(), next, nil
}

// StepScalar broadcasts u into a single-element control; ULen must be 1
func (s *Simulator) StepScalar(u float64) (float64, []float64, error) {
	return s.Step([]float64{u})
}

func (s *Simulator) advance(control []float64) ([]float64, error) {
	u := s.clip(control)

	scaled, err := s.uScaler.Transform(u)
	if err != nil {
		return nil, err
	}
	if err := s.updateControls(scaled); err != nil {
		return nil, err
	}

	if !s.states.full() || s.states.rows != s.xlag || s.states.width != s.xlen {
		return nil, &ShapeError{What: "state window", Want: fmt.Sprintf("%dx%d", s.xlag, s.xlen),
			Got: fmt.Sprintf("%dx%d", s.states.count, s.states.width)}
	}
	if !s.controls.full() || s.controls.rows != s.ulag || s.controls.width != s.ulen {
		return nil, &ShapeError{What: "control window", Want: fmt.Sprintf("%dx%d", s.ulag, s.ulen),
			Got: fmt.Sprintf("%dx%d", s.controls.count, s.controls.width)}
	}

	features := make([]float64, 0, s.xlag*s.xlen+s.ulag*s.ulen)
	features = s.states.appendFlat(features)
	features = s.controls.appendFlat(features)

	predicted, err := s.model.Predict(features)
	if err != nil {
		return nil, err
	}
	if len(predicted) != s.xlen {
		return nil, widthError("model output", s.xlen, len(predicted))
	}
	if err := s.states.push(predicted); err != nil {
		return nil, err
	}
	s.steps++
	s.applied = cloneVector(u)

	return s.xScaler.InverseTransform(predicted)
}

// clip returns a clamped copy of u, or u itself when no bounds are set
func (s *Simulator) clip(u []float64) []float64 {
	if s.utMin == nil {
		return u
	}
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = max(s.utMin[i], min(s.utMax[i], v))
	}
	return out
}

// updateControls creates the control window on the first step, otherwise shifts it
func (s *Simulator) updateControls(scaled []float64) error {
	if s.phase == PhaseRunning {
		return s.controls.push(scaled)
	}

	controls := newWindow(s.ulag, s.ulen)
	if s.prior != nil {
		priorScaled, err := s.uScaler.TransformRows(s.prior)
		if err != nil {
			return err
		}
		for _, row := range priorScaled {
			if err := controls.push(row); err != nil {
				return err
			}
		}
		if err := controls.push(scaled); err != nil {
			return err
		}
	} else {
		// Assume the first control was applied for every lagged step
		for range s.ulag {
			if err := controls.push(scaled); err != nil {
				return err
			}
		}
	}

	s.controls = controls
	s.prior = nil
	s.phase = PhaseRunning
	return nil
}

// Clock returns InitialClock + Steps()*Interval
func (s *Simulator) Clock() float64 {
	return s.clock0 + float64(s.steps)*s.interval
}

// Steps returns the number of successful steps
func (s *Simulator) Steps() int {
	return s.steps
}

// Phase returns the lifecycle stage
func (s *Simulator) Phase() Phase {
	return s.phase
}

// AppliedControl returns a copy of the clipped raw control used by the last
// successful step, or nil before the first step
func (s *Simulator) AppliedControl() []float64 {
	return cloneVector(s.applied)
}

// Interval returns the simulated time per step
func (s *Simulator) Interval() float64 {
	return s.interval
}

// XLen returns the state width
func (s *Simulator) XLen() int {
	return s.xlen
}

// ULen returns the control width
func (s *Simulator) ULen() int {
	return s.ulen
}

// StateWindow returns a copy of the scaled state window, oldest first
func (s *Simulator) StateWindow() [][]float64 {
	return s.states.snapshot()
}

// ControlWindow returns a copy of the scaled control window, oldest first.
// ok is false before the first step.
func (s *Simulator) ControlWindow() (rows [][]float64, ok bool) {
	if s.controls == nil {
		return nil, false
	}
	return s.controls.snapshot(), true
}

func cloneVector(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

func cloneBlock(rows [][]float64) [][]float64 {
	if rows == nil {
		return nil
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = cloneVector(r)
	}
	return out
}
