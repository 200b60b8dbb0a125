// Package mlsim steps a single-step predictive model forward in discrete time.
//
// A Simulator keeps the lagged state and control history the model was
// trained on, scales between raw units and the model's normalized space, clips
// control inputs and tracks the simulated clock. The model and the scaler are
// consumed through the Model and Scaler interfaces only.
package mlsim

import (
	"fmt"
	"math"
)

// Scaler maps joint state+control vectors between raw and normalized space.
// Implementations must not mutate themselves in Transform or InverseTransform.
type Scaler interface {
	Transform(v []float64) ([]float64, error)
	InverseTransform(v []float64) ([]float64, error)
}

// Model predicts the next scaled state from a row of lagged scaled states and controls.
type Model interface {
	Predict(features []float64) ([]float64, error)
}

// PartialScaler applies a jointly fitted Scaler to the column range [start, end) only.
//
// The other columns are zero-padded before calling the underlying scaler, so the
// result is only correct when each output column depends on its own input column
// alone (min-max and standard scaling do; whitening or PCA do not). See CheckSeparable.
type PartialScaler struct {
	scaler     Scaler
	start, end int
	width      int
}

// NewPartialScaler creates a PartialScaler over [start, end) of a width-wide scaler
func NewPartialScaler(scaler Scaler, start, end, width int) (*PartialScaler, error) {
	if scaler == nil {
		return nil, configError("partial scaler needs a scaler")
	}
	if start < 0 || end <= start || end > width {
		return nil, configError("column range [%d,%d) outside width %d", start, end, width)
	}
	return &PartialScaler{scaler: scaler, start: start, end: end, width: width}, nil
}

// Width returns the number of columns the partial scaler accepts
func (p *PartialScaler) Width() int {
	return p.end - p.start
}

// Transform scales a vector of Width() raw values
func (p *PartialScaler) Transform(v []float64) ([]float64, error) {
	return p.apply(v, p.scaler.Transform)
}

// InverseTransform unscales a vector of Width() normalized values
func (p *PartialScaler) InverseTransform(v []float64) ([]float64, error) {
	return p.apply(v, p.scaler.InverseTransform)
}

// TransformRows scales every row of a block
func (p *PartialScaler) TransformRows(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, 0, len(rows))
	for _, r := range rows {
		s, err := p.Transform(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// InverseTransformRows unscales every row of a block
func (p *PartialScaler) InverseTransformRows(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, 0, len(rows))
	for _, r := range rows {
		s, err := p.InverseTransform(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *PartialScaler) apply(v []float64, fn func([]float64) ([]float64, error)) ([]float64, error) {
	if len(v) != p.Width() {
		return nil, widthError("partial scaler input", p.Width(), len(v))
	}
	padded := make([]float64, p.width)
	copy(padded[p.start:p.end], v)

	full, err := fn(padded)
	if err != nil {
		return nil, err
	}
	if len(full) != p.width {
		return nil, widthError("scaler output", p.width, len(full))
	}

	out := make([]float64, p.Width())
	copy(out, full[p.start:p.end])
	return out, nil
}

// separabilityTolerance is the relative change allowed in a probed column
const separabilityTolerance = 1e-9

// CheckSeparable probes scaler for coupling between the columns outside
// [start, end) and the outputs inside it. A unit change in any outside column
// must leave the inside outputs unchanged, for both directions of the scaler.
// Returns an error wrapping ErrCoupledScaler if it does not.
func CheckSeparable(scaler Scaler, start, end, width int) error {
	directions := []struct {
		name string
		fn   func([]float64) ([]float64, error)
	}{
		{"transform", scaler.Transform},
		{"inverse transform", scaler.InverseTransform},
	}

	for _, d := range directions {
		base, err := d.fn(make([]float64, width))
		if err != nil {
			return fmt.Errorf("probing %s: %w", d.name, err)
		}
		if len(base) != width {
			return widthError("scaler output", width, len(base))
		}

		for j := range width {
			if j >= start && j < end {
				continue
			}
			probe := make([]float64, width)
			probe[j] = 1
			out, err := d.fn(probe)
			if err != nil {
				return fmt.Errorf("probing %s column %d: %w", d.name, j, err)
			}
			if len(out) != width {
				return widthError("scaler output", width, len(out))
			}
			for i := start; i < end; i++ {
				if math.Abs(out[i]-base[i]) > separabilityTolerance*(1+math.Abs(base[i])) {
					return fmt.Errorf("%w: %s output column %d depends on input column %d", ErrCoupledScaler, d.name, i, j)
				}
			}
		}
	}
	return nil
}
