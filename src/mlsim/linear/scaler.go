// Package linear provides column-wise scalers and a least-squares linear
// predictor that satisfy the mlsim Scaler and Model interfaces. They stand in
// for models fitted elsewhere and back the command line driver and tests.
package linear

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MinMaxScaler maps each column linearly so the fitted minimum becomes 0 and the maximum 1.
// A constant column is only shifted.
type MinMaxScaler struct {
	Min []float64
	Max []float64
}

// NewMinMaxScaler creates a scaler from known column bounds
func NewMinMaxScaler(minimums, maximums []float64) (*MinMaxScaler, error) {
	if len(minimums) == 0 || len(minimums) != len(maximums) {
		return nil, fmt.Errorf("min-max scaler: %d minimums for %d maximums", len(minimums), len(maximums))
	}
	for i := range minimums {
		if minimums[i] > maximums[i] {
			return nil, fmt.Errorf("min-max scaler: column %d min %v exceeds max %v", i, minimums[i], maximums[i])
		}
	}
	return &MinMaxScaler{Min: minimums, Max: maximums}, nil
}

// FitMinMax computes column bounds from rows
func FitMinMax(rows [][]float64) (*MinMaxScaler, error) {
	width, err := checkRows(rows)
	if err != nil {
		return nil, err
	}
	s := &MinMaxScaler{Min: make([]float64, width), Max: make([]float64, width)}
	for j := range width {
		s.Min[j] = math.Inf(1)
		s.Max[j] = math.Inf(-1)
	}
	for _, r := range rows {
		for j, v := range r {
			s.Min[j] = min(s.Min[j], v)
			s.Max[j] = max(s.Max[j], v)
		}
	}
	return s, nil
}

// span returns the column range, treating a constant column as range 1
func (s *MinMaxScaler) span(j int) float64 {
	r := s.Max[j] - s.Min[j]
	if r == 0 {
		return 1
	}
	return r
}

// Transform scales a raw row into [0, 1] per column
func (s *MinMaxScaler) Transform(v []float64) ([]float64, error) {
	if len(v) != len(s.Min) {
		return nil, fmt.Errorf("min-max scaler: want width %d, got %d", len(s.Min), len(v))
	}
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.Min[j]) / s.span(j)
	}
	return out, nil
}

// InverseTransform undoes Transform
func (s *MinMaxScaler) InverseTransform(v []float64) ([]float64, error) {
	if len(v) != len(s.Min) {
		return nil, fmt.Errorf("min-max scaler: want width %d, got %d", len(s.Min), len(v))
	}
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = x*s.span(j) + s.Min[j]
	}
	return out, nil
}

// StandardScaler centres each column on its mean and divides by its standard deviation
type StandardScaler struct {
	Mean []float64
	Std  []float64
}

// FitStandard computes column means and population standard deviations from rows.
// A zero deviation is stored as 1.
func FitStandard(rows [][]float64) (*StandardScaler, error) {
	width, err := checkRows(rows)
	if err != nil {
		return nil, err
	}
	data := mat.NewDense(len(rows), width, nil)
	for i, r := range rows {
		data.SetRow(i, r)
	}

	s := &StandardScaler{Mean: make([]float64, width), Std: make([]float64, width)}
	for j := range width {
		s.Mean[j], s.Std[j] = stat.PopMeanStdDev(mat.Col(nil, j, data), nil)
		if s.Std[j] == 0 {
			s.Std[j] = 1
		}
	}
	return s, nil
}

// Transform standardizes a raw row
func (s *StandardScaler) Transform(v []float64) ([]float64, error) {
	if len(v) != len(s.Mean) {
		return nil, fmt.Errorf("standard scaler: want width %d, got %d", len(s.Mean), len(v))
	}
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}

// InverseTransform undoes Transform
func (s *StandardScaler) InverseTransform(v []float64) ([]float64, error) {
	if len(v) != len(s.Mean) {
		return nil, fmt.Errorf("standard scaler: want width %d, got %d", len(s.Mean), len(v))
	}
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = x*s.Std[j] + s.Mean[j]
	}
	return out, nil
}

// TransformRows applies scaler to every row
func TransformRows(scaler interface {
	Transform([]float64) ([]float64, error)
}, rows [][]float64) ([][]float64, error) {
	out := make([][]float64, 0, len(rows))
	for i, r := range rows {
		s, err := scaler.Transform(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func checkRows(rows [][]float64) (int, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, fmt.Errorf("no data to fit")
	}
	width := len(rows[0])
	for i, r := range rows {
		if len(r) != width {
			return 0, fmt.Errorf("row %d has width %d, want %d", i, len(r), width)
		}
	}
	return width, nil
}
