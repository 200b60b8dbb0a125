package linear

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Regression is a multi-output affine predictor: y = W x + b
type Regression struct {
	weights   *mat.Dense // outputs x features
	intercept *mat.VecDense
}

// NewRegression builds a predictor from one coefficient row per output and an intercept per output
func NewRegression(coef [][]float64, intercept []float64) (*Regression, error) {
	if len(coef) == 0 || len(coef[0]) == 0 {
		return nil, fmt.Errorf("regression: no coefficients")
	}
	if len(intercept) != len(coef) {
		return nil, fmt.Errorf("regression: %d intercepts for %d outputs", len(intercept), len(coef))
	}
	features := len(coef[0])
	w := mat.NewDense(len(coef), features, nil)
	for i, row := range coef {
		if len(row) != features {
			return nil, fmt.Errorf("regression: output %d has %d coefficients, want %d", i, len(row), features)
		}
		w.SetRow(i, row)
	}
	b := mat.NewVecDense(len(intercept), append([]float64(nil), intercept...))
	return &Regression{weights: w, intercept: b}, nil
}

// FitLeastSquares fits W and b minimising the squared error over the rows of x and y
func FitLeastSquares(x, y [][]float64) (*Regression, error) {
	features, err := checkRows(x)
	if err != nil {
		return nil, fmt.Errorf("regression inputs: %w", err)
	}
	outputs, err := checkRows(y)
	if err != nil {
		return nil, fmt.Errorf("regression targets: %w", err)
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("regression: %d input rows for %d target rows", len(x), len(y))
	}
	if len(x) < features+1 {
		return nil, fmt.Errorf("regression: %d rows cannot determine %d parameters per output", len(x), features+1)
	}

	// Design matrix with a trailing bias column
	a := mat.NewDense(len(x), features+1, nil)
	for i, row := range x {
		a.SetRow(i, append(append(make([]float64, 0, features+1), row...), 1))
	}
	b := mat.NewDense(len(y), outputs, nil)
	for i, row := range y {
		b.SetRow(i, row)
	}

	var solution mat.Dense // (features+1) x outputs
	if err := solution.Solve(a, b); err != nil {
		return nil, fmt.Errorf("regression: %w", err)
	}

	w := mat.NewDense(outputs, features, nil)
	w.Copy(solution.Slice(0, features, 0, outputs).T())
	intercept := mat.NewVecDense(outputs, mat.Row(nil, features, &solution))
	return &Regression{weights: w, intercept: intercept}, nil
}

// Features returns the expected input width
func (r *Regression) Features() int {
	_, c := r.weights.Dims()
	return c
}

// Outputs returns the prediction width
func (r *Regression) Outputs() int {
	o, _ := r.weights.Dims()
	return o
}

// Coefficients returns a copy of the weights, one row per output
func (r *Regression) Coefficients() [][]float64 {
	out := make([][]float64, r.Outputs())
	for i := range out {
		out[i] = mat.Row(nil, i, r.weights)
	}
	return out
}

// Intercept returns a copy of the bias vector
func (r *Regression) Intercept() []float64 {
	return mat.Col(nil, 0, r.intercept)
}

// Predict evaluates W x + b
func (r *Regression) Predict(features []float64) ([]float64, error) {
	if len(features) != r.Features() {
		return nil, fmt.Errorf("regression: want %d features, got %d", r.Features(), len(features))
	}
	var y mat.VecDense
	y.MulVec(r.weights, mat.NewVecDense(len(features), append([]float64(nil), features...)))
	y.AddVec(&y, r.intercept)
	return mat.Col(nil, 0, &y), nil
}
