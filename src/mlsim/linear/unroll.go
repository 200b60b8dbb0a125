package linear

import "fmt"

// Unroll turns a time-ordered series of joint rows (xlen state columns then
// ulen control columns) into supervised training pairs laid out the way
// mlsim.Simulator feeds its model: states t-xlag..t-1, then controls
// t-ulag+1..t, predicting the state at t.
func Unroll(rows [][]float64, xlen, ulen, xlag, ulag int) (x, y [][]float64, err error) {
	if xlen <= 0 || ulen <= 0 || xlag <= 0 || ulag <= 0 {
		return nil, nil, fmt.Errorf("unroll: lags and widths must be positive")
	}
	for i, r := range rows {
		if len(r) != xlen+ulen {
			return nil, nil, fmt.Errorf("unroll: row %d has width %d, want %d", i, len(r), xlen+ulen)
		}
	}

	start := max(xlag, ulag-1)
	for t := start; t < len(rows); t++ {
		features := make([]float64, 0, xlag*xlen+ulag*ulen)
		for k := t - xlag; k < t; k++ {
			features = append(features, rows[k][:xlen]...)
		}
		for k := t - ulag + 1; k <= t; k++ {
			features = append(features, rows[k][xlen:]...)
		}
		x = append(x, features)
		y = append(y, append([]float64(nil), rows[t][:xlen]...))
	}
	return x, y, nil
}
