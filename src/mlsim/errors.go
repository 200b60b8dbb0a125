package mlsim

import (
	"errors"
	"fmt"
)

var (
	// ErrShape indicates a vector or block that does not match the declared lags and widths.
	ErrShape = errors.New("mlsim: shape mismatch")

	// ErrConfiguration indicates an invalid constructor option.
	ErrConfiguration = errors.New("mlsim: invalid configuration")

	// ErrCoupledScaler indicates a scaler whose output columns depend on other input columns.
	ErrCoupledScaler = errors.New("mlsim: scaler columns are not independent")

	// ErrDiscarded is returned by Step once a previous step has failed.
	ErrDiscarded = errors.New("mlsim: simulator discarded after failed step")
)

// ShapeError describes which value had the wrong shape
type ShapeError struct {
	What string
	Want string
	Got  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("mlsim: %s: want %s, got %s", e.What, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error {
	return ErrShape
}

func widthError(what string, want, got int) error {
	return &ShapeError{What: what, Want: fmt.Sprintf("width %d", want), Got: fmt.Sprintf("width %d", got)}
}

func blockError(what string, wantRows, wantCols int, rows [][]float64) error {
	return &ShapeError{What: what, Want: fmt.Sprintf("%dx%d", wantRows, wantCols), Got: describeBlock(rows, wantCols)}
}

// describeBlock names the first way rows departs from a block of the given width
func describeBlock(rows [][]float64, wantCols int) string {
	for _, r := range rows {
		if len(r) != wantCols {
			return fmt.Sprintf("%d rows with a row of width %d", len(rows), len(r))
		}
	}
	return fmt.Sprintf("%d rows", len(rows))
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
