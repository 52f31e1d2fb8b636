// Package interpolate wraps the gonum 1D interpolants behind clamped
// evaluators, and adds a bilinear 2D grid used for acceptance and
// energy-ratio tables. The analysis core only ever consumes these as
// already-built tables; the fitting pipelines live outside this module.
package interpolate

import (
	"fmt"

	"gonum.org/v1/gonum/interp"
)

// Linear1D is a piecewise-linear interpolant over a strictly increasing
// grid. Evaluation outside the grid clamps to the nearest endpoint, which
// matches how the precomputed background and acceptance tables are meant
// to be read.
type Linear1D struct {
	xMin, xMax float64
	pred       interp.PiecewiseLinear
}

// NewLinear1D fits a piecewise-linear interpolant to the given grid.
func NewLinear1D(xs, ys []float64) (*Linear1D, error) {
	if len(xs) < 2 {
		return nil, fmt.Errorf("interpolate: need at least 2 grid points, got %d", len(xs))
	}
	var p interp.PiecewiseLinear
	if err := p.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("interpolate: linear fit: %w", err)
	}
	return &Linear1D{xMin: xs[0], xMax: xs[len(xs)-1], pred: p}, nil
}

// Eval returns the interpolated value at x, clamped to the grid range.
func (f *Linear1D) Eval(x float64) float64 {
	if x < f.xMin {
		x = f.xMin
	} else if x > f.xMax {
		x = f.xMax
	}
	return f.pred.Predict(x)
}

// Cubic1D is a natural cubic spline over a strictly increasing grid,
// clamped at the endpoints like Linear1D.
type Cubic1D struct {
	xMin, xMax float64
	pred       interp.NaturalCubic
}

// NewCubic1D fits a natural cubic spline to the given grid.
func NewCubic1D(xs, ys []float64) (*Cubic1D, error) {
	if len(xs) < 3 {
		return nil, fmt.Errorf("interpolate: need at least 3 grid points for a cubic, got %d", len(xs))
	}
	var p interp.NaturalCubic
	if err := p.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("interpolate: cubic fit: %w", err)
	}
	return &Cubic1D{xMin: xs[0], xMax: xs[len(xs)-1], pred: p}, nil
}

// Eval returns the spline value at x, clamped to the grid range.
func (f *Cubic1D) Eval(x float64) float64 {
	if x < f.xMin {
		x = f.xMin
	} else if x > f.xMax {
		x = f.xMax
	}
	return f.pred.Predict(x)
}

// Bilinear is a 2D grid interpolant with clamped extrapolation. Values are
// stored row-major: Z[i][j] is the value at (Xs[i], Ys[j]). gonum's interp
// package is 1D-only, so the 2D case is implemented directly; bilinear on
// a rectangular grid is the same scheme the original tables were built for.
type Bilinear struct {
	xs, ys []float64
	z      [][]float64
}

// NewBilinear builds a bilinear interpolant over the given rectangular
// grid. Both axes must be strictly increasing and z must be len(xs) rows
// of len(ys) values.
func NewBilinear(xs, ys []float64, z [][]float64) (*Bilinear, error) {
	if len(xs) < 2 || len(ys) < 2 {
		return nil, fmt.Errorf("interpolate: bilinear grid needs at least 2x2 points, got %dx%d", len(xs), len(ys))
	}
	if len(z) != len(xs) {
		return nil, fmt.Errorf("interpolate: bilinear got %d rows, want %d", len(z), len(xs))
	}
	for i := range z {
		if len(z[i]) != len(ys) {
			return nil, fmt.Errorf("interpolate: bilinear row %d has %d values, want %d", i, len(z[i]), len(ys))
		}
	}
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return nil, fmt.Errorf("interpolate: x grid not strictly increasing at %d", i)
		}
	}
	for j := 1; j < len(ys); j++ {
		if ys[j] <= ys[j-1] {
			return nil, fmt.Errorf("interpolate: y grid not strictly increasing at %d", j)
		}
	}
	return &Bilinear{xs: xs, ys: ys, z: z}, nil
}

// Eval returns the bilinear interpolation at (x, y), clamping both
// coordinates to the grid range.
func (b *Bilinear) Eval(x, y float64) float64 {
	i, fx := locate(b.xs, x)
	j, fy := locate(b.ys, y)

	z00 := b.z[i][j]
	z01 := b.z[i][j+1]
	z10 := b.z[i+1][j]
	z11 := b.z[i+1][j+1]

	return z00*(1-fx)*(1-fy) + z10*fx*(1-fy) + z01*(1-fx)*fy + z11*fx*fy
}

// locate finds the cell index and fractional position of v on the grid,
// clamped into the grid range.
func locate(grid []float64, v float64) (int, float64) {
	n := len(grid)
	if v <= grid[0] {
		return 0, 0
	}
	if v >= grid[n-1] {
		return n - 2, 1
	}
	// Binary search for the upper bound.
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if grid[mid] <= v {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, (v - grid[lo]) / (grid[hi] - grid[lo])
}

// Linspace returns n evenly spaced values over [lo, hi] inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n < 2 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}
