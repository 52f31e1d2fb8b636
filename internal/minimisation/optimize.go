package minimisation

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// BruteGridPoints is the per-axis resolution of grid searches, both for
// optimizer seeding and for the non-convergence fallback.
const BruteGridPoints = 40

// Brute seeding scans a narrower range than the full bounds; a seed far
// out on the n_s axis would start the simplex in a flat region.
const (
	bruteSeedMin = -30.0
	bruteSeedMax = 30.0
)

// clampParams clips x into [lo, hi] per coordinate and returns the
// squared excess, used as an out-of-bounds penalty.
func clampParams(x, lo, hi []float64) ([]float64, float64) {
	out := make([]float64, len(x))
	var excess float64
	for i := range x {
		v := x[i]
		if v < lo[i] {
			excess += (lo[i] - v) * (lo[i] - v)
			v = lo[i]
		} else if v > hi[i] {
			excess += (v - hi[i]) * (v - hi[i])
			v = hi[i]
		}
		out[i] = v
	}
	return out, excess
}

// minimizeBounded minimizes g within box bounds using a Nelder-Mead
// simplex on a clamped objective: outside the box the function value is
// taken at the nearest boundary point plus a quadratic penalty, which
// steers the simplex back without ever evaluating g out of range. The
// second return value reports convergence.
func minimizeBounded(g func([]float64) float64, seeds, lo, hi []float64) ([]float64, bool) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			clamped, excess := clampParams(x, lo, hi)
			return g(clamped) + 100*excess
		},
	}

	start, _ := clampParams(seeds, lo, hi)
	res, err := optimize.Minimize(problem, start, nil, &optimize.NelderMead{})
	if err != nil || res == nil {
		return start, false
	}
	vals, _ := clampParams(res.X, lo, hi)
	return vals, res.Status != optimize.NotTerminated && res.Status != optimize.Failure
}

// bruteGrid minimizes g over a full cartesian grid spanning the bounds,
// BruteGridPoints per axis. Deterministic and slow; used as a seeding
// scan and as the fallback when the simplex fails.
func bruteGrid(g func([]float64) float64, lo, hi []float64) []float64 {
	axes := make([][]float64, len(lo))
	for i := range lo {
		axes[i] = gridAxis(lo[i], hi[i])
	}

	best := make([]float64, len(lo))
	point := make([]float64, len(lo))
	bestVal := math.Inf(1)

	var walk func(dim int)
	walk = func(dim int) {
		if dim == len(axes) {
			if v := g(point); v < bestVal {
				bestVal = v
				copy(best, point)
			}
			return
		}
		for _, x := range axes[dim] {
			point[dim] = x
			walk(dim + 1)
		}
	}
	walk(0)
	return best
}

// bruteSeed is the coarse scan used for optimizer seeding, with the n_s
// axes clipped to a window around zero.
func bruteSeed(g func([]float64) float64, lo, hi []float64) []float64 {
	clippedLo := make([]float64, len(lo))
	clippedHi := make([]float64, len(hi))
	for i := range lo {
		clippedLo[i] = math.Max(lo[i], bruteSeedMin)
		clippedHi[i] = math.Min(hi[i], bruteSeedMax)
	}
	return bruteGrid(g, clippedLo, clippedHi)
}

func gridAxis(lo, hi float64) []float64 {
	axis := make([]float64, BruteGridPoints)
	step := (hi - lo) / float64(BruteGridPoints-1)
	for i := range axis {
		axis[i] = lo + float64(i)*step
	}
	return axis
}
