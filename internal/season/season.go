// Package season models one detector data-taking epoch: its experimental
// event sample, Monte Carlo sample, and the precomputed background and
// acceptance tables the likelihood consumes. Seasons are immutable after
// construction and shared by reference across sources.
package season

import (
	"fmt"
	"math"

	"github.com/banshee-data/flarescan/internal/interpolate"
)

// SecondsPerDay converts MJD day spans into seconds of livetime.
const SecondsPerDay = 86400.0

// Event is one detected interaction. Angles are radians, LogE is
// log10(E/GeV) of the reconstructed energy proxy, Sigma the per-event
// angular uncertainty in radians, TimeMJD the arrival time.
type Event struct {
	RA      float64
	Dec     float64
	SinDec  float64
	LogE    float64
	Sigma   float64
	TimeMJD float64
}

// Dataset is an event sample. Datasets produced by the injector are
// read-only for the duration of a trial.
type Dataset []Event

// MCEvent is one simulated interaction: the reconstructed quantities plus
// the true direction/energy and the generation weight ("one weight") used
// to reweight the simulation to an assumed spectrum.
type MCEvent struct {
	Event
	TrueRA    float64
	TrueDec   float64
	TrueE     float64
	OneWeight float64
}

// Season is a detector epoch with its samples and precomputed tables.
type Season struct {
	Name    string
	TimeKey string

	// Livetime window, MJD.
	TStartMJD float64
	TEndMJD   float64

	Exp Dataset
	MC  []MCEvent

	// BackgroundRate is log of the background event density in sin(dec),
	// normalized so that integrating exp(rate) over sin(dec) gives 1.
	BackgroundRate *interpolate.Cubic1D

	// Acceptance is the detector acceptance vs (dec, gamma), used only
	// for source weighting, never inside per-event SoB terms. Nil unless
	// the full energy-fit likelihood is in use.
	Acceptance *interpolate.Bilinear

	// EnergyRatios holds log(S/B)(logE, sinDec) grids keyed by gamma
	// support point (GammaKey). Nil unless an energy likelihood is in use.
	EnergyRatios map[int]*interpolate.Bilinear
}

// LivetimeSeconds returns the season livetime in seconds.
func (s *Season) LivetimeSeconds() float64 {
	return (s.TEndMJD - s.TStartMJD) * SecondsPerDay
}

// Contains reports whether t (MJD) falls inside the season livetime.
func (s *Season) Contains(t float64) bool {
	return t >= s.TStartMJD && t <= s.TEndMJD
}

// GammaKey maps a spectral index to the integer key of its 0.1-spaced
// support point. Keying by int avoids float map-key pitfalls.
func GammaKey(gamma float64) int {
	return int(math.Round(gamma * 10))
}

// GammaFromKey is the inverse of GammaKey.
func GammaFromKey(key int) float64 {
	return float64(key) / 10
}

// Validate checks the season invariants needed before analysis.
func (s *Season) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("season: empty name")
	}
	if s.TEndMJD <= s.TStartMJD {
		return fmt.Errorf("season %s: end %v not after start %v", s.Name, s.TEndMJD, s.TStartMJD)
	}
	if s.BackgroundRate == nil {
		return fmt.Errorf("season %s: missing background rate table", s.Name)
	}
	return nil
}

// BuildBackgroundRate histograms the experimental sample in sin(dec) and
// returns the log-density table the spatial background PDF consumes. The
// density integrates to 1 over sin(dec); empty bins are floored to a tiny
// density so the log stays finite.
func BuildBackgroundRate(exp Dataset, bins []float64) (*interpolate.Cubic1D, error) {
	if len(bins) < 4 {
		return nil, fmt.Errorf("season: need at least 4 sin(dec) bin edges, got %d", len(bins))
	}
	if len(exp) == 0 {
		return nil, fmt.Errorf("season: empty experimental sample")
	}

	counts := make([]float64, len(bins)-1)
	for _, ev := range exp {
		for i := 0; i < len(bins)-1; i++ {
			if ev.SinDec >= bins[i] && (ev.SinDec < bins[i+1] || (i == len(bins)-2 && ev.SinDec <= bins[i+1])) {
				counts[i]++
				break
			}
		}
	}

	centers := make([]float64, len(counts))
	logDens := make([]float64, len(counts))
	n := float64(len(exp))
	for i := range counts {
		centers[i] = 0.5 * (bins[i] + bins[i+1])
		width := bins[i+1] - bins[i]
		dens := counts[i] / (n * width)
		if dens <= 0 {
			dens = 1e-12
		}
		logDens[i] = math.Log(dens)
	}

	return interpolate.NewCubic1D(centers, logDens)
}

// BuildEnergyRatioGrid builds one log(S/B)(logE, sinDec) grid from the
// experimental and Monte Carlo samples, with MC events weighted by
// weightFn. This mirrors the in-line ratio construction the fixed-energy
// likelihood performs; the full per-gamma grids are normally precomputed
// outside this module and shipped as artifacts.
func BuildEnergyRatioGrid(exp Dataset, mc []MCEvent, weightFn func(*MCEvent) float64,
	logEBins, sinDecBins []float64) (*interpolate.Bilinear, error) {

	if len(exp) == 0 || len(mc) == 0 {
		return nil, fmt.Errorf("season: energy ratio grid needs non-empty exp and mc samples")
	}

	nE, nD := len(logEBins)-1, len(sinDecBins)-1
	if nE < 2 || nD < 2 {
		return nil, fmt.Errorf("season: energy ratio grid needs at least 2 bins per axis")
	}

	bkg := make([][]float64, nE)
	sig := make([][]float64, nE)
	for i := range bkg {
		bkg[i] = make([]float64, nD)
		sig[i] = make([]float64, nD)
	}

	locateBin := func(edges []float64, v float64) int {
		if v < edges[0] || v > edges[len(edges)-1] {
			return -1
		}
		for i := 0; i < len(edges)-1; i++ {
			if v < edges[i+1] || i == len(edges)-2 {
				return i
			}
		}
		return -1
	}

	var bkgTot float64
	for _, ev := range exp {
		i, j := locateBin(logEBins, ev.LogE), locateBin(sinDecBins, ev.SinDec)
		if i >= 0 && j >= 0 {
			bkg[i][j]++
			bkgTot++
		}
	}
	var sigTot float64
	for k := range mc {
		w := weightFn(&mc[k])
		i, j := locateBin(logEBins, mc[k].LogE), locateBin(sinDecBins, mc[k].SinDec)
		if i >= 0 && j >= 0 && w > 0 {
			sig[i][j] += w
			sigTot += w
		}
	}
	if bkgTot == 0 || sigTot == 0 {
		return nil, fmt.Errorf("season: energy ratio grid has no in-range events")
	}

	// Log ratio of the normalized densities, with empty cells floored so
	// the ratio stays finite.
	const floor = 1e-12
	values := make([][]float64, nE)
	centersE := make([]float64, nE)
	for i := 0; i < nE; i++ {
		centersE[i] = 0.5 * (logEBins[i] + logEBins[i+1])
		values[i] = make([]float64, nD)
		for j := 0; j < nD; j++ {
			s := sig[i][j] / sigTot
			b := bkg[i][j] / bkgTot
			if s <= 0 {
				s = floor
			}
			if b <= 0 {
				b = floor
			}
			values[i][j] = math.Log(s / b)
		}
	}
	centersD := make([]float64, nD)
	for j := 0; j < nD; j++ {
		centersD[j] = 0.5 * (sinDecBins[j] + sinDecBins[j+1])
	}

	return interpolate.NewBilinear(centersE, centersD, values)
}
