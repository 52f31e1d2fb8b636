// Package injector produces the per-trial datasets the minimisation
// handler feeds to the likelihood: scrambled background drawn from the
// experimental sample plus simulated signal injected at a chosen flux
// scale. Every draw takes an explicit random source, so trial streams
// are reproducible and independent.
package injector

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/flarescan/internal/astro"
	"github.com/banshee-data/flarescan/internal/catalogue"
	"github.com/banshee-data/flarescan/internal/pdf"
	"github.com/banshee-data/flarescan/internal/season"
)

// BandWidth is the half width, in radians, of the declination band the
// signal sample is drawn from around each source (5 degrees).
const BandWidth = 5 * math.Pi / 180

// Config parametrizes signal injection for one analysis.
type Config struct {
	TimePDF   pdf.TimeConfig   `json:"time_pdf"`
	EnergyPDF pdf.EnergyConfig `json:"energy_pdf"`

	// PoissonSmear draws the injected event count from a Poisson
	// distribution around the expectation instead of rounding it.
	PoissonSmear bool `json:"poisson_smear"`
}

// Validate checks both PDF configurations.
func (c *Config) Validate() error {
	if err := c.TimePDF.Validate(); err != nil {
		return err
	}
	if c.TimePDF.TimeSmear && c.TimePDF.Name != pdf.TimeFixedRefBox {
		return fmt.Errorf("injector: time smearing needs the %s time PDF, got %q", pdf.TimeFixedRefBox, c.TimePDF.Name)
	}
	return c.EnergyPDF.Validate()
}

// Generator is anything that can produce a trial dataset at a flux scale.
type Generator interface {
	CreateDataset(scale float64, src rand.Source) (season.Dataset, error)
	Expectation(scale float64) float64
}

// sourceBand is the precomputed injection sample for one source: the
// Monte Carlo events generated inside its declination band, with their
// per-unit-scale expectation weights.
type sourceBand struct {
	src *catalogue.Source

	mcIndex []int
	// cumWeight[k] is the running sum of the per-event weights, used for
	// weighted sampling. weightSum excludes the livetime factor, which is
	// applied per trial so time smearing stays cheap.
	cumWeight []float64
	weightSum float64
}

// Injector draws trial datasets for one season.
type Injector struct {
	season  *season.Season
	sources []catalogue.Source
	timePDF pdf.TimePDF
	energy  pdf.EnergyPDF

	poisson bool
	smear   bool
	minOff  float64
	maxOff  float64

	bands []sourceBand
}

// New precomputes the per-source injection samples. Sources whose
// declination band holds no Monte Carlo events simply inject nothing;
// an entirely empty Monte Carlo sample is an error.
func New(cfg Config, s *season.Season, sources []catalogue.Source) (*Injector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(s.MC) == 0 {
		return nil, fmt.Errorf("injector: season %s has no Monte Carlo sample", s.Name)
	}

	timePDF, err := pdf.NewTimePDF(cfg.TimePDF, s)
	if err != nil {
		return nil, err
	}
	energy, err := pdf.NewEnergyPDF(cfg.EnergyPDF)
	if err != nil {
		return nil, err
	}

	inj := &Injector{
		season:  s,
		sources: sources,
		timePDF: timePDF,
		energy:  energy,
		poisson: cfg.PoissonSmear,
		smear:   cfg.TimePDF.TimeSmear,
		minOff:  cfg.TimePDF.MinOffsetDays,
		maxOff:  cfg.TimePDF.MaxOffsetDays,
	}

	for j := range sources {
		src := &sources[j]
		band := sourceBand{src: src}

		minDec := math.Max(-math.Pi/2, src.Dec-BandWidth)
		maxDec := math.Min(math.Pi/2, src.Dec+BandWidth)
		omega := 2 * math.Pi * (math.Sin(maxDec) - math.Sin(minDec))
		rel := catalogue.RelativeWeight(sources, src)

		for k := range s.MC {
			mc := &s.MC[k]
			if mc.TrueDec <= minDec || mc.TrueDec >= maxDec {
				continue
			}
			w := mc.OneWeight * energy.Weight(mc.TrueE) * rel / omega
			band.mcIndex = append(band.mcIndex, k)
			band.weightSum += w
			band.cumWeight = append(band.cumWeight, band.weightSum)
		}
		inj.bands = append(inj.bands, band)
	}
	return inj, nil
}

// trialTimePDF resolves the per-trial time PDF: with smearing enabled the
// box offset is redrawn uniformly for every trial.
func (i *Injector) trialTimePDF(rng *rand.Rand) pdf.TimePDF {
	if !i.smear {
		return i.timePDF
	}
	offset := i.minOff + rng.Float64()*(i.maxOff-i.minOff)
	return i.timePDF.(*pdf.FixedRefBoxTimePDF).WithOffset(offset)
}

// Expectation returns the mean number of injected signal events at the
// given flux scale, summed over sources.
func (i *Injector) Expectation(scale float64) float64 {
	var sum float64
	for _, band := range i.bands {
		t := pdf.SourceInjectionTime(i.timePDF, band.src)
		sum += scale * t * band.weightSum
	}
	return sum
}

// CreateDataset draws one trial: the experimental sample scrambled in
// right ascension and time, plus signal injected at the given scale. A
// zero scale yields a pure background scramble.
func (i *Injector) CreateDataset(scale float64, src rand.Source) (season.Dataset, error) {
	if src == nil {
		return nil, fmt.Errorf("injector: nil random source")
	}
	rng := rand.New(src)

	out := make(season.Dataset, 0, len(i.season.Exp))
	out = append(out, i.scramble(rng)...)

	if scale == 0 {
		return out, nil
	}

	timePDF := i.trialTimePDF(rng)
	for _, band := range i.bands {
		if band.weightSum == 0 {
			continue
		}
		lam := scale * pdf.SourceInjectionTime(timePDF, band.src) * band.weightSum
		if lam == 0 {
			continue
		}

		var n int
		if i.poisson {
			n = int(distuv.Poisson{Lambda: lam, Src: src}.Rand())
		} else {
			n = int(math.Round(lam))
		}

		for k := 0; k < n; k++ {
			ev, err := i.drawSignal(&band, timePDF, rng)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
	}
	return out, nil
}

// scramble randomizes the right ascension and arrival time of every
// experimental event, keeping declination, energy, and uncertainty. The
// scramble destroys any real point-source clustering, so the result is a
// background-only realization with the true detector distributions.
func (i *Injector) scramble(rng *rand.Rand) season.Dataset {
	out := make(season.Dataset, len(i.season.Exp))
	span := i.season.TEndMJD - i.season.TStartMJD
	for k, ev := range i.season.Exp {
		ev.RA = rng.Float64() * 2 * math.Pi
		ev.TimeMJD = i.season.TStartMJD + rng.Float64()*span
		out[k] = ev
	}
	return out
}

// drawSignal samples one Monte Carlo event from the band, weighted by its
// injection weight, and moves it onto the source.
func (i *Injector) drawSignal(band *sourceBand, timePDF pdf.TimePDF, rng *rand.Rand) (season.Event, error) {
	u := rng.Float64() * band.weightSum
	k := sort.SearchFloat64s(band.cumWeight, u)
	if k == len(band.cumWeight) {
		k--
	}
	mc := &i.season.MC[band.mcIndex[k]]

	// Carry the reconstruction offset over: rotate the reconstructed
	// direction by the rotation taking the true direction onto the source.
	ra, dec := astro.Rotate(mc.RA, mc.Dec, mc.TrueRA, mc.TrueDec, band.src.RA, band.src.Dec)

	t, err := drawSignalTime(timePDF, band.src, i.season, rng)
	if err != nil {
		return season.Event{}, err
	}

	return season.Event{
		RA:      ra,
		Dec:     dec,
		SinDec:  math.Sin(dec),
		LogE:    mc.LogE,
		Sigma:   mc.Sigma,
		TimeMJD: t,
	}, nil
}

// drawSignalTime samples an arrival time uniformly over the overlap of
// the source's signal window with the season. All time PDF variants are
// flat over their windows, so a uniform draw matches the density.
func drawSignalTime(p pdf.TimePDF, src *catalogue.Source, s *season.Season, rng *rand.Rand) (float64, error) {
	lo := math.Max(p.SignalStart(src), s.TStartMJD)
	hi := math.Min(p.SignalEnd(src), s.TEndMJD)
	if hi <= lo {
		return 0, fmt.Errorf("injector: source %s signal window [%v, %v] misses season %s", src.Name, p.SignalStart(src), p.SignalEnd(src), s.Name)
	}
	return lo + rng.Float64()*(hi-lo), nil
}

// MockUnblinded stands in for real unblinded data: it draws one scramble
// at construction and hands out the same dataset for every trial, so a
// full analysis chain can run end to end without touching real data.
type MockUnblinded struct {
	data season.Dataset
}

// NewMockUnblinded draws the fixed pseudo-unblinded dataset with the
// given seed.
func NewMockUnblinded(cfg Config, s *season.Season, sources []catalogue.Source, seed uint64) (*MockUnblinded, error) {
	inj, err := New(cfg, s, sources)
	if err != nil {
		return nil, err
	}
	data, err := inj.CreateDataset(0, rand.NewPCG(seed, 0))
	if err != nil {
		return nil, err
	}
	return &MockUnblinded{data: data}, nil
}

// CreateDataset returns a copy of the fixed dataset; the scale and random
// source are ignored.
func (m *MockUnblinded) CreateDataset(float64, rand.Source) (season.Dataset, error) {
	out := make(season.Dataset, len(m.data))
	copy(out, m.data)
	return out, nil
}

// Expectation is always zero: nothing is injected.
func (m *MockUnblinded) Expectation(float64) float64 { return 0 }
