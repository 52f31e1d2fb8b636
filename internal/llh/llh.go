// Package llh implements the per-season unbinned likelihood: the
// signal-over-background test statistic evaluated over spatial, temporal,
// and energy PDFs. Variants form a closed set (spatial, fixed_energy,
// standard) selected at construction; flare mode wraps any of them.
package llh

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/flarescan/internal/astro"
	"github.com/banshee-data/flarescan/internal/catalogue"
	"github.com/banshee-data/flarescan/internal/pdf"
	"github.com/banshee-data/flarescan/internal/season"
)

// Variant names.
const (
	NameSpatial     = "spatial"
	NameFixedEnergy = "fixed_energy"
	NameStandard    = "standard"
)

// CoincidenceBandWidth is the half width of the spatial selection band
// around each source, radians (5 degrees).
const CoincidenceBandWidth = 5 * math.Pi / 180

// GammaPrecision is the spacing of the spectral-index support points the
// energy caches are evaluated on.
const GammaPrecision = 0.1

// Config selects and parametrizes a likelihood variant.
type Config struct {
	Name      string            `json:"name"`
	TimePDF   pdf.TimeConfig    `json:"time_pdf"`
	EnergyPDF *pdf.EnergyConfig `json:"energy_pdf,omitempty"`
}

// Validate checks variant/PDF compatibility without building anything.
func (c *Config) Validate() error {
	switch c.Name {
	case NameSpatial:
		if c.EnergyPDF != nil {
			return fmt.Errorf("llh: spatial likelihood does not use an energy PDF; remove the energy_pdf entry")
		}
	case NameFixedEnergy, NameStandard:
		if c.EnergyPDF == nil {
			return fmt.Errorf("llh: %s likelihood needs an energy PDF", c.Name)
		}
		if err := c.EnergyPDF.Validate(); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("llh: no likelihood name specified")
	default:
		return fmt.Errorf("llh: unknown likelihood %q", c.Name)
	}
	return c.TimePDF.Validate()
}

// TrialContext is the immutable per-trial cache a variant builds from one
// drawn dataset. It is discarded once the trial's test statistic is
// recorded; nothing in it may leak across trials.
type TrialContext struct {
	// NAll is the total number of events in the drawn dataset.
	NAll float64
	// NCoincident counts events coincident with at least one source; the
	// remainder contribute through the closed-form background term.
	NCoincident float64

	// SoBSpacetime holds, per source, the spatial(+temporal)
	// signal-over-background ratio of each coincident event.
	SoBSpacetime [][]float64

	// SoBEnergy holds, per source, a static per-event energy ratio
	// (fixed-energy variant only).
	SoBEnergy [][]float64

	// EnergyCaches holds, per source, log energy ratios keyed by gamma
	// support point (standard variant only).
	EnergyCaches []map[int][]float64
}

// LLH is one season's likelihood engine.
type LLH interface {
	// Season returns the season this likelihood is bound to.
	Season() *season.Season
	// TimePDF returns the signal time PDF.
	TimePDF() pdf.TimePDF
	// FitsEnergy reports whether the spectral index is a fit parameter.
	FitsEnergy() bool

	// Acceptance is the detector acceptance for a source, used only to
	// build weight matrices. For energy-fitting variants the last entry
	// of params is the spectral index.
	Acceptance(src *catalogue.Source, params []float64) float64

	// SelectSpatiallyCoincident masks events inside the source's
	// declination band and solid-angle-preserving RA band.
	SelectSpatiallyCoincident(data season.Dataset, src *catalogue.Source) []bool

	// CreateContext builds the per-trial caches for a drawn dataset.
	CreateContext(data season.Dataset) (*TrialContext, error)

	// TestStatistic evaluates 2x the summed log likelihood ratio for the
	// season. params is the fit vector (n_s values, then gamma if
	// fitted); weights is this season's row of the weight matrix, one
	// entry per source.
	TestStatistic(params, weights []float64, ctx *TrialContext) float64
}

// New builds the likelihood variant named by cfg for one season. The
// source list must already be sorted by distance (catalogue.Load does
// this); the order fixes floating-point summation order across trials.
func New(cfg Config, s *season.Season, sources []catalogue.Source) (LLH, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	timePDF, err := pdf.NewTimePDF(cfg.TimePDF, s)
	if err != nil {
		return nil, err
	}

	b := base{season: s, sources: sources, timePDF: timePDF}

	switch cfg.Name {
	case NameSpatial:
		return newSpatialLLH(b)
	case NameFixedEnergy:
		energy, err := pdf.NewEnergyPDF(*cfg.EnergyPDF)
		if err != nil {
			return nil, err
		}
		return newFixedEnergyLLH(b, energy)
	case NameStandard:
		energy, err := pdf.NewEnergyPDF(*cfg.EnergyPDF)
		if err != nil {
			return nil, err
		}
		return newStandardLLH(b, energy)
	}
	return nil, fmt.Errorf("llh: unknown likelihood %q", cfg.Name)
}

// base carries the season, sources, and time PDF shared by all variants.
type base struct {
	season  *season.Season
	sources []catalogue.Source
	timePDF pdf.TimePDF

	// spaceOnly suppresses the temporal terms of both PDFs; set by the
	// flare wrapper, which handles time through explicit windows instead.
	spaceOnly bool
}

func (b *base) Season() *season.Season { return b.season }
func (b *base) TimePDF() pdf.TimePDF   { return b.timePDF }

// signalSpatial is the Gaussian spatial PDF centred on the source,
// evaluated at the event's angular separation with its per-event
// uncertainty.
func (b *base) signalSpatial(src *catalogue.Source, ev *season.Event) float64 {
	d := astro.AngularSeparation(ev.RA, ev.Dec, src.RA, src.Dec)
	s2 := ev.Sigma * ev.Sigma
	return math.Exp(-0.5*d*d/s2) / (2 * math.Pi * s2)
}

// signalPDF is the signal space(+time) density for one event.
func (b *base) signalPDF(src *catalogue.Source, ev *season.Event) float64 {
	v := b.signalSpatial(src, ev)
	if !b.spaceOnly {
		v *= b.timePDF.SignalDensity(ev.TimeMJD, src)
	}
	return v
}

// backgroundSpatial is the data-driven background density: the sin(dec)
// rate table divided by 2pi of right ascension.
func (b *base) backgroundSpatial(ev *season.Event) float64 {
	return math.Exp(b.season.BackgroundRate.Eval(ev.SinDec)) / (2 * math.Pi)
}

// backgroundPDF is the background space(+time) density for one event.
func (b *base) backgroundPDF(src *catalogue.Source, ev *season.Event) float64 {
	v := b.backgroundSpatial(ev)
	if !b.spaceOnly {
		v *= b.timePDF.BackgroundDensity(ev.TimeMJD, src)
	}
	return v
}

// SelectSpatiallyCoincident masks events within +/-5 degrees of the
// source declination and inside an RA band widened by 1/cos(dec) to keep
// the selected solid angle roughly constant. The RA comparison wraps
// across 0/2pi.
func (b *base) SelectSpatiallyCoincident(data season.Dataset, src *catalogue.Source) []bool {
	minDec := math.Max(-math.Pi/2, src.Dec-CoincidenceBandWidth)
	maxDec := math.Min(math.Pi/2, src.Dec+CoincidenceBandWidth)

	cosFactor := math.Min(math.Cos(minDec), math.Cos(maxDec))
	dPhi := 2 * math.Pi
	if cosFactor > 0 {
		dPhi = math.Min(2*math.Pi, 2*CoincidenceBandWidth/cosFactor)
	}

	mask := make([]bool, len(data))
	for i := range data {
		ev := &data[i]
		if ev.Dec <= minDec || ev.Dec >= maxDec {
			continue
		}
		raDist := math.Mod(ev.RA-src.RA+math.Pi, 2*math.Pi)
		if raDist < 0 {
			raDist += 2 * math.Pi
		}
		raDist = math.Abs(raDist - math.Pi)
		mask[i] = raDist < dPhi/2
	}
	return mask
}

// sobSpacetime returns the per-event spatial(+temporal) SoB ratios of the
// masked events for one source.
func (b *base) sobSpacetime(data season.Dataset, mask []bool, src *catalogue.Source) []float64 {
	var out []float64
	for i := range data {
		if !mask[i] {
			continue
		}
		ev := &data[i]
		bkg := b.backgroundPDF(src, ev)
		if bkg <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, b.signalPDF(src, ev)/bkg)
	}
	return out
}

// coincidentEvents returns the masked events themselves, in data order.
func coincidentEvents(data season.Dataset, mask []bool) []season.Event {
	var out []season.Event
	for i := range data {
		if mask[i] {
			out = append(out, data[i])
		}
	}
	return out
}

// assumeBackground is the closed-form log-likelihood contribution of all
// events assumed to carry no signal: (nAll - nCoincident) * log1p(-nJ/nAll).
func assumeBackground(nJ, nCoincident, nAll float64) float64 {
	return (nAll - nCoincident) * math.Log1p(-nJ/nAll)
}

// expandSignal distributes the fitted signal strengths over sources:
// nJ[j] = n_s (shared or per-source) * weights[j].
func expandSignal(ns, weights []float64) []float64 {
	nJ := make([]float64, len(weights))
	for j := range weights {
		v := ns[0]
		if len(ns) == len(weights) {
			v = ns[j]
		}
		nJ[j] = v * weights[j]
	}
	return nJ
}

// finishTestStatistic applies the shared tail of every variant's
// evaluation: on a non-positive likelihood argument the per-source values
// are replaced by the smooth penalty -50 + nJ; otherwise the closed-form
// background term is added and a final sign-consistency guard applies the
// same penalty. Returns 2x the summed log likelihood ratio.
func finishTestStatistic(llhValues, allNJ []float64, penalty bool, ctx *TrialContext) float64 {
	if !penalty {
		for j := range llhValues {
			llhValues[j] += assumeBackground(allNJ[j], ctx.NCoincident, ctx.NAll)
		}
		var penaltySum float64
		for _, nJ := range allNJ {
			penaltySum += -50 + nJ
		}
		if floats.Sum(allNJ) < 0 && floats.Sum(llhValues) < penaltySum {
			penalty = true
		}
	}
	if penalty {
		for j := range llhValues {
			llhValues[j] = -50 + allNJ[j]
		}
	}
	return 2 * floats.Sum(llhValues)
}
