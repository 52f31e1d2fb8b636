package llh

import (
	"fmt"
	"math"

	"github.com/banshee-data/flarescan/internal/catalogue"
	"github.com/banshee-data/flarescan/internal/pdf"
	"github.com/banshee-data/flarescan/internal/season"
)

// FlareReferenceGamma is the fixed spectral index used when ranking
// events by significance before the window search.
const FlareReferenceGamma = 3.0

// contextMaker is the per-source context hook every variant implements.
type contextMaker interface {
	LLH
	contextFor(data season.Dataset, sources []catalogue.Source) (*TrialContext, error)
}

// FlareLLH wraps a base likelihood variant for the time-window search. It
// delegates everything to the wrapped variant except that the PDFs drop
// their temporal terms (candidate windows carry the time information
// instead) and the per-season closed-form background term is replaced by
// a single season-spanning one over the pooled sample.
type FlareLLH struct {
	inner contextMaker
}

// NewFlare builds a flare-mode likelihood: the named variant with its
// temporal PDF terms suppressed.
func NewFlare(cfg Config, s *season.Season, sources []catalogue.Source) (*FlareLLH, error) {
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
	b := base{season: s, sources: sources, timePDF: timePDF, spaceOnly: true}

	var inner contextMaker
	switch cfg.Name {
	case NameSpatial:
		inner, err = newSpatialLLH(b)
	case NameFixedEnergy:
		energy, eerr := pdf.NewEnergyPDF(*cfg.EnergyPDF)
		if eerr != nil {
			return nil, eerr
		}
		inner, err = newFixedEnergyLLH(b, energy)
	case NameStandard:
		energy, eerr := pdf.NewEnergyPDF(*cfg.EnergyPDF)
		if eerr != nil {
			return nil, eerr
		}
		inner, err = newStandardLLH(b, energy)
	default:
		return nil, fmt.Errorf("llh: unknown likelihood %q", cfg.Name)
	}
	if err != nil {
		return nil, err
	}
	return &FlareLLH{inner: inner}, nil
}

// Season returns the wrapped season.
func (f *FlareLLH) Season() *season.Season { return f.inner.Season() }

// TimePDF returns the wrapped signal time PDF; the flare search uses it
// for window bounds and livetime overlaps, not per-event densities.
func (f *FlareLLH) TimePDF() pdf.TimePDF { return f.inner.TimePDF() }

// FitsEnergy reports whether the wrapped variant fits the spectral index.
func (f *FlareLLH) FitsEnergy() bool { return f.inner.FitsEnergy() }

// Acceptance delegates to the wrapped variant.
func (f *FlareLLH) Acceptance(src *catalogue.Source, params []float64) float64 {
	return f.inner.Acceptance(src, params)
}

// SelectSpatiallyCoincident delegates to the wrapped variant.
func (f *FlareLLH) SelectSpatiallyCoincident(data season.Dataset, src *catalogue.Source) []bool {
	return f.inner.SelectSpatiallyCoincident(data, src)
}

// SelectTimeCoincident masks events inside the source's signal time
// window.
func (f *FlareLLH) SelectTimeCoincident(data season.Dataset, src *catalogue.Source) []bool {
	t0 := f.inner.TimePDF().SignalStart(src)
	t1 := f.inner.TimePDF().SignalEnd(src)
	mask := make([]bool, len(data))
	for i := range data {
		mask[i] = data[i].TimeMJD > t0 && data[i].TimeMJD < t1
	}
	return mask
}

// EstimateSignificance returns each event's S/B ratio against the source,
// spatial times energy, with the energy term evaluated at the fixed
// reference index.
func (f *FlareLLH) EstimateSignificance(events []season.Event, src *catalogue.Source) []float64 {
	sob := make([]float64, len(events))

	switch inner := f.inner.(type) {
	case *SpatialLLH:
		for i := range events {
			sob[i] = inner.signalSpatial(src, &events[i]) / inner.backgroundSpatial(&events[i])
		}
	case *FixedEnergyLLH:
		for i := range events {
			ev := &events[i]
			sob[i] = inner.signalSpatial(src, ev) / inner.backgroundSpatial(ev) *
				math.Exp(inner.ratio.Eval(ev.LogE, ev.SinDec))
		}
	case *StandardLLH:
		cache := inner.createEnergyCache(events)
		energy := EstimateEnergyWeights(FlareReferenceGamma, cache)
		for i := range events {
			ev := &events[i]
			sob[i] = inner.signalSpatial(src, ev) / inner.backgroundSpatial(ev) * energy[i]
		}
	}
	return sob
}

// FindSignificantTimes returns the arrival times of events whose S/B
// exceeds 1 against the source.
func (f *FlareLLH) FindSignificantTimes(events []season.Event, src *catalogue.Source) []float64 {
	sob := f.EstimateSignificance(events, src)
	var times []float64
	for i, v := range sob {
		if v > 1 {
			times = append(times, events[i].TimeMJD)
		}
	}
	return times
}

// AssumeSeasonBackground is the season-spanning closed-form background
// term for a candidate window: all pooled sky events outside the
// coincident subsample are assumed background.
func AssumeSeasonBackground(nS, nMask, nSeason, nAll float64) float64 {
	return (nSeason - nMask) * math.Log1p(-nS/nAll)
}

// CreateFlareFunction builds the test-statistic closure for one candidate
// window of one source. subset is this season's coincident data inside
// the window; nAllSky the pooled count of events in the sky during the
// window across all seasons; nSeason this season's count in the window.
func (f *FlareLLH) CreateFlareFunction(subset season.Dataset, src *catalogue.Source,
	nAllSky float64, nSeason float64) (func(params []float64) float64, error) {

	ctx, err := f.inner.contextFor(subset, []catalogue.Source{*src})
	if err != nil {
		return nil, err
	}

	// The pooled sample plays the role of the season: the per-season
	// closed-form term is neutralized (coincident count set to the total)
	// and the season-spanning term added explicitly below.
	ctx.NAll = nAllSky
	ctx.NCoincident = nAllSky

	nMask := float64(len(subset))
	weights := []float64{1}

	return func(params []float64) float64 {
		ts := f.inner.TestStatistic(params, weights, ctx)
		return ts + 2*AssumeSeasonBackground(params[0], nMask, nSeason, nAllSky)
	}, nil
}
