// Package minimisation orchestrates the analysis: it owns per-season
// injector/likelihood pairs, derives the fit parameter layout from
// configuration, runs batches of trials at a given flux scale, and
// persists the outcomes. Everything here is single threaded; parallelism
// is meant to come from independent processes with distinct seeds.
package minimisation

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/flarescan/internal/catalogue"
	"github.com/banshee-data/flarescan/internal/injector"
	"github.com/banshee-data/flarescan/internal/llh"
	"github.com/banshee-data/flarescan/internal/pdf"
	"github.com/banshee-data/flarescan/internal/season"
)

// NSSeed and the n_s bounds below define the default signal-strength
// parameter space.
const (
	NSSeed        = 1.0
	NSUpperBound  = 1000.0
	NSLowerBound  = 0.0
	NSNegativeMin = -30.0
)

// Config selects the analysis mode for a handler.
type Config struct {
	Name string `json:"name"`

	LLH       llh.Config      `json:"llh"`
	Injection injector.Config `json:"injection"`

	// NegativeNS lets the fitted signal strength go negative, exposing
	// underfluctuations. Incompatible with FitWeights.
	NegativeNS bool `json:"negative_n_s,omitempty"`

	// FitWeights gives each source its own signal-strength parameter
	// instead of one shared n_s split by the weight matrix.
	FitWeights bool `json:"fit_weights,omitempty"`

	// BruteSeed seeds the optimizer from a coarse grid scan instead of
	// the default seed vector.
	BruteSeed bool `json:"brute_seed,omitempty"`

	// FlareSearch switches trials to the per-source time-window search.
	FlareSearch bool `json:"flare_search,omitempty"`

	// MockUnblind replaces scrambles with one fixed pseudo-unblinded
	// dataset per season, drawn once with MockUnblindSeed.
	MockUnblind     bool   `json:"mock_unblind,omitempty"`
	MockUnblindSeed uint64 `json:"mock_unblind_seed,omitempty"`
}

// Validate rejects incompatible mode combinations before any building
// happens.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("minimisation: analysis needs a name")
	}
	if c.FitWeights && c.NegativeNS {
		return fmt.Errorf("minimisation: fit weights cannot be combined with negative n_s")
	}
	if c.FitWeights && c.FlareSearch {
		return fmt.Errorf("minimisation: fit weights cannot be combined with the flare search")
	}
	if err := c.LLH.Validate(); err != nil {
		return err
	}
	return c.Injection.Validate()
}

// FitSetup is the derived parameter layout: seeds, bounds, and names, in
// fit-vector order.
type FitSetup struct {
	Seeds []float64
	Lower []float64
	Upper []float64
	Names []string
}

// perSeason bundles one season's injector and likelihood.
type perSeason struct {
	season    *season.Season
	generator injector.Generator
	llh       llh.LLH
	flare     *llh.FlareLLH
}

// Handler runs trials for one analysis configuration over one or more
// seasons.
type Handler struct {
	cfg     Config
	sources []catalogue.Source
	seasons []perSeason
	setup   FitSetup
}

// NewHandler builds the per-season injector/likelihood pairs and the fit
// parameter layout. The source list is sorted by distance if it is not
// already, fixing the summation order everywhere downstream.
func NewHandler(cfg Config, seasons []*season.Season, sources []catalogue.Source) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(seasons) == 0 {
		return nil, fmt.Errorf("minimisation: no seasons")
	}
	if err := catalogue.Validate(sources); err != nil {
		return nil, err
	}

	srcs := append([]catalogue.Source(nil), sources...)
	catalogue.SortByDistance(srcs)

	h := &Handler{cfg: cfg, sources: srcs}
	for _, s := range seasons {
		ps := perSeason{season: s}

		var err error
		if cfg.MockUnblind {
			ps.generator, err = injector.NewMockUnblinded(cfg.Injection, s, srcs, cfg.MockUnblindSeed)
		} else {
			ps.generator, err = injector.New(cfg.Injection, s, srcs)
		}
		if err != nil {
			return nil, err
		}

		if cfg.FlareSearch {
			ps.flare, err = llh.NewFlare(cfg.LLH, s, srcs)
		} else {
			ps.llh, err = llh.New(cfg.LLH, s, srcs)
		}
		if err != nil {
			return nil, err
		}
		h.seasons = append(h.seasons, ps)
	}

	h.setup = h.deriveFitSetup()
	return h, nil
}

// Setup exposes the derived parameter layout.
func (h *Handler) Setup() FitSetup { return h.setup }

// Sources exposes the distance-ordered catalogue.
func (h *Handler) Sources() []catalogue.Source { return h.sources }

// Expectation returns the mean number of injected events at a flux
// scale, summed over seasons.
func (h *Handler) Expectation(scale float64) float64 {
	var sum float64
	for _, ps := range h.seasons {
		sum += ps.generator.Expectation(scale)
	}
	return sum
}

func (h *Handler) fitsEnergy() bool {
	if h.cfg.FlareSearch {
		return h.seasons[0].flare.FitsEnergy()
	}
	return h.seasons[0].llh.FitsEnergy()
}

func (h *Handler) deriveFitSetup() FitSetup {
	var s FitSetup

	if h.cfg.FitWeights {
		for i := range h.sources {
			s.Seeds = append(s.Seeds, NSSeed)
			s.Lower = append(s.Lower, NSLowerBound)
			s.Upper = append(s.Upper, NSUpperBound)
			s.Names = append(s.Names, fmt.Sprintf("n_s (%s)", h.sources[i].Name))
		}
	} else {
		lower := NSLowerBound
		if h.cfg.NegativeNS {
			lower = NSNegativeMin
		}
		s.Seeds = append(s.Seeds, NSSeed)
		s.Lower = append(s.Lower, lower)
		s.Upper = append(s.Upper, NSUpperBound)
		s.Names = append(s.Names, "n_s")
	}

	if h.fitsEnergy() {
		s.Seeds = append(s.Seeds, pdf.GammaSeed)
		s.Lower = append(s.Lower, pdf.GammaLowerBound)
		s.Upper = append(s.Upper, pdf.GammaUpperBound)
		s.Names = append(s.Names, pdf.GammaParamName)
	}
	return s
}

// timePDF returns season i's signal time PDF regardless of mode.
func (h *Handler) timePDF(i int) pdf.TimePDF {
	if h.cfg.FlareSearch {
		return h.seasons[i].flare.TimePDF()
	}
	return h.seasons[i].llh.TimePDF()
}

// acceptance returns season i's acceptance for a source regardless of
// mode.
func (h *Handler) acceptance(i int, src *catalogue.Source, params []float64) float64 {
	if h.cfg.FlareSearch {
		return h.seasons[i].flare.Acceptance(src, params)
	}
	return h.seasons[i].llh.Acceptance(src, params)
}

// FixedWeightMatrix allocates the total signal over (season, source)
// cells: acceptance times physical source weight times effective
// livetime, normalized so the whole matrix sums to one. Row i of the
// result is season i's weight vector. Recomputed whenever params change,
// since acceptance can depend on the fitted spectral index.
func (h *Handler) FixedWeightMatrix(params []float64) *mat.Dense {
	m := mat.NewDense(len(h.seasons), len(h.sources), nil)
	for i := range h.seasons {
		tp := h.timePDF(i)
		for j := range h.sources {
			src := &h.sources[j]
			w := h.acceptance(i, src, params) * src.Weight() * pdf.SourceInjectionTime(tp, src)
			m.Set(i, j, w)
		}
	}
	if total := mat.Sum(m); total > 0 {
		m.Scale(1/total, m)
	}
	return m
}

// FitWeightMatrix is the per-source variant: each source's column is
// normalized independently, so its own n_s parameter carries the overall
// strength and the column only splits it across seasons.
func (h *Handler) FitWeightMatrix(params []float64) *mat.Dense {
	m := mat.NewDense(len(h.seasons), len(h.sources), nil)
	for i := range h.seasons {
		tp := h.timePDF(i)
		for j := range h.sources {
			src := &h.sources[j]
			m.Set(i, j, h.acceptance(i, src, params)*pdf.SourceInjectionTime(tp, src))
		}
	}
	for j := range h.sources {
		var sum float64
		for i := range h.seasons {
			sum += m.At(i, j)
		}
		if sum > 0 {
			for i := range h.seasons {
				m.Set(i, j, m.At(i, j)/sum)
			}
		}
	}
	return m
}
