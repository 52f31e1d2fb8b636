package pdf

import (
	"fmt"
	"math"

	"github.com/banshee-data/flarescan/internal/interpolate"
	"github.com/banshee-data/flarescan/internal/season"
)

// Energy PDF variant names.
const (
	EnergyPowerLaw = "power_law"
	EnergySpline   = "spline"
)

// Gamma fit parameter defaults, used whenever the spectral index floats.
const (
	GammaSeed       = 2.0
	GammaLowerBound = 1.0
	GammaUpperBound = 4.0
	GammaParamName  = "gamma"
)

// EnergyConfig selects and parametrizes an energy PDF.
type EnergyConfig struct {
	Name  string  `json:"name"`
	Gamma float64 `json:"gamma,omitempty"`

	// Spline variant: log10(E/GeV) grid and log flux values.
	LogEGrid    []float64 `json:"log_e_grid,omitempty"`
	LogFluxGrid []float64 `json:"log_flux_grid,omitempty"`
}

// Validate checks the variant name and its parameters.
func (c *EnergyConfig) Validate() error {
	switch c.Name {
	case EnergyPowerLaw:
		if c.Gamma <= 0 {
			return fmt.Errorf("pdf: power law needs a positive spectral index, got %v", c.Gamma)
		}
	case EnergySpline:
		if len(c.LogEGrid) != len(c.LogFluxGrid) || len(c.LogEGrid) < 3 {
			return fmt.Errorf("pdf: spline energy PDF needs matching grids of at least 3 points")
		}
	case "":
		return fmt.Errorf("pdf: no energy PDF specified")
	default:
		return fmt.Errorf("pdf: unknown energy PDF %q", c.Name)
	}
	return nil
}

// EnergyPDF models the assumed source spectrum. Weight returns the
// unnormalized spectrum value at a true energy in GeV; WeightMC scales
// each Monte Carlo event's generation weight to the spectrum.
type EnergyPDF interface {
	Weight(energy float64) float64
	WeightMC(mc []season.MCEvent) []float64
}

// NewEnergyPDF builds the energy PDF variant named by cfg.
func NewEnergyPDF(cfg EnergyConfig) (EnergyPDF, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Name {
	case EnergyPowerLaw:
		return &PowerLawPDF{Gamma: cfg.Gamma}, nil
	case EnergySpline:
		f, err := interpolate.NewCubic1D(cfg.LogEGrid, cfg.LogFluxGrid)
		if err != nil {
			return nil, fmt.Errorf("pdf: spline energy PDF: %w", err)
		}
		return &SplinePDF{logFlux: f}, nil
	}
	return nil, fmt.Errorf("pdf: unknown energy PDF %q", cfg.Name)
}

// PowerLawPDF is the E^-gamma spectrum.
type PowerLawPDF struct {
	Gamma float64
}

func (p *PowerLawPDF) Weight(energy float64) float64 {
	return math.Pow(energy, -p.Gamma)
}

func (p *PowerLawPDF) WeightMC(mc []season.MCEvent) []float64 {
	out := make([]float64, len(mc))
	for i := range mc {
		out[i] = mc[i].OneWeight * p.Weight(mc[i].TrueE)
	}
	return out
}

// SplinePDF evaluates an arbitrary tabulated spectrum through a cubic
// interpolant of log flux vs log10 energy.
type SplinePDF struct {
	logFlux *interpolate.Cubic1D
}

func (p *SplinePDF) Weight(energy float64) float64 {
	if energy <= 0 {
		return 0
	}
	return math.Exp(p.logFlux.Eval(math.Log10(energy)))
}

func (p *SplinePDF) WeightMC(mc []season.MCEvent) []float64 {
	out := make([]float64, len(mc))
	for i := range mc {
		out[i] = mc[i].OneWeight * p.Weight(mc[i].TrueE)
	}
	return out
}
