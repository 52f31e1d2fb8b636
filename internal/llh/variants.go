package llh

import (
	"fmt"
	"math"

	"github.com/banshee-data/flarescan/internal/catalogue"
	"github.com/banshee-data/flarescan/internal/interpolate"
	"github.com/banshee-data/flarescan/internal/pdf"
	"github.com/banshee-data/flarescan/internal/season"
)

// SpatialLLH uses spatial (and optionally temporal) information only. No
// energy weighting is applied, and the spectral index is not a parameter.
type SpatialLLH struct {
	base
}

func newSpatialLLH(b base) (*SpatialLLH, error) {
	return &SpatialLLH{base: b}, nil
}

func (l *SpatialLLH) FitsEnergy() bool { return false }

// Acceptance approximates the detector acceptance by the background data
// rate at the source declination: the atmospheric flux is treated as
// isotropic, so more recorded background means more acceptance.
func (l *SpatialLLH) Acceptance(src *catalogue.Source, _ []float64) float64 {
	rate := math.Exp(l.season.BackgroundRate.Eval(math.Sin(src.Dec)))
	return rate * float64(len(l.season.Exp))
}

func (l *SpatialLLH) CreateContext(data season.Dataset) (*TrialContext, error) {
	return l.contextFor(data, l.sources)
}

func (l *SpatialLLH) contextFor(data season.Dataset, sources []catalogue.Source) (*TrialContext, error) {
	ctx := &TrialContext{NAll: float64(len(data))}

	assumedBkg := make([]bool, len(data))
	for i := range assumedBkg {
		assumedBkg[i] = true
	}

	for j := range sources {
		src := &sources[j]
		mask := l.SelectSpatiallyCoincident(data, src)
		for i, m := range mask {
			if m {
				assumedBkg[i] = false
			}
		}
		ctx.SoBSpacetime = append(ctx.SoBSpacetime, l.sobSpacetime(data, mask, src))
	}

	for _, bg := range assumedBkg {
		if !bg {
			ctx.NCoincident++
		}
	}
	return ctx, nil
}

func (l *SpatialLLH) TestStatistic(params, weights []float64, ctx *TrialContext) float64 {
	allNJ := expandSignal(params, weights)

	llhValues := make([]float64, len(allNJ))
	penalty := false
	for j, nJ := range allNJ {
		for _, sob := range ctx.SoBSpacetime[j] {
			x := 1 + (nJ/ctx.NAll)*(sob-1)
			if x <= 0 {
				penalty = true
				break
			}
			llhValues[j] += math.Log(x)
		}
		if penalty {
			break
		}
	}
	return finishTestStatistic(llhValues, allNJ, penalty, ctx)
}

// FixedEnergyLLH adds a static energy weighting computed once at the
// assumed spectral index. Gamma is not a fit parameter.
type FixedEnergyLLH struct {
	base
	energy     pdf.EnergyPDF
	ratio      *interpolate.Bilinear
	acceptance *interpolate.Linear1D
}

func newFixedEnergyLLH(b base, energy pdf.EnergyPDF) (*FixedEnergyLLH, error) {
	l := &FixedEnergyLLH{base: b, energy: energy}

	// Prefer a precomputed ratio grid at the assumed index; fall back to
	// building one in-line from the season samples, as the original
	// fixed-energy likelihood does.
	if pl, ok := energy.(*pdf.PowerLawPDF); ok {
		if grid, ok := b.season.EnergyRatios[season.GammaKey(pl.Gamma)]; ok {
			l.ratio = grid
		}
	}
	if l.ratio == nil {
		if len(b.season.MC) == 0 {
			return nil, fmt.Errorf("llh: fixed_energy needs a precomputed energy ratio grid or a season MC sample")
		}
		grid, err := season.BuildEnergyRatioGrid(b.season.Exp, b.season.MC,
			func(mc *season.MCEvent) float64 { return mc.OneWeight * l.energy.Weight(mc.TrueE) },
			interpolate.Linspace(1, 10, 41), interpolate.Linspace(-1, 1, 21))
		if err != nil {
			return nil, fmt.Errorf("llh: fixed_energy ratio grid: %w", err)
		}
		l.ratio = grid
	}

	acc, err := l.buildAcceptance()
	if err != nil {
		return nil, err
	}
	l.acceptance = acc
	return l, nil
}

func (l *FixedEnergyLLH) FitsEnergy() bool { return false }

// buildAcceptance integrates the spectrum-weighted MC rate in declination
// bands, normalized by the band solid angle, and interpolates the result
// over declination.
func (l *FixedEnergyLLH) buildAcceptance() (*interpolate.Linear1D, error) {
	if len(l.season.MC) == 0 {
		return nil, fmt.Errorf("llh: fixed_energy acceptance needs a season MC sample")
	}

	decGrid := interpolate.Linspace(-math.Pi/2, math.Pi/2, 101)
	acc := make([]float64, len(decGrid))
	for i, dec := range decGrid {
		minDec := math.Max(-math.Pi/2, dec-CoincidenceBandWidth)
		maxDec := math.Min(math.Pi/2, dec+CoincidenceBandWidth)
		omega := 2 * math.Pi * (math.Sin(maxDec) - math.Sin(minDec))

		var sum float64
		for k := range l.season.MC {
			mc := &l.season.MC[k]
			if mc.TrueDec > minDec && mc.TrueDec < maxDec {
				sum += mc.OneWeight * l.energy.Weight(mc.TrueE)
			}
		}
		acc[i] = sum / omega
	}
	return interpolate.NewLinear1D(decGrid, acc)
}

func (l *FixedEnergyLLH) Acceptance(src *catalogue.Source, _ []float64) float64 {
	return l.acceptance.Eval(src.Dec)
}

func (l *FixedEnergyLLH) CreateContext(data season.Dataset) (*TrialContext, error) {
	return l.contextFor(data, l.sources)
}

func (l *FixedEnergyLLH) contextFor(data season.Dataset, sources []catalogue.Source) (*TrialContext, error) {
	ctx := &TrialContext{NAll: float64(len(data))}

	assumedBkg := make([]bool, len(data))
	for i := range assumedBkg {
		assumedBkg[i] = true
	}

	for j := range sources {
		src := &sources[j]
		mask := l.SelectSpatiallyCoincident(data, src)
		for i, m := range mask {
			if m {
				assumedBkg[i] = false
			}
		}

		spacetime := l.sobSpacetime(data, mask, src)
		events := coincidentEvents(data, mask)
		combined := make([]float64, len(events))
		for i := range events {
			combined[i] = spacetime[i] * math.Exp(l.ratio.Eval(events[i].LogE, events[i].SinDec))
		}
		ctx.SoBSpacetime = append(ctx.SoBSpacetime, combined)
	}

	for _, bg := range assumedBkg {
		if !bg {
			ctx.NCoincident++
		}
	}
	return ctx, nil
}

func (l *FixedEnergyLLH) TestStatistic(params, weights []float64, ctx *TrialContext) float64 {
	allNJ := expandSignal(params, weights)

	llhValues := make([]float64, len(allNJ))
	penalty := false
	for j, nJ := range allNJ {
		for _, sob := range ctx.SoBSpacetime[j] {
			x := 1 + (nJ/ctx.NAll)*(sob-1)
			if x <= 0 {
				penalty = true
				break
			}
			llhValues[j] += math.Log(x)
		}
		if penalty {
			break
		}
	}
	return finishTestStatistic(llhValues, allNJ, penalty, ctx)
}

// StandardLLH fits the spectral index alongside the signal strength. The
// energy term is interpolated between precomputed support points with a
// second-order Taylor expansion, so the optimizer never touches the
// underlying tables.
type StandardLLH struct {
	base
	energy pdf.EnergyPDF
}

func newStandardLLH(b base, energy pdf.EnergyPDF) (*StandardLLH, error) {
	if len(b.season.EnergyRatios) < 3 {
		return nil, fmt.Errorf("llh: standard likelihood needs precomputed energy ratio grids over the gamma support range")
	}
	if b.season.Acceptance == nil {
		return nil, fmt.Errorf("llh: standard likelihood needs a 2D acceptance table")
	}
	return &StandardLLH{base: b, energy: energy}, nil
}

func (l *StandardLLH) FitsEnergy() bool { return true }

// Acceptance interpolates the 2D table at the source declination and the
// fitted spectral index (last entry of params).
func (l *StandardLLH) Acceptance(src *catalogue.Source, params []float64) float64 {
	gamma := pdf.GammaSeed
	if len(params) > 0 {
		gamma = params[len(params)-1]
	}
	return l.season.Acceptance.Eval(src.Dec, gamma)
}

func (l *StandardLLH) CreateContext(data season.Dataset) (*TrialContext, error) {
	return l.contextFor(data, l.sources)
}

func (l *StandardLLH) contextFor(data season.Dataset, sources []catalogue.Source) (*TrialContext, error) {
	ctx := &TrialContext{NAll: float64(len(data))}

	assumedBkg := make([]bool, len(data))
	for i := range assumedBkg {
		assumedBkg[i] = true
	}

	for j := range sources {
		src := &sources[j]
		mask := l.SelectSpatiallyCoincident(data, src)
		for i, m := range mask {
			if m {
				assumedBkg[i] = false
			}
		}
		ctx.SoBSpacetime = append(ctx.SoBSpacetime, l.sobSpacetime(data, mask, src))
		ctx.EnergyCaches = append(ctx.EnergyCaches, l.createEnergyCache(coincidentEvents(data, mask)))
	}

	for _, bg := range assumedBkg {
		if !bg {
			ctx.NCoincident++
		}
	}
	return ctx, nil
}

// createEnergyCache evaluates the log energy ratio of each event at every
// gamma support point.
func (l *StandardLLH) createEnergyCache(events []season.Event) map[int][]float64 {
	cache := make(map[int][]float64, len(l.season.EnergyRatios))
	for key, grid := range l.season.EnergyRatios {
		vals := make([]float64, len(events))
		for i := range events {
			vals[i] = grid.Eval(events[i].LogE, events[i].SinDec)
		}
		cache[key] = vals
	}
	return cache
}

// aroundGamma rounds gamma to the nearest support point.
func aroundGamma(gamma float64) float64 {
	return math.Round(gamma/GammaPrecision) * GammaPrecision
}

// EstimateEnergyWeights estimates the per-event energy S/B at an
// arbitrary gamma. Exact at support points; elsewhere a second-order
// Taylor expansion around the nearest point, using its two neighbours
// for the derivatives.
func EstimateEnergyWeights(gamma float64, cache map[int][]float64) []float64 {
	g1 := aroundGamma(gamma)
	k1 := season.GammaKey(g1)

	s1, ok := cache[k1]
	if !ok {
		// Clamp onto the support range; gamma follows so the expansion
		// never extrapolates past the edge.
		minKey, maxKey := supportRange(cache)
		if k1 < minKey {
			k1 = minKey
		} else if k1 > maxKey {
			k1 = maxKey
		}
		g1 = season.GammaFromKey(k1)
		gamma = g1
		s1 = cache[k1]
	}

	if gamma == g1 {
		out := make([]float64, len(s1))
		for i, v := range s1 {
			out[i] = math.Exp(v)
		}
		return out
	}

	dg := GammaPrecision
	k0, k2 := season.GammaKey(g1-dg), season.GammaKey(g1+dg)
	s0, ok0 := cache[k0]
	s2, ok2 := cache[k2]
	if !ok0 || !ok2 {
		// At the edge of the support range, shift the expansion point
		// inward by one step.
		if !ok0 {
			g1 += dg
		} else {
			g1 -= dg
		}
		k0, k1, k2 = season.GammaKey(g1-dg), season.GammaKey(g1), season.GammaKey(g1+dg)
		s0, s1, s2 = cache[k0], cache[k1], cache[k2]
	}

	d := gamma - g1
	out := make([]float64, len(s1))
	for i := range s1 {
		second := (s0[i] - 2*s1[i] + s2[i]) / (2 * dg * dg) * d * d
		first := (s2[i] - s0[i]) / (2 * dg) * d
		out[i] = math.Exp(second + first + s1[i])
	}
	return out
}

func supportRange(cache map[int][]float64) (minKey, maxKey int) {
	first := true
	for k := range cache {
		if first {
			minKey, maxKey = k, k
			first = false
			continue
		}
		if k < minKey {
			minKey = k
		}
		if k > maxKey {
			maxKey = k
		}
	}
	return minKey, maxKey
}

func (l *StandardLLH) TestStatistic(params, weights []float64, ctx *TrialContext) float64 {
	ns := params[:len(params)-1]
	gamma := params[len(params)-1]

	allNJ := expandSignal(ns, weights)

	llhValues := make([]float64, len(allNJ))
	penalty := false
	for j, nJ := range allNJ {
		spacetime := ctx.SoBSpacetime[j]
		var energy []float64
		// The energy term is dropped for negative signal strengths so the
		// likelihood stays continuous through n_s = 0.
		if nJ >= 0 {
			energy = EstimateEnergyWeights(gamma, ctx.EnergyCaches[j])
		}
		for i, sob := range spacetime {
			if energy != nil {
				sob *= energy[i]
			}
			x := 1 + (nJ/ctx.NAll)*(sob-1)
			if x <= 0 {
				penalty = true
				break
			}
			llhValues[j] += math.Log(x)
		}
		if penalty {
			break
		}
	}
	return finishTestStatistic(llhValues, allNJ, penalty, ctx)
}
