package minimisation

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/flarescan/internal/interpolate"
	"github.com/banshee-data/flarescan/internal/llh"
	"github.com/banshee-data/flarescan/internal/monitoring"
	"github.com/banshee-data/flarescan/internal/results"
	"github.com/banshee-data/flarescan/internal/season"
)

// drawContexts generates one dataset per season at the given scale and
// builds the per-trial likelihood caches.
func (h *Handler) drawContexts(scale float64, src rand.Source) ([]*llh.TrialContext, error) {
	ctxs := make([]*llh.TrialContext, len(h.seasons))
	for i := range h.seasons {
		data, err := h.seasons[i].generator.CreateDataset(scale, src)
		if err != nil {
			return nil, err
		}
		ctx, err := h.seasons[i].llh.CreateContext(data)
		if err != nil {
			return nil, err
		}
		ctxs[i] = ctx
	}
	return ctxs, nil
}

// objective combines the per-season test statistics through the weight
// matrix into one function of the fit parameters. The contexts are
// immutable; only the weight matrix is recomputed per evaluation.
func (h *Handler) objective(ctxs []*llh.TrialContext) func([]float64) float64 {
	row := make([]float64, len(h.sources))
	return func(params []float64) float64 {
		var m *mat.Dense
		if h.cfg.FitWeights {
			m = h.FitWeightMatrix(params)
		} else {
			m = h.FixedWeightMatrix(params)
		}

		var ts float64
		for i := range h.seasons {
			mat.Row(row, i, m)
			ts += h.seasons[i].llh.TestStatistic(params, row, ctxs[i])
		}
		return ts
	}
}

// fit minimizes -f within the derived bounds and returns the best
// parameters with a convergence flag.
func (h *Handler) fit(f func([]float64) float64) ([]float64, int) {
	g := func(params []float64) float64 { return -f(params) }

	seeds := h.setup.Seeds
	if h.cfg.BruteSeed {
		seeds = bruteSeed(g, h.setup.Lower, h.setup.Upper)
	}

	vals, ok := minimizeBounded(g, seeds, h.setup.Lower, h.setup.Upper)
	flag := results.FlagConverged
	if !ok {
		vals = bruteGrid(g, h.setup.Lower, h.setup.Upper)
		flag = results.FlagFallback
	}

	// With negative n_s allowed, the simplex can stall against zero on
	// underfluctuations. Retry on the negative side only and keep the
	// better optimum.
	if h.cfg.NegativeNS && vals[0] <= 0 {
		lower := h.setup.Lower
		upper := append([]float64(nil), h.setup.Upper...)
		upper[0] = 0
		negSeeds := append([]float64(nil), h.setup.Seeds...)
		negSeeds[0] = -1

		negVals, negOK := minimizeBounded(g, negSeeds, lower, upper)
		if negOK && g(negVals) < g(vals) {
			vals = negVals
		}
	}
	return vals, flag
}

// runTrial performs one stacked trial at the given flux scale.
func (h *Handler) runTrial(scale float64, src rand.Source) (results.TrialResult, error) {
	ctxs, err := h.drawContexts(scale, src)
	if err != nil {
		return results.TrialResult{}, err
	}
	f := h.objective(ctxs)
	vals, flag := h.fit(f)

	raw := f(vals)
	var ts float64
	if h.cfg.FitWeights {
		ts = raw
	} else {
		// Sign convention: underfluctuations fitted with negative n_s are
		// recorded as negative test statistics.
		switch {
		case vals[0] > 0:
			ts = raw
		case vals[0] < 0:
			ts = -raw
		}
	}

	return results.TrialResult{TS: ts, Params: vals, Flag: flag}, nil
}

// Run performs a batch of trials at one flux scale. Trial t draws from
// an independent PCG stream (seed, t), so batches are reproducible and
// trials independent.
func (h *Handler) Run(scale float64, nTrials int, seed uint64) (*results.Batch, error) {
	batch := results.NewBatch(h.cfg.Name, scale, seed, h.setup.Names)
	monitoring.Logf("minimisation: %s: running %d trials at scale %v (expectation %.3f events)",
		h.cfg.Name, nTrials, scale, h.Expectation(scale))

	for t := 0; t < nTrials; t++ {
		src := rand.NewPCG(seed, uint64(t))

		if h.cfg.FlareSearch {
			tr, flares, err := h.runFlareTrial(scale, src)
			if err != nil {
				return nil, err
			}
			batch.Trials = append(batch.Trials, tr)
			batch.Flares = append(batch.Flares, flares)
			continue
		}

		tr, err := h.runTrial(scale, src)
		if err != nil {
			return nil, err
		}
		batch.Trials = append(batch.Trials, tr)
	}

	s := results.Summarize(batch)
	monitoring.Logf("minimisation: %s: scale %v: mean TS %.4f, median %.4f, std %.4f, %d trials",
		h.cfg.Name, scale, s.MeanTS, s.MedianTS, s.StdDevTS, s.N)
	return batch, nil
}

// IterateRun produces the batches a sensitivity curve is built from: one
// large background-only batch, then one batch per flux step up to scale.
// Every batch is saved under outDir as it completes.
func (h *Handler) IterateRun(outDir string, scale float64, nSteps, nTrials int, seed uint64) error {
	if nSteps < 2 {
		return fmt.Errorf("minimisation: need at least 2 scale steps, got %d", nSteps)
	}

	batch, err := h.Run(0, nTrials*10, seed)
	if err != nil {
		return err
	}
	if err := results.Save(outDir, batch); err != nil {
		return err
	}

	for _, step := range interpolate.Linspace(0, scale, nSteps)[1:] {
		batch, err := h.Run(step, nTrials, seed)
		if err != nil {
			return err
		}
		if err := results.Save(outDir, batch); err != nil {
			return err
		}
	}
	return nil
}

// ParamScan is the likelihood profile along one parameter, all others
// held at the best fit.
type ParamScan struct {
	Name string
	Best []float64
	X    []float64
	// NegTS holds -TS at each X, so the best fit is the minimum.
	NegTS []float64
}

// ScanLikelihood draws a single trial at the given scale, fits it, and
// profiles the objective along each parameter around the best fit. The
// scan range is the parameter bounds clipped to [-100, 100].
func (h *Handler) ScanLikelihood(scale float64, src rand.Source) ([]ParamScan, error) {
	if h.cfg.FlareSearch {
		return nil, fmt.Errorf("minimisation: likelihood scan is not defined for flare searches")
	}

	ctxs, err := h.drawContexts(scale, src)
	if err != nil {
		return nil, err
	}
	f := h.objective(ctxs)
	g := func(params []float64) float64 { return -f(params) }
	best, _ := h.fit(f)

	const scanPoints = 100
	scans := make([]ParamScan, len(best))
	for i := range best {
		lo := math.Max(h.setup.Lower[i], -100)
		hi := math.Min(h.setup.Upper[i], 100)

		scan := ParamScan{
			Name: h.setup.Names[i],
			Best: append([]float64(nil), best...),
			X:    interpolate.Linspace(lo, hi, scanPoints),
		}
		point := append([]float64(nil), best...)
		minVal, minX := math.Inf(1), lo
		for _, x := range scan.X {
			point[i] = x
			v := g(point)
			scan.NegTS = append(scan.NegTS, v)
			if v < minVal {
				minVal, minX = v, x
			}
		}
		monitoring.Logf("minimisation: %s: scan of %s: minimum %.4f at %.4f",
			h.cfg.Name, scan.Name, minVal, minX)
		scans[i] = scan
	}
	return scans, nil
}

// countInWindow counts events with times inside [t0, t1], inclusive.
func countInWindow(data season.Dataset, t0, t1 float64) int {
	var n int
	for i := range data {
		if data[i].TimeMJD >= t0 && data[i].TimeMJD <= t1 {
			n++
		}
	}
	return n
}
