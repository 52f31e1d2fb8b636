package minimisation

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/banshee-data/flarescan/internal/pdf"
	"github.com/banshee-data/flarescan/internal/results"
	"github.com/banshee-data/flarescan/internal/season"
)

// MinFlareSeconds is the shortest candidate flare window accepted, in
// livetime seconds (a quarter day).
const MinFlareSeconds = 0.25 * season.SecondsPerDay

// flareSeasonData is one season's source-coincident view of a trial.
type flareSeasonData struct {
	idx        int
	coincident season.Dataset
}

// maxFlareSeconds resolves the flare-length cap: the configured maximum
// if set, otherwise the full search window.
func (h *Handler) maxFlareSeconds(searchWindow float64) float64 {
	if d := h.cfg.LLH.TimePDF.MaxFlareDays; d > 0 {
		return d * season.SecondsPerDay
	}
	return searchWindow
}

// runFlareTrial performs one flare-search trial: per source, every pair
// of significant event times bounds a candidate window; the best window's
// test statistic is the source's contribution, and sources are summed
// into the stacked TS. Each source is minimised independently.
func (h *Handler) runFlareTrial(scale float64, src rand.Source) (results.TrialResult, []results.FlareResult, error) {
	datasets := make([]season.Dataset, len(h.seasons))
	for i := range h.seasons {
		data, err := h.seasons[i].generator.CreateDataset(scale, src)
		if err != nil {
			return results.TrialResult{}, nil, err
		}
		datasets[i] = data
	}

	var stacked float64
	var flares []results.FlareResult

	for j := range h.sources {
		source := &h.sources[j]

		// Collect source-coincident events and significant times across
		// seasons. Seasons with no coincident events take no part.
		var perSeason []flareSeasonData
		var allTimes []float64
		for i := range h.seasons {
			fl := h.seasons[i].flare
			spatial := fl.SelectSpatiallyCoincident(datasets[i], source)
			temporal := fl.SelectTimeCoincident(datasets[i], source)

			var coincident season.Dataset
			for k := range datasets[i] {
				if spatial[k] && temporal[k] {
					coincident = append(coincident, datasets[i][k])
				}
			}
			if len(coincident) == 0 {
				continue
			}
			allTimes = append(allTimes, fl.FindSignificantTimes(coincident, source)...)
			perSeason = append(perSeason, flareSeasonData{idx: i, coincident: coincident})
		}
		if len(allTimes) < 2 {
			continue
		}
		sort.Float64s(allTimes)

		var searchWindow float64
		for i := range h.seasons {
			searchWindow += pdf.SourceInjectionTime(h.timePDF(i), source)
		}
		maxFlare := h.maxFlareSeconds(searchWindow)

		bestTS := math.Inf(-1)
		var bestParams []float64
		var bestStart, bestEnd, bestLen float64

		for a := 0; a < len(allTimes); a++ {
			for b := a + 1; b < len(allTimes); b++ {
				t0, t1 := allTimes[a], allTimes[b]
				if t1 <= t0 {
					continue
				}

				var flareLen float64
				for i := range h.seasons {
					flareLen += h.timePDF(i).EffectiveInjectionTime(t0, t1)
				}
				if flareLen < MinFlareSeconds || flareLen > maxFlare {
					continue
				}

				// Accounts for the shorter flares fittable inside the
				// search window.
				marginalisation := 2 * math.Log(flareLen/maxFlare)

				var nAllSky int
				for i := range datasets {
					nAllSky += countInWindow(datasets[i], t0, t1)
				}
				if nAllSky == 0 {
					// The window endpoints are real event times, so the
					// window cannot be empty; if it is, the bookkeeping
					// above has corrupted the trial.
					return results.TrialResult{}, nil, fmt.Errorf(
						"minimisation: flare window [%v, %v] for source %s contains no sky events", t0, t1, source.Name)
				}

				var fns []func([]float64) float64
				for _, sd := range perSeason {
					if h.timePDF(sd.idx).EffectiveInjectionTime(t0, t1) <= 0 {
						continue
					}
					var subset season.Dataset
					for k := range sd.coincident {
						t := sd.coincident[k].TimeMJD
						if t >= t0 && t <= t1 {
							subset = append(subset, sd.coincident[k])
						}
					}
					nSeason := countInWindow(datasets[sd.idx], t0, t1)
					fn, err := h.seasons[sd.idx].flare.CreateFlareFunction(
						subset, source, float64(nAllSky), float64(nSeason))
					if err != nil {
						return results.TrialResult{}, nil, err
					}
					fns = append(fns, fn)
				}
				if len(fns) == 0 {
					continue
				}

				f := func(params []float64) float64 {
					ts := marginalisation
					for _, fn := range fns {
						ts += fn(params)
					}
					return ts
				}
				g := func(params []float64) float64 { return -f(params) }
				vals, _ := minimizeBounded(g, h.setup.Seeds, h.setup.Lower, h.setup.Upper)

				if ts := f(vals); ts > bestTS {
					bestTS = ts
					bestParams = vals
					bestStart, bestEnd = t0, t1
					bestLen = flareLen / season.SecondsPerDay
				}
			}
		}
		if math.IsInf(bestTS, -1) {
			// No valid window for this source; contributes nothing.
			continue
		}

		stacked += bestTS
		flares = append(flares, results.FlareResult{
			SourceName:     source.Name,
			TS:             bestTS,
			Params:         bestParams,
			WindowStartMJD: bestStart,
			WindowEndMJD:   bestEnd,
			WindowDays:     bestLen,
		})
	}

	return results.TrialResult{TS: stacked, Flag: results.FlagConverged}, flares, nil
}
