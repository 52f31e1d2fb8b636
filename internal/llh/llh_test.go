package llh

import (
	"math"
	"testing"

	"github.com/banshee-data/flarescan/internal/catalogue"
	"github.com/banshee-data/flarescan/internal/interpolate"
	"github.com/banshee-data/flarescan/internal/pdf"
	"github.com/banshee-data/flarescan/internal/season"
)

// flatSeason builds a 100-day season with a uniform background density in
// sin(dec): exp(rate) = 0.5 everywhere, so the spatial background PDF is
// the isotropic 1/(4 pi).
func flatSeason(t *testing.T) *season.Season {
	t.Helper()

	grid := interpolate.Linspace(-1, 1, 11)
	logDens := make([]float64, len(grid))
	for i := range logDens {
		logDens[i] = math.Log(0.5)
	}
	rate, err := interpolate.NewCubic1D(grid, logDens)
	if err != nil {
		t.Fatalf("NewCubic1D: %v", err)
	}
	return &season.Season{
		Name:           "flat",
		TStartMJD:      55000,
		TEndMJD:        55100,
		BackgroundRate: rate,
	}
}

func eventAt(ra, dec float64) season.Event {
	return season.Event{
		RA:      ra,
		Dec:     dec,
		SinDec:  math.Sin(dec),
		LogE:    3,
		Sigma:   0.01,
		TimeMJD: 55050,
	}
}

func spatialCfg() Config {
	return Config{Name: NameSpatial, TimePDF: pdf.TimeConfig{Name: pdf.TimeSteady}}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"spatial", spatialCfg(), true},
		{"spatial with energy", Config{
			Name:      NameSpatial,
			TimePDF:   pdf.TimeConfig{Name: pdf.TimeSteady},
			EnergyPDF: &pdf.EnergyConfig{Name: pdf.EnergyPowerLaw, Gamma: 2},
		}, false},
		{"standard without energy", Config{
			Name:    NameStandard,
			TimePDF: pdf.TimeConfig{Name: pdf.TimeSteady},
		}, false},
		{"unknown", Config{Name: "bayesian", TimePDF: pdf.TimeConfig{Name: pdf.TimeSteady}}, false},
		{"empty", Config{}, false},
	}
	for _, c := range cases {
		err := c.cfg.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}

func TestSelectSpatiallyCoincidentWrapsRA(t *testing.T) {
	l, err := New(spatialCfg(), flatSeason(t), []catalogue.Source{{Name: "s", RA: 0.01, Dec: 0.3}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := &catalogue.Source{Name: "s", RA: 0.01, Dec: 0.3}

	data := season.Dataset{
		eventAt(2*math.Pi-0.005, 0.3), // just across the 0/2pi seam
		eventAt(0.02, 0.3),            // same side, close
		eventAt(math.Pi, 0.3),         // opposite side of the sky
		eventAt(0.01, 0.3+6*math.Pi/180), // outside the declination band
	}
	mask := l.SelectSpatiallyCoincident(data, src)
	want := []bool{true, true, false, false}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("mask[%d] = %v, want %v", i, mask[i], want[i])
		}
	}
}

func TestSelectSpatiallyCoincidentPolarBandCoversAllRA(t *testing.T) {
	l, err := New(spatialCfg(), flatSeason(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := &catalogue.Source{Name: "polar", RA: 0, Dec: math.Pi/2 - 0.01}

	// Near the pole the RA band saturates at the full circle.
	data := season.Dataset{
		eventAt(math.Pi, math.Pi/2-0.02),
		eventAt(3, math.Pi/2-0.05),
	}
	mask := l.SelectSpatiallyCoincident(data, src)
	for i, m := range mask {
		if !m {
			t.Errorf("polar event %d not selected", i)
		}
	}
}

func TestTestStatisticZeroAtZeroSignal(t *testing.T) {
	s := flatSeason(t)
	sources := []catalogue.Source{{Name: "s", RA: 1, Dec: 0.3}}
	l, err := New(spatialCfg(), s, sources)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := season.Dataset{
		eventAt(1, 0.3),
		eventAt(1.02, 0.31),
		eventAt(4, -0.5),
	}
	ctx, err := l.CreateContext(data)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if got := l.TestStatistic([]float64{0}, []float64{1}, ctx); got != 0 {
		t.Errorf("TS(0) = %v, want 0", got)
	}
}

func TestTestStatisticMatchesExplicitSum(t *testing.T) {
	s := flatSeason(t)
	sources := []catalogue.Source{{Name: "s", RA: 1, Dec: 0.3}}
	l, err := New(spatialCfg(), s, sources)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Offsets of a few sigma keep the SoB ratios moderate, so negative
	// signal strengths stay on the smooth branch.
	data := season.Dataset{
		eventAt(1, 0.34),
		eventAt(1, 0.26),
		eventAt(1.05, 0.3),
		eventAt(4, -0.5),
		eventAt(5, 0.9),
	}
	ctx, err := l.CreateContext(data)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if ctx.NAll != 5 || ctx.NCoincident != 3 {
		t.Fatalf("context counts = (%v, %v), want (5, 3)", ctx.NAll, ctx.NCoincident)
	}

	for _, ns := range []float64{-0.5, 0.7, 2} {
		var sum float64
		for _, sob := range ctx.SoBSpacetime[0] {
			sum += math.Log(1 + (ns/ctx.NAll)*(sob-1))
		}
		sum += (ctx.NAll - ctx.NCoincident) * math.Log1p(-ns/ctx.NAll)
		want := 2 * sum

		got := l.TestStatistic([]float64{ns}, []float64{1}, ctx)
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("TS(%v) = %v, want %v", ns, got, want)
		}
	}
}

func TestTestStatisticPositiveForStrongSignal(t *testing.T) {
	s := flatSeason(t)
	sources := []catalogue.Source{{Name: "s", RA: 1, Dec: 0.3}}
	l, err := New(spatialCfg(), s, sources)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Cluster right on top of the source plus isotropic dross.
	data := season.Dataset{
		eventAt(1, 0.3),
		eventAt(1.0005, 0.3002),
		eventAt(0.9995, 0.2999),
		eventAt(4, -0.5),
		eventAt(5, 0.9),
		eventAt(2.5, 0.1),
	}
	ctx, err := l.CreateContext(data)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if got := l.TestStatistic([]float64{3}, []float64{1}, ctx); got <= 0 {
		t.Errorf("TS with injected cluster = %v, want > 0", got)
	}
}

func TestTestStatisticPenaltyOnInvalidArgument(t *testing.T) {
	s := flatSeason(t)
	sources := []catalogue.Source{{Name: "s", RA: 1, Dec: 0.3}}
	l, err := New(spatialCfg(), s, sources)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// An in-band event far from the source has SoB near zero, so driving
	// n_s past nAll makes the likelihood argument non-positive.
	data := season.Dataset{eventAt(1.08, 0.3)}
	ctx, err := l.CreateContext(data)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	ns := 1.5
	got := l.TestStatistic([]float64{ns}, []float64{1}, ctx)
	want := 2 * (-50 + ns)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("penalized TS = %v, want %v", got, want)
	}
}

// quadCache builds an energy cache whose log ratios are quadratic in
// gamma, so the Taylor estimate should reproduce them exactly.
func quadCache(nEvents int, lo, hi float64) map[int][]float64 {
	cache := make(map[int][]float64)
	for k := season.GammaKey(lo); k <= season.GammaKey(hi); k++ {
		g := season.GammaFromKey(k)
		vals := make([]float64, nEvents)
		for i := range vals {
			a := float64(i + 1)
			vals[i] = 0.3*a - 0.2*a*g + 0.05*a*g*g
		}
		cache[k] = vals
	}
	return cache
}

func quadValue(i int, g float64) float64 {
	a := float64(i + 1)
	return 0.3*a - 0.2*a*g + 0.05*a*g*g
}

func TestEstimateEnergyWeightsExactAtSupportPoints(t *testing.T) {
	cache := quadCache(3, 1, 4)
	for _, g := range []float64{1, 1.5, 2, 3.3, 4} {
		got := EstimateEnergyWeights(g, cache)
		for i := range got {
			want := math.Exp(quadValue(i, g))
			if math.Abs(got[i]-want)/want > 1e-12 {
				t.Errorf("gamma %v event %d: %v, want %v", g, i, got[i], want)
			}
		}
	}
}

func TestEstimateEnergyWeightsQuadraticExactBetweenPoints(t *testing.T) {
	cache := quadCache(3, 1, 4)
	// A quadratic is reproduced exactly by a second-order expansion, so
	// off-support gammas must match too, including near the edges where
	// the expansion point shifts inward.
	for _, g := range []float64{1.03, 1.97, 2.51, 3.98} {
		got := EstimateEnergyWeights(g, cache)
		for i := range got {
			want := math.Exp(quadValue(i, g))
			if math.Abs(got[i]-want)/want > 1e-9 {
				t.Errorf("gamma %v event %d: %v, want %v", g, i, got[i], want)
			}
		}
	}
}

func TestEstimateEnergyWeightsClampsOutsideSupport(t *testing.T) {
	cache := quadCache(2, 2, 3)
	low := EstimateEnergyWeights(0.5, cache)
	atLow := EstimateEnergyWeights(2.0, cache)
	for i := range low {
		if low[i] != atLow[i] {
			t.Errorf("below-range gamma not clamped: %v vs %v", low[i], atLow[i])
		}
	}
}

// constGrid builds a (logE, sinDec) ratio grid whose value is c in every
// cell.
func constGrid(t *testing.T, c float64) *interpolate.Bilinear {
	t.Helper()
	logE := interpolate.Linspace(1, 10, 5)
	sinDec := interpolate.Linspace(-1, 1, 5)
	vals := make([][]float64, len(logE))
	for i := range vals {
		vals[i] = make([]float64, len(sinDec))
		for j := range vals[i] {
			vals[i][j] = c
		}
	}
	grid, err := interpolate.NewBilinear(logE, sinDec, vals)
	if err != nil {
		t.Fatalf("NewBilinear: %v", err)
	}
	return grid
}

// constGridSeason extends the flat season with constant energy-ratio
// grids (log ratio = c at every support point) and a flat acceptance, the
// minimum the energy-fit likelihood needs.
func constGridSeason(t *testing.T, c float64) *season.Season {
	t.Helper()
	s := flatSeason(t)

	s.EnergyRatios = make(map[int]*interpolate.Bilinear)
	for k := season.GammaKey(pdf.GammaLowerBound); k <= season.GammaKey(pdf.GammaUpperBound); k++ {
		s.EnergyRatios[k] = constGrid(t, c)
	}

	dec := interpolate.Linspace(-math.Pi/2, math.Pi/2, 5)
	gamma := interpolate.Linspace(pdf.GammaLowerBound, pdf.GammaUpperBound, 4)
	acc := make([][]float64, len(dec))
	for i := range acc {
		acc[i] = make([]float64, len(gamma))
		for j := range acc[i] {
			acc[i][j] = 1
		}
	}
	accGrid, err := interpolate.NewBilinear(dec, gamma, acc)
	if err != nil {
		t.Fatalf("NewBilinear: %v", err)
	}
	s.Acceptance = accGrid
	return s
}

func TestStandardDropsEnergyTermForNegativeSignal(t *testing.T) {
	const c = 0.4
	s := constGridSeason(t, c)
	sources := []catalogue.Source{{Name: "s", RA: 1, Dec: 0.3}}

	cfg := Config{
		Name:      NameStandard,
		TimePDF:   pdf.TimeConfig{Name: pdf.TimeSteady},
		EnergyPDF: &pdf.EnergyConfig{Name: pdf.EnergyPowerLaw, Gamma: 2},
	}
	l, err := New(cfg, s, sources)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.FitsEnergy() {
		t.Fatal("standard likelihood should fit energy")
	}

	data := season.Dataset{
		eventAt(1, 0.34),
		eventAt(1, 0.26),
		eventAt(4, -0.5),
	}
	ctx, err := l.CreateContext(data)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	check := func(ns float64, withEnergy bool) {
		var sum float64
		for _, sob := range ctx.SoBSpacetime[0] {
			if withEnergy {
				sob *= math.Exp(c)
			}
			sum += math.Log(1 + (ns/ctx.NAll)*(sob-1))
		}
		sum += (ctx.NAll - ctx.NCoincident) * math.Log1p(-ns/ctx.NAll)
		want := 2 * sum

		got := l.TestStatistic([]float64{ns, 2.7}, []float64{1}, ctx)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("ns %v: TS = %v, want %v (energy applied: %v)", ns, got, want, withEnergy)
		}
	}
	check(1.5, true)
	check(-0.3, false)
}

func TestStandardAcceptanceUsesFittedGamma(t *testing.T) {
	s := constGridSeason(t, 0)
	dec := interpolate.Linspace(-math.Pi/2, math.Pi/2, 5)
	gamma := interpolate.Linspace(pdf.GammaLowerBound, pdf.GammaUpperBound, 4)
	acc := make([][]float64, len(dec))
	for i := range acc {
		acc[i] = make([]float64, len(gamma))
		for j := range acc[i] {
			acc[i][j] = gamma[j] // acceptance grows with gamma
		}
	}
	grid, err := interpolate.NewBilinear(dec, gamma, acc)
	if err != nil {
		t.Fatalf("NewBilinear: %v", err)
	}
	s.Acceptance = grid

	cfg := Config{
		Name:      NameStandard,
		TimePDF:   pdf.TimeConfig{Name: pdf.TimeSteady},
		EnergyPDF: &pdf.EnergyConfig{Name: pdf.EnergyPowerLaw, Gamma: 2},
	}
	l, err := New(cfg, s, []catalogue.Source{{Name: "s", RA: 1, Dec: 0.3}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	src := &catalogue.Source{Name: "s", RA: 1, Dec: 0.3}
	a2 := l.Acceptance(src, []float64{1, 2.0})
	a35 := l.Acceptance(src, []float64{1, 3.5})
	if a35 <= a2 {
		t.Errorf("acceptance should follow the fitted index: %v <= %v", a35, a2)
	}
}

func TestSpatialAcceptanceTracksBackgroundRate(t *testing.T) {
	s := flatSeason(t)
	s.Exp = season.Dataset{eventAt(1, 0.3), eventAt(2, -0.2)}
	l, err := New(spatialCfg(), s, []catalogue.Source{{Name: "s", RA: 1, Dec: 0.3}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := &catalogue.Source{Name: "s", RA: 1, Dec: 0.3}
	want := 0.5 * float64(len(s.Exp))
	if got := l.Acceptance(src, nil); math.Abs(got-want) > 1e-9 {
		t.Errorf("Acceptance = %v, want %v", got, want)
	}
}
