package season

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/flarescan/internal/interpolate"
)

// Artifact is the on-disk form of a season: raw grids rather than fitted
// interpolants, serialized as gzipped gob. The fitting pipelines that
// produce these files live outside this module; the analysis core only
// reads them back and rebuilds the interpolants.
type Artifact struct {
	Name    string
	TimeKey string

	TStartMJD float64
	TEndMJD   float64

	Exp Dataset
	MC  []MCEvent

	// Background rate table: log density vs sin(dec) grid points.
	SinDecGrid        []float64
	LogBackgroundRate []float64

	// Optional 2D acceptance table vs (dec, gamma).
	AccDecGrid   []float64
	AccGammaGrid []float64
	Acceptance   [][]float64

	// Optional per-gamma log(S/B)(logE, sinDec) grids, keyed by GammaKey.
	RatioLogEGrid   []float64
	RatioSinDecGrid []float64
	RatioValues     map[int][][]float64
}

// Season rebuilds the interpolants and returns a ready Season.
func (a *Artifact) Season() (*Season, error) {
	bg, err := interpolate.NewCubic1D(a.SinDecGrid, a.LogBackgroundRate)
	if err != nil {
		return nil, fmt.Errorf("season %s: background rate: %w", a.Name, err)
	}

	s := &Season{
		Name:           a.Name,
		TimeKey:        a.TimeKey,
		TStartMJD:      a.TStartMJD,
		TEndMJD:        a.TEndMJD,
		Exp:            a.Exp,
		MC:             a.MC,
		BackgroundRate: bg,
	}

	if len(a.AccDecGrid) > 0 {
		acc, err := interpolate.NewBilinear(a.AccDecGrid, a.AccGammaGrid, a.Acceptance)
		if err != nil {
			return nil, fmt.Errorf("season %s: acceptance: %w", a.Name, err)
		}
		s.Acceptance = acc
	}

	if len(a.RatioValues) > 0 {
		s.EnergyRatios = make(map[int]*interpolate.Bilinear, len(a.RatioValues))
		for key, values := range a.RatioValues {
			grid, err := interpolate.NewBilinear(a.RatioLogEGrid, a.RatioSinDecGrid, values)
			if err != nil {
				return nil, fmt.Errorf("season %s: energy ratio grid gamma=%.1f: %w", a.Name, GammaFromKey(key), err)
			}
			s.EnergyRatios[key] = grid
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WriteArtifact stores the artifact as gzipped gob at path, creating
// parent directories as needed.
func WriteArtifact(path string, a *Artifact) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("season: mkdir for %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("season: create %s: %w", path, err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if err := gob.NewEncoder(zw).Encode(a); err != nil {
		zw.Close()
		return fmt.Errorf("season: encode %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("season: close gzip %s: %w", path, err)
	}
	return f.Close()
}

// ReadArtifact loads an artifact written by WriteArtifact.
func ReadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("season: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("season: gzip %s: %w", path, err)
	}
	defer zr.Close()

	var a Artifact
	if err := gob.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("season: decode %s: %w", path, err)
	}
	return &a, nil
}

// LoadSeason reads an artifact and rebuilds its Season in one step.
func LoadSeason(path string) (*Season, error) {
	a, err := ReadArtifact(path)
	if err != nil {
		return nil, err
	}
	return a.Season()
}
