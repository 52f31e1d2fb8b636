// Package results holds trial outcomes and their persistence: compressed
// gob batches on disk for cluster-style accumulation, and an optional
// sqlite store for querying across runs.
package results

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// Fit convergence flags recorded per trial.
const (
	FlagConverged = 0
	FlagFallback  = 1 // optimizer failed, grid fallback used
)

// TrialResult is the outcome of one trial: the test statistic and the
// best-fit parameter vector, in the order named by the batch.
type TrialResult struct {
	TS     float64
	Params []float64
	Flag   int
}

// FlareResult is the best window found for one source in one flare trial.
type FlareResult struct {
	SourceName string
	TS         float64
	Params     []float64
	// Best window bounds and length, MJD / days.
	WindowStartMJD float64
	WindowEndMJD   float64
	WindowDays     float64
}

// Batch is one process's worth of trials at a single flux scale and seed.
// Batches are written exactly once per (scale, seed) pair; concurrent
// processes must use distinct seeds.
type Batch struct {
	ID    uuid.UUID
	Name  string
	Scale float64
	Seed  uint64

	ParamNames []string
	Trials     []TrialResult

	// Flares holds per-source flare results keyed by trial index; empty
	// for non-flare analyses.
	Flares [][]FlareResult
}

// NewBatch labels a fresh batch.
func NewBatch(name string, scale float64, seed uint64, paramNames []string) *Batch {
	return &Batch{
		ID:         uuid.New(),
		Name:       name,
		Scale:      scale,
		Seed:       seed,
		ParamNames: paramNames,
	}
}

// ScaleKey formats a flux scale as a filesystem-safe directory name.
func ScaleKey(scale float64) string {
	return fmt.Sprintf("%.8g", scale)
}

// BatchPath is the canonical location of a batch under the output root:
// <root>/<name>/<scale>/<seed>.gob.gz.
func BatchPath(root string, b *Batch) string {
	return filepath.Join(root, b.Name, ScaleKey(b.Scale), fmt.Sprintf("%d.gob.gz", b.Seed))
}

// Save writes the batch as compressed gob under root, creating
// directories as needed.
func Save(root string, b *Batch) error {
	path := BatchPath(root, b)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("results: create %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("results: create %s: %w", path, err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if err := gob.NewEncoder(zw).Encode(b); err != nil {
		return fmt.Errorf("results: encode %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("results: close %s: %w", path, err)
	}
	return f.Close()
}

// Load reads one batch file.
func Load(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("results: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("results: decompress %s: %w", path, err)
	}
	defer zr.Close()

	var b Batch
	if err := gob.NewDecoder(zr).Decode(&b); err != nil {
		return nil, fmt.Errorf("results: decode %s: %w", path, err)
	}
	return &b, nil
}

// LoadAll reads every batch under <root>/<name>, across all scales and
// seeds.
func LoadAll(root, name string) ([]*Batch, error) {
	var batches []*Batch
	err := filepath.WalkDir(filepath.Join(root, name), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".gz" {
			return nil
		}
		b, err := Load(path)
		if err != nil {
			return err
		}
		batches = append(batches, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// Summary condenses a batch's test statistics.
type Summary struct {
	N        int
	MeanTS   float64
	StdDevTS float64
	MedianTS float64
	// FracPositive is the fraction of trials with TS > 0, the quantity a
	// background ensemble is judged by.
	FracPositive float64
}

// Summarize computes batch-level statistics over the trial TS values.
func Summarize(b *Batch) Summary {
	ts := make([]float64, len(b.Trials))
	var positive int
	for i, tr := range b.Trials {
		ts[i] = tr.TS
		if tr.TS > 0 {
			positive++
		}
	}
	if len(ts) == 0 {
		return Summary{}
	}

	mean, std := stat.MeanStdDev(ts, nil)
	sorted := append([]float64(nil), ts...)
	sort.Float64s(sorted)

	return Summary{
		N:            len(ts),
		MeanTS:       mean,
		StdDevTS:     std,
		MedianTS:     stat.Quantile(0.5, stat.Empirical, sorted, nil),
		FracPositive: float64(positive) / float64(len(ts)),
	}
}
