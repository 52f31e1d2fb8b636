// Command flarescan runs a point-source analysis described by a JSON
// config: it loads the season artifacts and the source catalogue,
// builds the trial handler, and produces sensitivity batches on disk.
// With a results database configured, the batches are also ingested
// into sqlite for querying.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/flarescan/internal/catalogue"
	"github.com/banshee-data/flarescan/internal/minimisation"
	"github.com/banshee-data/flarescan/internal/monitoring"
	"github.com/banshee-data/flarescan/internal/results"
	"github.com/banshee-data/flarescan/internal/season"
)

// analysisConfig is the on-disk description of one analysis run.
type analysisConfig struct {
	minimisation.Config

	// SeasonPaths lists the season artifact files, one per detector
	// season.
	SeasonPaths []string `json:"seasons"`

	// CataloguePath points at the source catalogue JSON.
	CataloguePath string `json:"catalogue"`

	// Scale is the largest flux scale of the sensitivity sweep, in the
	// injector's flux units.
	Scale  float64 `json:"scale"`
	Steps  int     `json:"steps"`
	Trials int     `json:"trials"`

	// OutputDir receives one batch file per (scale, seed).
	OutputDir string `json:"output_dir"`

	// ResultsDB is an optional sqlite path; when set, completed batches
	// are ingested after the run. The -db flag takes precedence.
	ResultsDB string `json:"results_db,omitempty"`
}

func loadAnalysisConfig(path string) (*analysisConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg analysisConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if len(cfg.SeasonPaths) == 0 {
		return nil, fmt.Errorf("config %s: no season artifacts listed", path)
	}
	if cfg.CataloguePath == "" {
		return nil, fmt.Errorf("config %s: no catalogue path", path)
	}
	if cfg.Scale <= 0 {
		return nil, fmt.Errorf("config %s: scale must be positive, got %v", path, cfg.Scale)
	}
	if cfg.Trials <= 0 {
		return nil, fmt.Errorf("config %s: trials must be positive, got %d", path, cfg.Trials)
	}
	if cfg.Steps < 2 {
		return nil, fmt.Errorf("config %s: need at least 2 scale steps, got %d", path, cfg.Steps)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "out"
	}

	// Relative artifact paths resolve against the config file, so a
	// config directory stays relocatable.
	base := filepath.Dir(path)
	for i, p := range cfg.SeasonPaths {
		if !filepath.IsAbs(p) {
			cfg.SeasonPaths[i] = filepath.Join(base, p)
		}
	}
	if !filepath.IsAbs(cfg.CataloguePath) {
		cfg.CataloguePath = filepath.Join(base, cfg.CataloguePath)
	}
	return &cfg, nil
}

// ingestBatches loads every saved batch for the analysis and inserts it
// into the sqlite store. Batches already present (same name, scale and
// seed) fail the unique constraint; reruns should use a fresh seed.
func ingestBatches(dbPath, migrationsDir string, cfg *analysisConfig) error {
	store, err := results.OpenStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.MigrateUp(migrationsDir); err != nil {
		return fmt.Errorf("migrating %s: %w", dbPath, err)
	}

	batches, err := results.LoadAll(cfg.OutputDir, cfg.Name)
	if err != nil {
		return err
	}
	for _, b := range batches {
		if err := store.InsertBatch(b); err != nil {
			return fmt.Errorf("ingesting batch %s (scale %v, seed %d): %w", b.ID, b.Scale, b.Seed, err)
		}
	}
	monitoring.Logf("flarescan: ingested %d batches into %s", len(batches), dbPath)
	return nil
}

func run(configPath, dbPath, migrationsDir string, seed uint64) error {
	cfg, err := loadAnalysisConfig(configPath)
	if err != nil {
		return err
	}

	seasons := make([]*season.Season, 0, len(cfg.SeasonPaths))
	for _, p := range cfg.SeasonPaths {
		s, err := season.LoadSeason(p)
		if err != nil {
			return fmt.Errorf("loading season %s: %w", p, err)
		}
		seasons = append(seasons, s)
		monitoring.Logf("flarescan: season %s: %d data events, %d MC events",
			s.Name, len(s.Exp), len(s.MC))
	}

	sources, err := catalogue.Load(cfg.CataloguePath)
	if err != nil {
		return err
	}
	monitoring.Logf("flarescan: catalogue %s: %d sources", cfg.CataloguePath, len(sources))

	h, err := minimisation.NewHandler(cfg.Config, seasons, sources)
	if err != nil {
		return err
	}
	monitoring.Logf("flarescan: %s: fitting %v, expectation %.3f events at full scale",
		cfg.Name, h.Setup().Names, h.Expectation(cfg.Scale))

	if err := h.IterateRun(cfg.OutputDir, cfg.Scale, cfg.Steps, cfg.Trials, seed); err != nil {
		return err
	}

	if dbPath == "" {
		dbPath = cfg.ResultsDB
	}
	if dbPath == "" {
		return nil
	}
	return ingestBatches(dbPath, migrationsDir, cfg)
}

func main() {
	var (
		configPath    = flag.String("config", "", "path to the analysis config JSON")
		dbPath        = flag.String("db", "", "sqlite results database (overrides the config's results_db)")
		migrationsDir = flag.String("migrations", "db/migrations", "path to the sqlite migrations")
		seed          = flag.Uint64("seed", 1, "base RNG seed for the trial streams")
	)
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: flarescan -config analysis.json [-db results.db] [-seed N]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(*configPath, *dbPath, *migrationsDir, *seed); err != nil {
		log.Fatalf("flarescan: %v", err)
	}
}
