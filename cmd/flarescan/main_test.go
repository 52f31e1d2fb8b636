package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "analysis.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadAnalysisConfigResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"name": "ps_tracks",
		"llh": {"name": "standard", "time_pdf": {"name": "steady"}},
		"injection": {
			"time_pdf": {"name": "steady"},
			"energy_pdf": {"name": "power_law", "gamma": 2.0}
		},
		"seasons": ["seasons/ic86_1.gob.gz", "/abs/ic86_2.gob.gz"],
		"catalogue": "catalogue.json",
		"scale": 5.0,
		"steps": 10,
		"trials": 100
	}`)

	cfg, err := loadAnalysisConfig(path)
	if err != nil {
		t.Fatalf("loadAnalysisConfig: %v", err)
	}
	if got, want := cfg.SeasonPaths[0], filepath.Join(dir, "seasons", "ic86_1.gob.gz"); got != want {
		t.Errorf("relative season path = %q, want %q", got, want)
	}
	if got := cfg.SeasonPaths[1]; got != "/abs/ic86_2.gob.gz" {
		t.Errorf("absolute season path rewritten to %q", got)
	}
	if got, want := cfg.CataloguePath, filepath.Join(dir, "catalogue.json"); got != want {
		t.Errorf("catalogue path = %q, want %q", got, want)
	}
	if cfg.OutputDir != "out" {
		t.Errorf("default output dir = %q, want out", cfg.OutputDir)
	}
}

func TestLoadAnalysisConfigRejectsBadRuns(t *testing.T) {
	cases := []struct {
		name                 string
		scale, steps, trials string
	}{
		{"zero scale", "0", "10", "100"},
		{"one step", "5", "1", "100"},
		{"zero trials", "5", "10", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			body := `{
		"name": "x",
		"seasons": ["s.gob.gz"],
		"catalogue": "c.json",
		"scale": ` + tc.scale + `,
		"steps": ` + tc.steps + `,
		"trials": ` + tc.trials + `
	}`
			path := writeConfig(t, dir, body)
			if _, err := loadAnalysisConfig(path); err == nil {
				t.Errorf("config with %s accepted", tc.name)
			}
		})
	}
}

func TestLoadAnalysisConfigRequiresInputs(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"name": "x", "scale": 5, "steps": 10, "trials": 100}`)
	if _, err := loadAnalysisConfig(path); err == nil {
		t.Error("config without seasons accepted")
	}

	path = writeConfig(t, dir, `{
		"name": "x", "seasons": ["s.gob.gz"], "scale": 5, "steps": 10, "trials": 100
	}`)
	if _, err := loadAnalysisConfig(path); err == nil {
		t.Error("config without catalogue accepted")
	}
}
