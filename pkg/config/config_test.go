package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestDefaultConfig verifies the reference defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Segmentation.SamplingPoints != 100 {
		t.Errorf("Expected 100 sampling points, got %d", cfg.Segmentation.SamplingPoints)
	}
	if cfg.Segmentation.ProbabilityThreshold != 0 {
		t.Errorf("Expected probability threshold 0, got %f", cfg.Segmentation.ProbabilityThreshold)
	}
	if cfg.Cleaning.Rounds != 5 {
		t.Errorf("Expected 5 cleaning rounds, got %d", cfg.Cleaning.Rounds)
	}
	if cfg.Cleaning.Threshold != 3 {
		t.Errorf("Expected cleaning threshold 3, got %f", cfg.Cleaning.Threshold)
	}
	if cfg.Cleaning.MinStreamlines != 20 {
		t.Errorf("Expected minimum 20 streamlines, got %d", cfg.Cleaning.MinStreamlines)
	}
	if cfg.Cleaning.Statistic != "mean" {
		t.Errorf("Expected mean statistic, got %q", cfg.Cleaning.Statistic)
	}
	if cfg.Recognition.ReductionThreshold != 10 || cfg.Recognition.PruningThreshold != 6 {
		t.Errorf("Wrong recognition thresholds: %f, %f",
			cfg.Recognition.ReductionThreshold, cfg.Recognition.PruningThreshold)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("Defaults should validate, got %v", err)
	}
}

// TestLoadConfigMissingFile verifies a non-existent path yields defaults
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	def := DefaultConfig()
	if *cfg != *def {
		t.Error("Missing file should load the defaults")
	}
}

// TestSaveLoadRoundTrip verifies saved configuration loads back intact
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Segmentation.ProbabilityThreshold = 0.25
	cfg.Segmentation.ResamplePoints = 64
	cfg.Cleaning.Statistic = "median"
	cfg.Cleaning.LegacyTriangularCovariance = true
	cfg.Recognition.PruningThreshold = 4.5
	cfg.Output.Verbose = true

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("Round trip mismatch:\nsaved  %+v\nloaded %+v", cfg, loaded)
	}
}

// TestLoadConfigPartialFile verifies unspecified fields keep their defaults
func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "cleaning:\n  threshold: 2.5\n  statistic: median\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Cleaning.Threshold != 2.5 {
		t.Errorf("Expected threshold 2.5, got %f", cfg.Cleaning.Threshold)
	}
	if cfg.Cleaning.Statistic != "median" {
		t.Errorf("Expected median statistic, got %q", cfg.Cleaning.Statistic)
	}
	if cfg.Cleaning.Rounds != 5 {
		t.Errorf("Unspecified rounds should stay 5, got %d", cfg.Cleaning.Rounds)
	}
	if cfg.Segmentation.SamplingPoints != 100 {
		t.Errorf("Unspecified sampling points should stay 100, got %d", cfg.Segmentation.SamplingPoints)
	}
}

// TestLoadConfigValidation verifies bad values are rejected
func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad statistic", "cleaning:\n  statistic: mode\n", "statistic"},
		{"sampling points too small", "segmentation:\n  samplingPoints: 1\n", "samplingPoints"},
		{"cleaning points too small", "cleaning:\n  nPoints: 0\n", "nPoints"},
		{"malformed yaml", "cleaning: [broken\n", "parsing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Error %q should mention %q", err, tc.want)
			}
		})
	}
}
