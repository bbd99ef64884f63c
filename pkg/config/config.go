// Package config provides configuration loading and management for
// tractoseg. It handles loading run parameters from YAML files and
// provides the standard defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the segmentation run configuration loaded from YAML.
type Config struct {
	// Segmentation parameters for the ROI-based classifier
	Segmentation struct {
		// ProbabilityThreshold is the mean bundle probability a
		// streamline must exceed to remain a candidate
		ProbabilityThreshold float64 `yaml:"probabilityThreshold"`

		// SamplingPoints is the node count used for probability sampling
		SamplingPoints int `yaml:"samplingPoints"`

		// ResamplePoints optionally resamples input streamlines before
		// segmentation; 0 disables it
		ResamplePoints int `yaml:"resamplePoints"`
	} `yaml:"segmentation"`

	// Cleaning parameters for Mahalanobis outlier removal
	Cleaning struct {
		// NPoints is the node count used for bundle statistics
		NPoints int `yaml:"nPoints"`

		// Rounds bounds the number of cleaning iterations
		Rounds int `yaml:"rounds"`

		// Threshold is the outlier cutoff in standard deviations
		Threshold float64 `yaml:"threshold"`

		// MinStreamlines is the bundle size below which cleaning is skipped
		MinStreamlines int `yaml:"minStreamlines"`

		// Statistic selects the per-node center: "mean" or "median"
		Statistic string `yaml:"statistic"`

		// LegacyTriangularCovariance reproduces the legacy
		// half-triangular covariance for numeric compatibility
		LegacyTriangularCovariance bool `yaml:"legacyTriangularCovariance"`
	} `yaml:"cleaning"`

	// Recognition parameters for the registration-based strategy
	Recognition struct {
		// ModelClusterThreshold bounds model bundle clustering
		ModelClusterThreshold float64 `yaml:"modelClusterThreshold"`

		// ReductionThreshold is the neighborhood cut distance
		ReductionThreshold float64 `yaml:"reductionThreshold"`

		// PruningThreshold is the final acceptance distance
		PruningThreshold float64 `yaml:"pruningThreshold"`

		// ClusterPoints is the node count for centroid comparisons
		ClusterPoints int `yaml:"clusterPoints"`
	} `yaml:"recognition"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with the standard defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Segmentation.ProbabilityThreshold = 0
	cfg.Segmentation.SamplingPoints = 100
	cfg.Segmentation.ResamplePoints = 0

	cfg.Cleaning.NPoints = 100
	cfg.Cleaning.Rounds = 5
	cfg.Cleaning.Threshold = 3
	cfg.Cleaning.MinStreamlines = 20
	cfg.Cleaning.Statistic = "mean"
	cfg.Cleaning.LegacyTriangularCovariance = false

	cfg.Recognition.ModelClusterThreshold = 5
	cfg.Recognition.ReductionThreshold = 10
	cfg.Recognition.PruningThreshold = 6
	cfg.Recognition.ClusterPoints = 20

	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

func (cfg *Config) validate() error {
	if s := cfg.Cleaning.Statistic; s != "mean" && s != "median" {
		return fmt.Errorf("invalid cleaning statistic %q, want mean or median", s)
	}
	if cfg.Segmentation.SamplingPoints < 2 {
		return fmt.Errorf("samplingPoints must be at least 2, got %d", cfg.Segmentation.SamplingPoints)
	}
	if cfg.Cleaning.NPoints < 2 {
		return fmt.Errorf("cleaning nPoints must be at least 2, got %d", cfg.Cleaning.NPoints)
	}
	return nil
}
