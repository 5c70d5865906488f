// Package config provides configuration loading and management for
// histostack. It handles loading configuration from YAML files and provides
// the defaults the orchestrator falls back to when a project has not
// recorded its own values yet.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Graph controls neighbor-set construction and edge-weight shaping.
	Graph struct {
		// ZRange is the z-distance threshold a slide must exceed, in both
		// directions independently, before its neighbor set stops growing.
		ZRange float64 `yaml:"zRange"`

		// ZEpsilon shapes how strongly z-distance penalizes edge weight:
		// weight = (1 - normalized_metric) * (1 + ZEpsilon)^|dz|.
		ZEpsilon float64 `yaml:"zEpsilon"`
	} `yaml:"graph"`

	// Cache bounds the image cache.
	Cache struct {
		// MaxBytes is the byte cap on cache residency. 0 disables the cap.
		MaxBytes int64 `yaml:"maxBytes"`

		// MaxImages is the count cap on cache residency. 0 disables the cap.
		MaxImages int `yaml:"maxImages"`
	} `yaml:"cache"`

	// Engine holds parameters passed through to the external registration
	// engine, plus the metric-normalization convention it assumes.
	Engine struct {
		// ThreadCount is passed to Engine.ConfigThreads.
		ThreadCount int `yaml:"threadCount"`

		// NCCRadius is the metric radius used for pairwise registration.
		NCCRadius int `yaml:"nccRadius"`

		// MetricNormalizer is the engine-implementation convention that the
		// raw metric accumulator is divided by MetricNormalizer*n_components
		// to produce a "higher is better, <= 1" normalized metric. This is
		// surfaced as a config value rather than a hardcoded constant because
		// it documents an external convention, not a derived semantic.
		MetricNormalizer float64 `yaml:"metricNormalizer"`
	} `yaml:"engine"`

	// Refine controls the iterative coordinate-descent refinement schedule.
	Refine struct {
		// NAffine is the number of affine iterations in the schedule.
		NAffine int `yaml:"nAffine"`

		// NDeform is the number of deformable iterations following NAffine.
		NDeform int `yaml:"nDeform"`

		// WVolume is the fixed-image weight given to the volume slice versus
		// each resliced neighbor (which carries weight 1).
		WVolume float64 `yaml:"wVolume"`

		// Seed seeds the per-iteration slide shuffle. 0 means a fresh,
		// non-deterministic shuffle every run.
		Seed int64 `yaml:"seed"`
	} `yaml:"refine"`

	// Output controls file format and logging verbosity.
	Output struct {
		// DefaultImageExt is the extension used for resliced/extracted images
		// when a project is initialized without one.
		DefaultImageExt string `yaml:"defaultImageExt"`

		// Verbose is saved and loaded with the rest of the settings. No
		// stage reads it: progress logging is unconditional.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Graph.ZRange = 0
	cfg.Graph.ZEpsilon = 0.1

	cfg.Cache.MaxBytes = 0
	cfg.Cache.MaxImages = 20

	cfg.Engine.ThreadCount = 0
	cfg.Engine.NCCRadius = 2
	cfg.Engine.MetricNormalizer = -10000.0

	cfg.Refine.NAffine = 5
	cfg.Refine.NDeform = 5
	cfg.Refine.WVolume = 4.0
	cfg.Refine.Seed = 0

	cfg.Output.DefaultImageExt = "nii.gz"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// projectStore is the narrow slice of project.Store that config needs, kept
// local to avoid importing the project package (which would otherwise be a
// harmless but needless dependency in this direction).
type projectStore interface {
	Root() string
}

func settingsPath(store projectStore) string {
	return filepath.Join(store.Root(), "config", "settings.yaml")
}

// SaveConfigFile saves cfg as the project's settings file.
func SaveConfigFile(store projectStore, cfg *Config) error {
	return SaveConfig(cfg, settingsPath(store))
}

// LoadConfigFile loads the project's settings file, falling back to
// defaults if it has not been written yet.
func LoadConfigFile(store projectStore) (*Config, error) {
	return LoadConfig(settingsPath(store))
}
