// Package config provides configuration loading and management for
// beamcombine. It handles the YAML defaults file and normalizes the
// measurement-group JSON accepted on the command line.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Cosmic-ray detection defaults, applied when the corresponding
	// command-line flags are not given
	Cosmic struct {
		// Sigma is the detection threshold in local standard deviations
		Sigma float64 `yaml:"sigma"`

		// WindowSize is the local-statistics neighborhood edge length
		WindowSize int `yaml:"windowSize"`

		// Iterations is the number of detection passes
		Iterations int `yaml:"iterations"`

		// MinIntensity is the floor below which pixels are never flagged
		MinIntensity float64 `yaml:"minIntensity"`
	} `yaml:"cosmic"`

	// Combination parameters
	Combine struct {
		// Workers is the number of combination units processed
		// concurrently; 1 selects the sequential mode
		Workers int `yaml:"workers"`
	} `yaml:"combine"`

	// Integration parameters for the external azimuthal integrator
	Integrate struct {
		// Command is the external integrator executable
		Command string `yaml:"command"`

		// Points is the number of points in the integrated curve
		Points int `yaml:"points"`
	} `yaml:"integrate"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level"`

		// Format is "text" or "json"
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Detection defaults follow the beamline's established settings:
	// conservative sigma, a window wide enough for diffraction features,
	// and a floor above the readout-noise region.
	cfg.Cosmic.Sigma = 6.0
	cfg.Cosmic.WindowSize = 11
	cfg.Cosmic.Iterations = 3
	cfg.Cosmic.MinIntensity = 50.0

	cfg.Combine.Workers = 1

	cfg.Integrate.Command = "pyfai-integrate1d"
	cfg.Integrate.Points = 500

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
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

// SaveConfig saves the configuration to a YAML file
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
