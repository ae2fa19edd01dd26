// Package config provides configuration loading and management for labelfusion.
// It handles loading configuration from YAML files and provides default values
// matching the command line defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"labelfusion/pkg/fusion"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Inputs names the list files of a run
	Inputs struct {
		// Images is the "<id> <file>" image list
		Images string `yaml:"images"`

		// Deformations is the "<moving> <fixed> <file>" deformation list
		Deformations string `yaml:"deformations"`

		// AtlasSegmentation is the label image of the atlas
		AtlasSegmentation string `yaml:"atlasSegmentation"`

		// AtlasID names the atlas; empty means the first listed image
		AtlasID string `yaml:"atlasID"`

		// SupportSamples optionally restricts pairwise evidence
		SupportSamples string `yaml:"supportSamples"`

		// MaxImages caps the number of images processed, 0 for all
		MaxImages int `yaml:"maxImages"`
	} `yaml:"inputs"`

	// Energy parameters
	Energy struct {
		// Metric is "sad" or "ncc"
		Metric string `yaml:"metric"`

		// Sigma is the intensity bandwidth of the SAD similarity
		Sigma float64 `yaml:"sigma"`

		// Radius is the NCC neighbourhood radius
		Radius int `yaml:"radius"`

		PairwiseWeight       float64 `yaml:"pairwiseWeight"`
		RegularizationWeight float64 `yaml:"regularizationWeight"`
		EdgeThreshold        float64 `yaml:"edgeThreshold"`

		// EdgeCountPenaltyWeight enables the connectivity penalty when > 0
		EdgeCountPenaltyWeight float64 `yaml:"edgeCountPenaltyWeight"`

		// EvaluateAtlas segments the atlas as well
		EvaluateAtlas bool `yaml:"evaluateAtlas"`
	} `yaml:"energy"`

	// Output parameters
	Output struct {
		// Dir is where segmentations are written
		Dir string `yaml:"dir"`

		// Format is the file extension of segmentations: png, tif or mgz
		Format string `yaml:"format"`

		// DebugDir receives similarity maps and warped atlases when set
		DebugDir string `yaml:"debugDir"`

		// Verbose controls the level of logging output
		Verbose int `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	p := fusion.DefaultParams()
	cfg.Energy.Metric = p.Metric.String()
	cfg.Energy.Sigma = p.Sigma
	cfg.Energy.Radius = p.Radius
	cfg.Energy.PairwiseWeight = p.PairwiseWeight
	cfg.Energy.RegularizationWeight = p.RegularizationWeight
	cfg.Energy.EdgeThreshold = p.EdgeThreshold
	cfg.Energy.EdgeCountPenaltyWeight = p.ConnectivityPenalty

	cfg.Output.Dir = "."
	cfg.Output.Format = "png"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
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

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Params converts the energy section to fusion parameters.
func (c *Config) Params() (fusion.Params, error) {
	metric, err := fusion.ParseMetric(c.Energy.Metric)
	if err != nil {
		return fusion.Params{}, err
	}
	return fusion.Params{
		Metric:               metric,
		Sigma:                c.Energy.Sigma,
		Radius:               c.Energy.Radius,
		PairwiseWeight:       c.Energy.PairwiseWeight,
		RegularizationWeight: c.Energy.RegularizationWeight,
		EdgeThreshold:        c.Energy.EdgeThreshold,
		ConnectivityPenalty:  c.Energy.EdgeCountPenaltyWeight,
		EvaluateAtlas:        c.Energy.EvaluateAtlas,
		MaxImages:            c.Inputs.MaxImages,
	}, nil
}

// Validate checks that a run can be started from the configuration.
func (c *Config) Validate() error {
	var missing []string
	if c.Inputs.Images == "" {
		missing = append(missing, "images")
	}
	if c.Inputs.Deformations == "" {
		missing = append(missing, "deformations")
	}
	if c.Inputs.AtlasSegmentation == "" {
		missing = append(missing, "atlasSegmentation")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing inputs %v", ErrInvalidConfig, missing)
	}

	switch c.Output.Format {
	case "png", "tif", "tiff", "mgh", "mgz":
	default:
		return fmt.Errorf("%w: unknown output format %q", ErrInvalidConfig, c.Output.Format)
	}

	p, err := c.Params()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
