// Package config provides configuration loading and management for volumeview.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"volumeview/pkg/cropping"
	"volumeview/pkg/logging"
)

// Config represents the application configuration
type Config struct {
	// Logging selects the log destination and verbosity
	Logging logging.LogConfig `yaml:"logging" toml:"logging"`

	// Streaming parameters
	Loading struct {
		// SlabDepth is the number of k-slices decoded per slab
		SlabDepth int `yaml:"slabDepth" toml:"slab_depth"`

		// Workers specifies how many slabs are decoded in parallel
		Workers int `yaml:"workers" toml:"workers"`
	} `yaml:"loading" toml:"loading"`

	// Volume cache parameters
	Cache struct {
		// MaxBytes is the total footprint of cached volumes
		MaxBytes int64 `yaml:"maxBytes" toml:"max_bytes"`
	} `yaml:"cache" toml:"cache"`

	// Geometry parameters
	Geometry struct {
		// OrthonormalTolerance bounds how far the index axes may deviate from
		// an orthonormal frame before a transform is rejected
		OrthonormalTolerance float64 `yaml:"orthonormalTolerance" toml:"orthonormal_tolerance"`
	} `yaml:"geometry" toml:"geometry"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Logging.MaxSize = 500 // megabytes
	cfg.Logging.MaxAge = 30   // days

	cfg.Loading.SlabDepth = 8
	cfg.Loading.Workers = runtime.NumCPU() // Use all available cores by default

	cfg.Cache.MaxBytes = 1 << 30

	cfg.Geometry.OrthonormalTolerance = cropping.DefaultTolerance

	return cfg
}

// Validate checks the values are usable
func (c *Config) Validate() error {
	if c.Loading.SlabDepth <= 0 {
		return fmt.Errorf("loading.slabDepth must be positive, got %d", c.Loading.SlabDepth)
	}
	if c.Loading.Workers <= 0 {
		return fmt.Errorf("loading.workers must be positive, got %d", c.Loading.Workers)
	}
	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache.maxBytes must be positive, got %d", c.Cache.MaxBytes)
	}
	if c.Geometry.OrthonormalTolerance < 0 {
		return fmt.Errorf("geometry.orthonormalTolerance must not be negative, got %g", c.Geometry.OrthonormalTolerance)
	}
	return nil
}

func isTOML(configPath string) bool {
	return strings.EqualFold(filepath.Ext(configPath), ".toml")
}

// LoadConfig loads configuration from a YAML file, or a TOML file when the
// path ends in .toml. If the file doesn't exist, it returns the default
// configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	if isTOML(configPath) {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration, as TOML when the path ends in .toml
// and as YAML otherwise
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
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
