// Package config provides configuration loading and management for synapseqc.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"synapseqc/internal/logging"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Dataset locations and the annotation grid to scan
	Dataset struct {
		// Path is the zarr container holding the annotated synapses
		Path string `yaml:"path"`

		// SourcePath is the directory holding one zarr container per source chunk
		SourcePath string `yaml:"sourcePath"`

		// Annotators lists the annotator tags to process
		Annotators []string `yaml:"annotators"`

		// MaxChunks is the number of chunk numbers scanned per annotator
		MaxChunks int `yaml:"maxChunks"`

		// SynapsesPerChunk is the number of synapses tiled into each chunk
		SynapsesPerChunk int `yaml:"synapsesPerChunk"`
	} `yaml:"dataset"`

	// Lookup tables mapping chunks to synapse IDs and IDs to neurotransmitters
	Lookup struct {
		FileToIDs string `yaml:"fileToIDs"`
		IDsToNT   string `yaml:"idsToNT"`
	} `yaml:"lookup"`

	// Annotation check parameters
	Checks struct {
		// DustThreshold is the largest voxel count still considered dust
		DustThreshold int `yaml:"dustThreshold"`

		// ExemptBackground excludes label 0 from the dust scan
		ExemptBackground bool `yaml:"exemptBackground"`

		// BackgroundWidth is the space between synapses in the source data
		BackgroundWidth int `yaml:"backgroundWidth"`

		// SnapshotDir receives PNG snapshots of flagged layers when set
		SnapshotDir string `yaml:"snapshotDir"`

		// SnapshotAxis is the axis snapshot planes are cut along: x, y or z
		SnapshotAxis string `yaml:"snapshotAxis"`
	} `yaml:"checks"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many synapses are processed concurrently
		NumCores int `yaml:"numCores"`

		// DuplicateSeed seeds the duplicate number assignment
		DuplicateSeed int64 `yaml:"duplicateSeed"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// RecordsFile is the JSON file the feature records are written to
		RecordsFile string `yaml:"recordsFile"`

		// DatabaseFile is an optional SQLite catalogue of the records
		DatabaseFile string `yaml:"databaseFile"`

		// GroupsFile is the JSON file the grouped features are written to
		GroupsFile string `yaml:"groupsFile"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	Logging logging.Config `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Dataset.Path = "../data/20210525.zarr"
	cfg.Dataset.SourcePath = "../data/source_data"
	cfg.Dataset.Annotators = []string{"c0", "c1", "c2"}
	cfg.Dataset.MaxChunks = 20
	cfg.Dataset.SynapsesPerChunk = 10

	cfg.Lookup.FileToIDs = "../data/source_data/file_to_ids.json"
	cfg.Lookup.IDsToNT = "../data/source_data/ids_to_nt.json"

	cfg.Checks.DustThreshold = 10
	cfg.Checks.ExemptBackground = false
	cfg.Checks.BackgroundWidth = 50
	cfg.Checks.SnapshotAxis = "z"

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.DuplicateSeed = 42

	cfg.Output.RecordsFile = "synapse_features.json"
	cfg.Output.GroupsFile = "grouped_features.json"
	cfg.Output.Verbose = false

	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 30

	return cfg
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if len(c.Dataset.Annotators) == 0 {
		return fmt.Errorf("dataset.annotators must not be empty")
	}
	if c.Dataset.MaxChunks < 0 {
		return fmt.Errorf("dataset.maxChunks must be non-negative, got %d", c.Dataset.MaxChunks)
	}
	if c.Dataset.SynapsesPerChunk <= 0 {
		return fmt.Errorf("dataset.synapsesPerChunk must be positive, got %d", c.Dataset.SynapsesPerChunk)
	}
	if c.Checks.DustThreshold < 0 {
		return fmt.Errorf("checks.dustThreshold must be non-negative, got %d", c.Checks.DustThreshold)
	}
	if c.Checks.BackgroundWidth < 0 {
		return fmt.Errorf("checks.backgroundWidth must be non-negative, got %d", c.Checks.BackgroundWidth)
	}
	switch c.Checks.SnapshotAxis {
	case "x", "y", "z":
	default:
		return fmt.Errorf("checks.snapshotAxis must be x, y or z, got %q", c.Checks.SnapshotAxis)
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("processing.numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	return nil
}

// LoggingConfig returns the logging section with the verbose flag applied
func (c *Config) LoggingConfig() logging.Config {
	lc := c.Logging
	lc.Verbose = c.Output.Verbose
	return lc
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
	return SaveConfig(DefaultConfig(), configPath)
}
