// Package config provides configuration loading and management for buildingrecon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"buildingrecon/internal/models"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Tool describes the external reconstruction executable
	Tool ToolConfig `yaml:"tool"`

	// Pipeline controls how clusters are processed
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Repair controls the slice sequence repairer
	Repair RepairConfig `yaml:"repair"`

	// Log controls the structured logger
	Log LogConfig `yaml:"log"`
}

// ToolConfig describes the external reconstruction executable.
type ToolConfig struct {
	// Path of the executable. Relative paths are resolved against the
	// caller's working directory, not against Dir.
	Path string `yaml:"path"`

	// Dir is the working directory the tool runs in (its installation directory)
	Dir string `yaml:"dir"`

	// Timeout bounds a single invocation; zero means no limit
	Timeout time.Duration `yaml:"timeout"`

	// Retries is how many times a transient start failure is retried
	Retries int `yaml:"retries"`
}

// Validate validates the tool configuration.
func (c *ToolConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.Retries, validation.Min(0), validation.Max(10)),
	)
}

// PipelineConfig controls cluster processing.
type PipelineConfig struct {
	// Workers is the number of clusters processed at once; 1 is strictly sequential
	Workers int `yaml:"workers"`

	// FailFast aborts the whole run on the first metadata error
	FailFast bool `yaml:"fail_fast"`

	// SummaryFile is written into the output directory; empty disables it
	SummaryFile string `yaml:"summary_file"`
}

// Validate validates the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
	)
}

// RepairConfig controls the slice sequence repairer.
type RepairConfig struct {
	// IndexWidth is the zero-padding width of written slice names
	IndexWidth int `yaml:"index_width"`

	// Format is the image format of written slices
	Format string `yaml:"format"`
}

// Validate validates the repair configuration.
func (c *RepairConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IndexWidth, validation.Required, validation.Min(1), validation.Max(12)),
		validation.Field(&c.Format, validation.Required, validation.In("png", "jpg", "jpeg", "bmp", "tif", "tiff")),
	)
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  slog.Level `yaml:"level"`
	Format string     `yaml:"format"`
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.Required, validation.In(LogFormatText, LogFormatJSON)),
	)
}

// Validate validates the whole configuration.
func (c *Config) Validate() error {
	if err := c.Tool.Validate(); err != nil {
		return fmt.Errorf("tool: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Repair.Validate(); err != nil {
		return fmt.Errorf("repair: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// The tool ships in a "cgv" directory next to the data
	cfg.Tool.Path = "cgv/LEGO_NOGUI"
	cfg.Tool.Dir = "cgv"
	cfg.Tool.Timeout = 0
	cfg.Tool.Retries = 2

	cfg.Pipeline.Workers = 1
	cfg.Pipeline.FailFast = false
	cfg.Pipeline.SummaryFile = "reconstruction_summary.yaml"

	cfg.Repair.IndexWidth = models.DefaultIndexWidth
	cfg.Repair.Format = "png"

	cfg.Log.Level = slog.LevelInfo
	cfg.Log.Format = LogFormatText

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
// ${VAR} references in the file are expanded from the environment.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
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
