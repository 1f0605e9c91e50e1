/*
PURPOSE:
  Defines the configuration structure and loading logic for detbench.
  Adheres to "Config IS Code" philosophy.

REQUIREMENTS:
  User-specified:
  - Seed, epochs, batch size, loader workers, validation fraction and
    logging interval of the benchmark.
  - Device selection and the number of visible accelerators.

  Implementation-discovered:
  - Needs to support YAML parsing.
  - Needs to support Environment variables overrides (DETBENCH_...), with a
    .env file loaded first.
  - Invalid values must fail before any run starts.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine
  - Dependencies: gopkg.in/yaml.v3, github.com/joho/godotenv

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - A missing default config file is not an error (defaults apply).
  - Validate reports every bad field at once.

IMPLEMENTATION RULES:
  - Config struct tags should support yaml.
  - Defaults mirror the measured setup: seed 123, 50 epochs, batch 128.

USAGE:
  cfg, err := config.Load("detbench.yaml")
  err = cfg.Validate()

SELF-HEALING INSTRUCTIONS:
  - If new fields are needed, add to Config struct, DefaultConfig() and Validate().

RELATED FILES:
  - internal/cli/root.go

MAINTENANCE:
  - Update applyEnv and Validate when adding fields.
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DETBENCH_"

// DefaultFiles are searched in order when no path is given.
var DefaultFiles = []string{"detbench.yaml", "detbench.yml", ".detbench.yaml"}

// Config represents the full configuration for detbench.
type Config struct {
	Seed               int64   `yaml:"seed"`
	NumEpochs          int     `yaml:"num_epochs"`
	BatchSize          int     `yaml:"batch_size"`
	NumWorkers         int     `yaml:"num_workers"`
	ValidationFraction float64 `yaml:"validation_fraction"`
	LoggingInterval    int     `yaml:"logging_interval"`
	LearningRate       float64 `yaml:"learning_rate"`

	// Model
	Grayscale bool `yaml:"grayscale"`
	Width     int  `yaml:"width"`
	// Layers overrides the [3, 4, 23, 3] block layout.
	Layers []int `yaml:"layers"`

	// Data
	DataDir        string `yaml:"data_dir"`
	SyntheticTrain int    `yaml:"synthetic_train"`
	SyntheticTest  int    `yaml:"synthetic_test"`

	// Backend
	Device         string `yaml:"device"`
	VisibleDevices int    `yaml:"visible_devices"`
	Lanes          int    `yaml:"lanes"`
	MemoryLimitMB  int64  `yaml:"memory_limit_mb"`
	TuneReps       int    `yaml:"tune_reps"`
	ClassHistogram bool   `yaml:"class_histogram"`

	// Reporting
	OutputDir   string  `yaml:"output_dir"`
	XLSX        bool    `yaml:"xlsx"`
	SpikeFactor float64 `yaml:"spike_factor"`
	VerifyRuns  int     `yaml:"verify_runs"`
	LogLevel    string  `yaml:"log_level"`
	LogJSON     bool    `yaml:"log_json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Seed:               123,
		NumEpochs:          50,
		BatchSize:          128,
		NumWorkers:         0,
		ValidationFraction: 0.1,
		LoggingInterval:    200,
		LearningRate:       0.001,
		Width:              64,
		SyntheticTrain:     5000,
		SyntheticTest:      1000,
		DataDir:            "data",
		Device:             "accel:0",
		VisibleDevices:     1,
		TuneReps:           2,
		OutputDir:          "results",
		XLSX:               true,
		SpikeFactor:        10,
		VerifyRuns:         2,
		LogLevel:           "info",
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches DefaultFiles in order.
// A .env file in the working directory and DETBENCH_* variables are applied
// on top of the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		for _, name := range DefaultFiles {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
		}
	}

	if path != "" {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Variables already in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from DETBENCH_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, v, err)
		}
		*dst = n
		return nil
	}

	if v, ok := lookup(EnvPrefix + "SEED"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sSEED=%q: %w", EnvPrefix, v, err)
		}
		c.Seed = n
	}
	if err := num("EPOCHS", &c.NumEpochs); err != nil {
		return err
	}
	if err := num("BATCH_SIZE", &c.BatchSize); err != nil {
		return err
	}
	if err := num("VISIBLE_DEVICES", &c.VisibleDevices); err != nil {
		return err
	}
	str("DEVICE", &c.Device)
	str("OUTPUT_DIR", &c.OutputDir)
	str("DATA_DIR", &c.DataDir)
	str("LOG_LEVEL", &c.LogLevel)
	return nil
}

// Validate rejects values no run can start with.
func (c *Config) Validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Seed < 0, "seed must be non-negative, got %d", c.Seed)
	check(c.NumEpochs <= 0, "num_epochs must be positive, got %d", c.NumEpochs)
	check(c.BatchSize <= 0, "batch_size must be positive, got %d", c.BatchSize)
	check(c.NumWorkers < 0, "num_workers must be non-negative, got %d", c.NumWorkers)
	check(c.ValidationFraction < 0 || c.ValidationFraction >= 1, "validation_fraction must be in [0,1), got %g", c.ValidationFraction)
	check(c.LoggingInterval <= 0, "logging_interval must be positive, got %d", c.LoggingInterval)
	check(c.LearningRate <= 0, "learning_rate must be positive, got %g", c.LearningRate)
	check(c.VisibleDevices < 0, "visible_devices must be non-negative, got %d", c.VisibleDevices)
	check(c.MemoryLimitMB < 0, "memory_limit_mb must be non-negative, got %d", c.MemoryLimitMB)
	check(c.SpikeFactor <= 1, "spike_factor must be greater than 1, got %g", c.SpikeFactor)
	check(c.VerifyRuns < 2, "verify_runs must be at least 2, got %d", c.VerifyRuns)
	check(strings.TrimSpace(c.Device) == "", "device must be set")
	for i, n := range c.Layers {
		check(n < 0, "layers[%d] must be non-negative, got %d", i, n)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
