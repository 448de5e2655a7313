// Package config loads and validates the Omnidex configuration.
//
// Configuration is resolved in priority order, highest first:
//  1. Environment variables (OMNIDEX_*)
//  2. Config file (YAML)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/omnidex/omnidex/internal/errors"
)

// Config is the complete Omnidex configuration.
type Config struct {
	// IndexDir is the directory holding index segments and metadata.
	IndexDir string `yaml:"index_dir" json:"index_dir"`

	// MemoryBudgetMB bounds index writer memory.
	MemoryBudgetMB int `yaml:"memory_budget_mb" json:"memory_budget_mb"`

	// ResponseTargetMS is the query latency budget; breaches are counted
	// by the performance monitor, and the federation fan-out races it.
	ResponseTargetMS int `yaml:"response_target_ms" json:"response_target_ms"`

	// Workers is the indexing worker pool size.
	Workers int `yaml:"workers" json:"workers"`

	Features  FeatureConfig    `yaml:"features" json:"features"`
	Pipeline  PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	Providers []ProviderConfig `yaml:"providers" json:"providers"`
}

// FeatureConfig toggles optional engine behavior.
type FeatureConfig struct {
	Analytics   bool `yaml:"analytics" json:"analytics"`
	Suggestions bool `yaml:"suggestions" json:"suggestions"`
	Realtime    bool `yaml:"realtime" json:"realtime"`
}

// PipelineConfig tunes the real-time indexing pipeline.
type PipelineConfig struct {
	// QueueSize bounds the number of pending jobs.
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// BatchSize is the number of documents between intermediate commits.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// RetainJobs is how many terminal jobs to keep for audit.
	RetainJobs int `yaml:"retain_jobs" json:"retain_jobs"`
}

// ProviderConfig declares one external content source.
// Settings is an opaque blob interpreted by the provider implementation.
type ProviderConfig struct {
	ID           string            `yaml:"id" json:"id"`
	ProviderType string            `yaml:"provider_type" json:"provider_type"`
	Enabled      bool              `yaml:"enabled" json:"enabled"`
	Weight       float64           `yaml:"weight" json:"weight"`
	Settings     map[string]string `yaml:"settings" json:"settings"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		IndexDir:         defaultIndexDir(),
		MemoryBudgetMB:   256,
		ResponseTargetMS: 300,
		Workers:          defaultWorkers(),
		Features: FeatureConfig{
			Analytics:   true,
			Suggestions: true,
			Realtime:    false,
		},
		Pipeline: PipelineConfig{
			QueueSize:  1000,
			BatchSize:  100,
			RetainJobs: 100,
		},
	}
}

// Load reads configuration from the given path, applying defaults and
// environment overrides. A missing path returns defaults with overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.New(errors.ErrCodeConfigNotFound,
					fmt.Sprintf("config file not found: %s", path), err)
			}
			return nil, errors.ConfigError("cannot read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.ConfigError("invalid YAML in config file", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.IndexDir == "" {
		return errors.ConfigError("index_dir must not be empty", nil)
	}
	if c.MemoryBudgetMB <= 0 {
		return errors.ConfigError("memory_budget_mb must be positive", nil)
	}
	if c.ResponseTargetMS <= 0 {
		return errors.ConfigError("response_target_ms must be positive", nil)
	}
	if c.Workers <= 0 {
		return errors.ConfigError("workers must be positive", nil)
	}
	if c.Pipeline.BatchSize <= 0 {
		return errors.ConfigError("pipeline.batch_size must be positive", nil)
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return errors.ConfigError("provider id must not be empty", nil)
		}
		if p.ProviderType == "" {
			return errors.ConfigError(fmt.Sprintf("provider %s: provider_type must not be empty", p.ID), nil)
		}
		if _, dup := seen[p.ID]; dup {
			return errors.ConfigError(fmt.Sprintf("duplicate provider id: %s", p.ID), nil)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// ResponseTarget returns the latency budget as a duration.
func (c *Config) ResponseTarget() time.Duration {
	return time.Duration(c.ResponseTargetMS) * time.Millisecond
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.ConfigError("cannot marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.ConfigError("cannot create config directory", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides applies OMNIDEX_* environment variables on top of the
// loaded configuration. Invalid values are ignored in favor of the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OMNIDEX_INDEX_DIR"); v != "" {
		cfg.IndexDir = v
	}
	if v := os.Getenv("OMNIDEX_MEMORY_BUDGET_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MemoryBudgetMB = n
		}
	}
	if v := os.Getenv("OMNIDEX_RESPONSE_TARGET_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ResponseTargetMS = n
		}
	}
	if v := os.Getenv("OMNIDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("OMNIDEX_REALTIME"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Features.Realtime = b
		}
	}
	if v := os.Getenv("OMNIDEX_ANALYTICS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Features.Analytics = b
		}
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "omnidex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "omnidex", "config.yaml")
	}
	return filepath.Join(home, ".config", "omnidex", "config.yaml")
}

func defaultIndexDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".omnidex", "index")
	}
	return filepath.Join(home, ".omnidex", "index")
}

func defaultWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 2 {
		n = 2
	}
	return n
}
