// Package config handles configuration loading and management for foreman.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for foreman.
type Config struct {
	Organization string       `mapstructure:"organization"`
	Store        StoreConfig  `mapstructure:"store"`
	Brain        BrainConfig  `mapstructure:"brain"`
	Sweeps       SweepsConfig `mapstructure:"sweeps"`
	Gates        GatesConfig  `mapstructure:"gates"`
	Review       ReviewConfig `mapstructure:"review"`
}

// StoreConfig holds database settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// BrainConfig holds generation provider settings.
type BrainConfig struct {
	// APIKey is the Anthropic API key. ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// Model is the model identifier passed to the provider.
	Model string `mapstructure:"model"`
	// Timeout bounds a single generation call.
	Timeout time.Duration `mapstructure:"timeout"`
	// UseAWSBedrock routes calls through AWS Bedrock instead of the direct API.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the Bedrock region (e.g. "us-west-2").
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
	// DailyCostLimitCents caps spend per day; the quality gate fails any
	// single execution costing more than 10% of it.
	DailyCostLimitCents int64 `mapstructure:"daily_cost_limit_cents"`
}

// SweepConfig holds the cadence and batch cap for one polling sweep.
type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Batch    int           `mapstructure:"batch"`
}

// SweepsConfig holds the four automation sweeps.
type SweepsConfig struct {
	Decomposition SweepConfig `mapstructure:"decomposition"`
	Execution     SweepConfig `mapstructure:"execution"`
	ManagerReview SweepConfig `mapstructure:"manager_review"`
	TaskReview    SweepConfig `mapstructure:"task_review"`
}

// GatesConfig holds quality gate settings.
type GatesConfig struct {
	// Lint enables the external lint check over affected files.
	Lint bool `mapstructure:"lint"`
	// Typecheck enables the external type check over affected files.
	Typecheck bool `mapstructure:"typecheck"`
	// ToolTimeout bounds each external lint/typecheck process.
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
}

// ReviewConfig holds review cycle settings.
type ReviewConfig struct {
	// Precedence decides which layer acts first when both the worker
	// self-review and the manager review are configured for the same
	// task: "manager_first" or "worker_first".
	Precedence string `mapstructure:"precedence"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.foreman.yaml in current directory or parent)
// 3. User config (~/.config/foreman/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("brain.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Brain.APIKey = os.ExpandEnv(cfg.Brain.APIKey)
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath()
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Brain.APIKey = os.ExpandEnv(cfg.Brain.APIKey)
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath()
	}
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values. The sweep cadences are
// deliberately differential: decomposition gives fast feedback, execution
// and manager review share a cadence, task review is slowest because it
// must wait for execution artifacts to exist.
func setDefaults(v *viper.Viper) {
	v.SetDefault("organization", "default")

	v.SetDefault("store.path", "")

	v.SetDefault("brain.api_key", "")
	v.SetDefault("brain.model", "")
	v.SetDefault("brain.timeout", "5m")
	v.SetDefault("brain.use_aws_bedrock", false)
	v.SetDefault("brain.daily_cost_limit_cents", 10000)

	v.SetDefault("sweeps.decomposition.interval", "1m")
	v.SetDefault("sweeps.decomposition.batch", 10)
	v.SetDefault("sweeps.execution.interval", "2m")
	v.SetDefault("sweeps.execution.batch", 5)
	v.SetDefault("sweeps.manager_review.interval", "2m")
	v.SetDefault("sweeps.manager_review.batch", 5)
	v.SetDefault("sweeps.task_review.interval", "3m")
	v.SetDefault("sweeps.task_review.batch", 5)

	v.SetDefault("gates.lint", true)
	v.SetDefault("gates.typecheck", true)
	v.SetDefault("gates.tool_timeout", "5m")

	v.SetDefault("review.precedence", "manager_first")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Organization: "default",
		Store:        StoreConfig{Path: defaultStorePath()},
		Brain: BrainConfig{
			Timeout:             5 * time.Minute,
			DailyCostLimitCents: 10000,
		},
		Sweeps: SweepsConfig{
			Decomposition: SweepConfig{Interval: time.Minute, Batch: 10},
			Execution:     SweepConfig{Interval: 2 * time.Minute, Batch: 5},
			ManagerReview: SweepConfig{Interval: 2 * time.Minute, Batch: 5},
			TaskReview:    SweepConfig{Interval: 3 * time.Minute, Batch: 5},
		},
		Gates: GatesConfig{
			Lint:        true,
			Typecheck:   true,
			ToolTimeout: 5 * time.Minute,
		},
		Review: ReviewConfig{Precedence: "manager_first"},
	}
}

func defaultStorePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "foreman", "foreman.db")
}

// getUserConfigDir returns the XDG config directory for foreman.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "foreman")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foreman")
	}
	return filepath.Join(home, ".config", "foreman")
}

// findProjectConfig searches for .foreman.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".foreman.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}
