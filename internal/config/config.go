package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all fincore configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Narrator (LLM) configuration
	Narrator NarratorConfig `yaml:"narrator"`

	// Policy rulebook location. Empty means built-in defaults.
	PolicyPath string `yaml:"policy_path"`

	// WatchPolicy enables hot reload of the policy file.
	WatchPolicy bool `yaml:"watch_policy"`

	// Engine settings
	Engine EngineConfig `yaml:"engine"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// NarratorConfig configures the LLM narration boundary. The narrator only
// renders prose around computed figures; with Enabled false (or no API key)
// the engine composes deterministic fallback answers instead.
type NarratorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// EngineConfig configures request orchestration.
type EngineConfig struct {
	RequestTimeout string `yaml:"request_timeout"`
	SlowThreshold  string `yaml:"slow_threshold"` // perf audit events past this are flagged slow
	MaxQueryLength int    `yaml:"max_query_length"`
}

// LoggingConfig configures the category logger. Field names must stay in
// sync with the logging package, which re-reads this section directly from
// the config file to avoid an import cycle.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "fincore",
		Version: "1.2.0",

		Narrator: NarratorConfig{
			Enabled:  false,
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  "45s",
		},

		PolicyPath:  "",
		WatchPolicy: false,

		Engine: EngineConfig{
			RequestTimeout: "60s",
			SlowThreshold:  "2s",
			MaxQueryLength: 4000,
		},

		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// DefaultHomePath returns the fincore home directory (~/.fincore).
func DefaultHomePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fincore"
	}
	return filepath.Join(home, ".fincore")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultHomePath(), "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Narrator API key (FINCORE_ prefix wins over the bare SDK variable)
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Narrator.APIKey = key
		c.Narrator.Enabled = true
	}
	if key := os.Getenv("FINCORE_GEMINI_API_KEY"); key != "" {
		c.Narrator.APIKey = key
		c.Narrator.Provider = "gemini"
		c.Narrator.Enabled = true
	}

	if model := os.Getenv("FINCORE_MODEL"); model != "" {
		c.Narrator.Model = model
	}

	if path := os.Getenv("FINCORE_POLICY_PATH"); path != "" {
		c.PolicyPath = path
	}

	if level := os.Getenv("FINCORE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if debug := os.Getenv("FINCORE_DEBUG"); debug == "1" || debug == "true" {
		c.Logging.DebugMode = true
	}
}

// GetNarratorTimeout returns the narration timeout as a duration.
func (c *Config) GetNarratorTimeout() time.Duration {
	d, err := time.ParseDuration(c.Narrator.Timeout)
	if err != nil {
		return 45 * time.Second
	}
	return d
}

// GetRequestTimeout returns the per-request timeout as a duration.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.RequestTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetSlowThreshold returns the slow-operation threshold as a duration.
func (c *Config) GetSlowThreshold() time.Duration {
	d, err := time.ParseDuration(c.Engine.SlowThreshold)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// ValidProviders lists all supported narration providers.
var ValidProviders = []string{"gemini"}

// ValidLogLevels lists accepted logging levels.
var ValidLogLevels = []string{"", "debug", "info", "warn", "warning", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Narrator.Enabled {
		if c.Narrator.APIKey == "" {
			return fmt.Errorf("narrator enabled but no API key configured (set GEMINI_API_KEY or FINCORE_GEMINI_API_KEY)")
		}

		validProvider := false
		for _, p := range ValidProviders {
			if c.Narrator.Provider == p {
				validProvider = true
				break
			}
		}
		if !validProvider {
			return fmt.Errorf("invalid narrator provider: %s (valid: %v)", c.Narrator.Provider, ValidProviders)
		}

		if c.Narrator.Model == "" {
			return fmt.Errorf("narrator enabled but no model configured")
		}
	}

	validLevel := false
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Engine.MaxQueryLength < 0 {
		return fmt.Errorf("max_query_length must not be negative")
	}

	return nil
}
