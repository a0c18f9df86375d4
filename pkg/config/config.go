// Package config loads the runtime configuration from YAML, expands
// environment variables, layers user values over built-in defaults, and
// validates the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/agentchain-dev/agentchain/pkg/event"
)

// Store backend names accepted in the store: key.
const (
	StoreFS       = "fs"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Sentinel errors for load failures.
var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidYAML    = errors.New("invalid YAML")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Config is the fully resolved runtime configuration.
type Config struct {
	HTTPPort int    `yaml:"http_port"`
	DataDir  string `yaml:"data_dir"`

	// Store selects the persistence backend: fs, memory or postgres.
	Store       string `yaml:"store"`
	DatabaseURL string `yaml:"database_url"`

	// DebounceWindow and TurnTimeout are duration strings ("100ms", "2m").
	// TurnTimeout empty or "0" means unbounded turns.
	DebounceWindow string `yaml:"debounce_window"`
	TurnTimeout    string `yaml:"turn_timeout"`

	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// SystemPrompt seeds fresh agent logs. Empty means no SystemPromptEvent.
	SystemPrompt string `yaml:"system_prompt"`

	LLM *event.LLMConfig `yaml:"llm"`
}

func defaults() Config {
	return Config{
		HTTPPort:         8080,
		DataDir:          "./data",
		Store:            StoreFS,
		DebounceWindow:   "100ms",
		TurnTimeout:      "0",
		SubscriberBuffer: 256,
	}
}

// Load reads the YAML file at path, expands {{.ENV_VAR}} references, merges
// the result over built-in defaults and validates it. A missing file is an
// error; use Default for a config-less start.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	base := defaults()
	if err := mergo.Merge(&cfg, base); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	slog.Info("Configuration loaded", "path", path, "store", cfg.Store, "http_port", cfg.HTTPPort)
	return &cfg, nil
}

// Default returns the built-in configuration, used when no config file is
// given on the command line.
func Default() *Config {
	cfg := defaults()
	return &cfg
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("%w: http_port %d out of range", ErrInvalidConfig, c.HTTPPort)
	}
	switch c.Store {
	case StoreFS, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: store postgres requires database_url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	if _, err := c.ParseDebounceWindow(); err != nil {
		return fmt.Errorf("%w: debounce_window: %v", ErrInvalidConfig, err)
	}
	if _, err := c.ParseTurnTimeout(); err != nil {
		return fmt.Errorf("%w: turn_timeout: %v", ErrInvalidConfig, err)
	}
	if c.LLM != nil && c.LLM.Model == "" {
		return fmt.Errorf("%w: llm config requires model", ErrInvalidConfig)
	}
	return nil
}

// ParseDebounceWindow returns the debounce window as a duration.
func (c *Config) ParseDebounceWindow() (time.Duration, error) {
	return parseDuration(c.DebounceWindow, 100*time.Millisecond)
}

// ParseTurnTimeout returns the turn timeout as a duration; zero means
// unbounded.
func (c *Config) ParseTurnTimeout() (time.Duration, error) {
	return parseDuration(c.TurnTimeout, 0)
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
