// Package config loads the prover service configuration from an optional
// YAML file, then environment variables. CLI flags are applied last by
// the caller.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/poam/internal/conformance"
	"github.com/roach88/poam/internal/filter"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid")

// Environment variables that override file values.
const (
	EnvListen     = "POAM_LISTEN"
	EnvDatabase   = "POAM_DATABASE"
	EnvKeySeedHex = "POAM_KEY_SEED_HEX"
	EnvWorkers    = "POAM_WORKERS"
	EnvPolicyDir  = "POAM_POLICY_DIR"
)

// Config holds configuration for the prover service.
type Config struct {
	// Server configuration
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`

	// Audit store; empty disables recording
	Database string `yaml:"database"`

	// Hex ed25519 seed of the local engine; random when empty
	KeySeedHex string `yaml:"key_seed_hex"`

	// Concurrent engine calls
	Workers int `yaml:"workers"`

	// Sizing of new chains' membership filters
	Filter conformance.FilterParams `yaml:"filter"`

	// Rule policies
	PolicyDir    string `yaml:"policy_dir"`
	RequireRules bool   `yaml:"require_rules"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Listen:          "127.0.0.1:8480",
		ShutdownTimeout: 10 * time.Second,
		RequestTimeout:  2 * time.Minute,
		Workers:         runtime.NumCPU(),
		Filter:          conformance.DefaultFilterParams(),
	}
}

// Load reads the YAML file at path over the defaults (skipped when path is
// empty), applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	if v := os.Getenv(EnvKeySeedHex); v != "" {
		c.KeySeedHex = v
	}
	if v := os.Getenv(EnvPolicyDir); v != "" {
		c.PolicyDir = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvWorkers, err)
		}
		c.Workers = n
	}
	return nil
}

// Validate rejects values the service cannot start with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.ShutdownTimeout < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	if c.Filter.Capacity == 0 {
		return fmt.Errorf("%w: filter.capacity must be positive", ErrInvalidConfig)
	}
	if r := c.Filter.FalsePositiveRate; r <= 0 || r >= 1 {
		return fmt.Errorf("%w: filter.false_positive_rate must be in (0,1), got %v", ErrInvalidConfig, r)
	}
	if _, err := filter.New(c.Filter.Capacity, c.Filter.FalsePositiveRate); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.KeySeedHex != "" {
		seed, err := hex.DecodeString(c.KeySeedHex)
		if err != nil || len(seed) != 32 {
			// The seed itself is never echoed.
			return fmt.Errorf("%w: key_seed_hex must be 64 hex characters", ErrInvalidConfig)
		}
	}
	return nil
}
