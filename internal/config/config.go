// Package config provides configuration for the generation bridge.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int `yaml:"http_port"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Run store
	StoreDriver      string        `yaml:"store_driver"`
	DatabaseURL      string        `yaml:"database_url"`
	MaxRuns          int           `yaml:"max_runs"`
	RunTTL           time.Duration `yaml:"run_ttl"`
	EvictionInterval time.Duration `yaml:"eviction_interval"`

	// Pipeline
	PipelineURL        string        `yaml:"pipeline_url"`
	PipelineTimeout    time.Duration `yaml:"pipeline_timeout"`
	MaxIterations      int           `yaml:"max_iterations"`
	DefaultIterations  int           `yaml:"default_iterations"`
	MaxSourceChars     int           `yaml:"max_source_chars"`
	OutputDir          string        `yaml:"output_dir"`
	SimulatedStepDelay time.Duration `yaml:"simulated_step_delay"`

	// DefaultAPIKey is used when the caller supplies no credential.
	DefaultAPIKey string `yaml:"-"`

	// Live channel
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	StreamPollInterval time.Duration `yaml:"stream_poll_interval"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
}

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:           8080,
		LogLevel:           "info",
		StoreDriver:        StoreMemory,
		DatabaseURL:        ":memory:",
		MaxRuns:            256,
		RunTTL:             time.Hour,
		EvictionInterval:   time.Minute,
		PipelineTimeout:    10 * time.Minute,
		MaxIterations:      3,
		DefaultIterations:  3,
		MaxSourceChars:     50000,
		OutputDir:          "outputs",
		KeepaliveInterval:  5 * time.Second,
		StreamPollInterval: 500 * time.Millisecond,
		WriteTimeout:       10 * time.Second,
	}
}

// Load loads configuration from defaults, an optional YAML file named by
// CONFIG_FILE, a .env file and the environment, in increasing precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// .env never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.HTTPPort = getEnvInt("PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MaxRuns = getEnvInt("MAX_RUNS", cfg.MaxRuns)
	cfg.RunTTL = getEnvDurationMs("RUN_TTL_MS", cfg.RunTTL)
	cfg.EvictionInterval = getEnvDurationMs("EVICTION_INTERVAL_MS", cfg.EvictionInterval)
	cfg.PipelineURL = getEnv("PIPELINE_URL", cfg.PipelineURL)
	cfg.PipelineTimeout = getEnvDurationMs("PIPELINE_TIMEOUT_MS", cfg.PipelineTimeout)
	cfg.MaxIterations = getEnvInt("MAX_ITERATIONS", cfg.MaxIterations)
	cfg.MaxSourceChars = getEnvInt("MAX_SOURCE_CHARS", cfg.MaxSourceChars)
	cfg.OutputDir = getEnv("OUTPUT_DIR", cfg.OutputDir)
	cfg.SimulatedStepDelay = getEnvDurationMs("SIM_STEP_DELAY_MS", cfg.SimulatedStepDelay)
	cfg.DefaultAPIKey = getEnv("GOOGLE_API_KEY", cfg.DefaultAPIKey)
	cfg.KeepaliveInterval = getEnvDurationMs("SSE_KEEPALIVE_MS", cfg.KeepaliveInterval)
	cfg.StreamPollInterval = getEnvDurationMs("STREAM_POLL_MS", cfg.StreamPollInterval)
	cfg.WriteTimeout = getEnvDurationMs("WS_WRITE_TIMEOUT_MS", cfg.WriteTimeout)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.DefaultIterations < 1 || c.DefaultIterations > c.MaxIterations {
		c.DefaultIterations = c.MaxIterations
	}
	if c.MaxRuns < 0 {
		return fmt.Errorf("max_runs must not be negative, got %d", c.MaxRuns)
	}
	if c.KeepaliveInterval <= 0 || c.StreamPollInterval <= 0 {
		return errors.New("stream intervals must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDurationMs(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
