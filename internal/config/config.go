// ABOUTME: Configuration loading and parsing for agentdeck
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agentdeck configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	HITL     HITLConfig     `yaml:"hitl"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SweeperConfig holds timeout-decay timing configuration.
// The decay thresholds themselves (working->idle->offline) are fixed by the
// state machine; only the sweep cadence is tunable.
type SweeperConfig struct {
	Interval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	IntervalRaw string `yaml:"interval"`
}

// HITLConfig holds human-in-the-loop callback delivery configuration
type HITLConfig struct {
	CallbackTimeout time.Duration `yaml:"-"`

	CallbackTimeoutRaw string `yaml:"callback_timeout"`
}

// StreamConfig holds WebSocket stream configuration
type StreamConfig struct {
	// SnapshotLimit is how many recent events the initial snapshot carries
	SnapshotLimit int `yaml:"snapshot_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with working defaults so the server can
// start without a config file.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "localhost:4000"},
		Database: DatabaseConfig{Path: "events.db"},
		Sweeper:  SweeperConfig{Interval: 10 * time.Second},
		HITL:     HITLConfig{CallbackTimeout: 5 * time.Second},
		Stream:   StreamConfig{SnapshotLimit: 300},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Missing fields fall back to the Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero-valued fields that yaml.Unmarshal may have cleared
// when a section was present but a key was not.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = def.Server.HTTPAddr
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = def.Database.Path
	}
	if cfg.Sweeper.Interval == 0 {
		cfg.Sweeper.Interval = def.Sweeper.Interval
	}
	if cfg.HITL.CallbackTimeout == 0 {
		cfg.HITL.CallbackTimeout = def.HITL.CallbackTimeout
	}
	if cfg.Stream.SnapshotLimit == 0 {
		cfg.Stream.SnapshotLimit = def.Stream.SnapshotLimit
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = def.Metrics.Path
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Sweeper.Interval < time.Second {
		return fmt.Errorf("sweeper.interval must be at least 1s, got %s", c.Sweeper.Interval)
	}
	if c.Stream.SnapshotLimit < 0 {
		return fmt.Errorf("stream.snapshot_limit must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sweeper.IntervalRaw != "" {
		cfg.Sweeper.Interval, err = time.ParseDuration(cfg.Sweeper.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweeper interval %q: %w", cfg.Sweeper.IntervalRaw, err)
		}
	}

	if cfg.HITL.CallbackTimeoutRaw != "" {
		cfg.HITL.CallbackTimeout, err = time.ParseDuration(cfg.HITL.CallbackTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing hitl callback_timeout %q: %w", cfg.HITL.CallbackTimeoutRaw, err)
		}
	}

	return nil
}
