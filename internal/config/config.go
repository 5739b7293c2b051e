package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	CachePath string        `yaml:"cache_path"` // persistent address→model store
	Scan      ScanConfig    `yaml:"scan"`
	Session   SessionConfig `yaml:"session"`
	Battery   BatteryConfig `yaml:"battery"`
	LogLevel  string        `yaml:"log_level"`
}

// ScanConfig holds discovery settings.
type ScanConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// SessionConfig holds per-device session settings.
type SessionConfig struct {
	ConnectTimeout     Duration `yaml:"connect_timeout"`
	ReconnectTimeout   Duration `yaml:"reconnect_timeout"`
	MinCommandInterval Duration `yaml:"min_command_interval"`
	ResponseTimeout    Duration `yaml:"response_timeout"`
}

// BatteryConfig holds battery monitor settings.
type BatteryConfig struct {
	Monitor      bool     `yaml:"monitor"`
	PollInterval Duration `yaml:"poll_interval"`
}

// Duration is a time.Duration that YAML-round-trips in Go duration syntax
// ("100ms", "2m").
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "toylink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		CachePath: filepath.Join(DefaultConfigDir(), "devices.yaml"),
		Scan: ScanConfig{
			Timeout: Duration(5 * time.Second),
		},
		Session: SessionConfig{
			ConnectTimeout:     Duration(10 * time.Second),
			ReconnectTimeout:   Duration(10 * time.Second),
			MinCommandInterval: Duration(100 * time.Millisecond),
			ResponseTimeout:    Duration(2 * time.Second),
		},
		Battery: BatteryConfig{
			Monitor:      true,
			PollInterval: Duration(120 * time.Second),
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults. Tilde (~) in cache_path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.CachePath = expandTilde(cfg.CachePath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be > 0")
	}

	if c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("session.connect_timeout must be > 0")
	}
	if c.Session.ReconnectTimeout <= 0 {
		return fmt.Errorf("session.reconnect_timeout must be > 0")
	}
	if c.Session.MinCommandInterval <= 0 {
		return fmt.Errorf("session.min_command_interval must be > 0")
	}
	if c.Session.ResponseTimeout <= 0 {
		return fmt.Errorf("session.response_timeout must be > 0")
	}

	if c.Battery.Monitor && c.Battery.PollInterval <= 0 {
		return fmt.Errorf("battery.poll_interval must be > 0 when the monitor is on")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// WriteDefault writes the default config to the default path, creating the
// directory if needed. Returns the path written.
func WriteDefault() (string, error) {
	dir := DefaultConfigDir()
	if dir == "" {
		return "", fmt.Errorf("cannot determine config directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := DefaultConfigPath()
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
