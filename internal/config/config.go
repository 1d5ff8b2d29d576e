package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Scan       ScanConfig       `yaml:"scan"`
	Connection ConnectionConfig `yaml:"connection"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Retry      RetryConfig      `yaml:"retry"`
	LogLevel   string           `yaml:"log_level"`
}

// DeviceConfig identifies the amp.
type DeviceConfig struct {
	// Address connects straight to a known peer and skips scanning when set.
	Address     string `yaml:"address"`
	AddressKind string `yaml:"address_kind"` // "public" or "random"
}

// ScanConfig holds advertisement scanning settings.
type ScanConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
	Window   time.Duration `yaml:"window"`
	Active   bool          `yaml:"active"`
}

// ConnectionConfig holds the GATT connection parameters.
type ConnectionConfig struct {
	MinInterval        time.Duration `yaml:"min_interval"`
	MaxInterval        time.Duration `yaml:"max_interval"`
	Latency            uint16        `yaml:"latency"`
	SupervisionTimeout time.Duration `yaml:"supervision_timeout"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// ExchangeConfig controls what the session sends once subscribed.
type ExchangeConfig struct {
	// Presets are cycled through in order; empty disables the rotation.
	Presets         []int         `yaml:"presets"`
	PresetInterval  time.Duration `yaml:"preset_interval"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	StatusQueueSize int           `yaml:"status_queue_size"`
}

// RetryConfig bounds retries of transport operations.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sparkctl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			AddressKind: "random",
		},
		Scan: ScanConfig{
			Timeout:  30 * time.Second,
			Interval: time.Second,
			Window:   time.Second,
			Active:   true,
		},
		Connection: ConnectionConfig{
			MinInterval:        40 * time.Millisecond,
			MaxInterval:        40 * time.Millisecond,
			Latency:            5,
			SupervisionTimeout: 10 * time.Second,
			ConnectTimeout:     15 * time.Second,
		},
		Exchange: ExchangeConfig{
			Presets:         []int{1, 2, 3, 4},
			PresetInterval:  2 * time.Second,
			InitialDelay:    4 * time.Second,
			StatusQueueSize: 40,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			MaxBackoff:  30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Device.Address = strings.TrimSpace(cfg.Device.Address)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath, creating the
// directory if needed. If a config file already exists it returns ("", nil)
// and leaves the file untouched.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	data = append([]byte(defaultHeader), data...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

const defaultHeader = `# sparkctl configuration
# device.address: connect to this peer directly instead of scanning.
# exchange.presets: hardware preset slots (1-4) cycled after connecting.
`

// ParseLogLevel maps a log_level string to a slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Device.AddressKind {
	case "public", "random":
	default:
		return fmt.Errorf("device.address_kind must be \"public\" or \"random\", got %q", c.Device.AddressKind)
	}

	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be > 0")
	}
	if c.Scan.Window > c.Scan.Interval {
		return fmt.Errorf("scan.window (%s) must not exceed scan.interval (%s)", c.Scan.Window, c.Scan.Interval)
	}

	if c.Connection.MinInterval <= 0 || c.Connection.MaxInterval < c.Connection.MinInterval {
		return fmt.Errorf("connection intervals must satisfy 0 < min_interval <= max_interval")
	}
	if c.Connection.SupervisionTimeout <= 0 {
		return fmt.Errorf("connection.supervision_timeout must be > 0")
	}
	if c.Connection.ConnectTimeout <= 0 {
		return fmt.Errorf("connection.connect_timeout must be > 0")
	}

	for _, p := range c.Exchange.Presets {
		if p < 1 || p > 4 {
			return fmt.Errorf("exchange.presets entries must be 1-4, got %d", p)
		}
	}
	if len(c.Exchange.Presets) > 0 && c.Exchange.PresetInterval <= 0 {
		return fmt.Errorf("exchange.preset_interval must be > 0 when presets are set")
	}
	if c.Exchange.InitialDelay < 0 {
		return fmt.Errorf("exchange.initial_delay must be >= 0")
	}
	if c.Exchange.StatusQueueSize <= 0 {
		return fmt.Errorf("exchange.status_queue_size must be > 0")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.MaxBackoff <= 0 {
		return fmt.Errorf("retry.max_backoff must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
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
