package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "5s" as well as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all daemon configuration.
type Config struct {
	// DataDir is where the plugin database and state live.
	DataDir string `yaml:"data_dir"`

	// WatchDir is the file tree the daemon watches and indexes.
	WatchDir string `yaml:"watch_dir"`

	Plugins PluginsConfig `yaml:"plugins"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// PluginsConfig tunes the plugin runtime.
type PluginsConfig struct {
	// Dir is the directory plugin packages are installed under. Packages
	// changed on disk are reloaded when watching is enabled.
	Dir string `yaml:"dir"`

	// WatchPackages reloads plugins whose package changes on disk.
	WatchPackages bool `yaml:"watch_packages"`

	MaxConcurrentInvocations int      `yaml:"max_concurrent_invocations"`
	InvocationTimeout        Duration `yaml:"invocation_timeout"`

	BreakerThreshold int      `yaml:"breaker_threshold"`
	BreakerWindow    Duration `yaml:"breaker_window"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the built-in defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:  filepath.Join(home, ".fathom"),
		WatchDir: home,
		Plugins: PluginsConfig{
			Dir:                      filepath.Join(home, ".fathom", "plugins"),
			WatchPackages:            true,
			MaxConcurrentInvocations: 4,
			InvocationTimeout:        Duration(5 * time.Second),
			BreakerThreshold:         5,
			BreakerWindow:            Duration(time.Minute),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9184",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config file at path (missing file is fine), applies
// FATHOM_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields from FATHOM_* environment variables.
func (c *Config) applyEnv() {
	c.DataDir = getEnv("FATHOM_DATA_DIR", c.DataDir)
	c.WatchDir = getEnv("FATHOM_WATCH_DIR", c.WatchDir)

	c.Plugins.Dir = getEnv("FATHOM_PLUGINS_DIR", c.Plugins.Dir)
	c.Plugins.WatchPackages = getEnvBool("FATHOM_PLUGINS_WATCH", c.Plugins.WatchPackages)
	c.Plugins.MaxConcurrentInvocations = getEnvInt("FATHOM_PLUGINS_MAX_CONCURRENT", c.Plugins.MaxConcurrentInvocations)
	c.Plugins.InvocationTimeout = Duration(getEnvDuration("FATHOM_PLUGINS_INVOCATION_TIMEOUT", c.Plugins.InvocationTimeout.Std()))
	c.Plugins.BreakerThreshold = getEnvInt("FATHOM_PLUGINS_BREAKER_THRESHOLD", c.Plugins.BreakerThreshold)
	c.Plugins.BreakerWindow = Duration(getEnvDuration("FATHOM_PLUGINS_BREAKER_WINDOW", c.Plugins.BreakerWindow.Std()))

	c.Metrics.Enabled = getEnvBool("FATHOM_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = getEnv("FATHOM_METRICS_ADDR", c.Metrics.Addr)

	c.Logging.Level = getEnv("FATHOM_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("FATHOM_LOG_FORMAT", c.Logging.Format)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Plugins.Dir == "" {
		return fmt.Errorf("plugins.dir is required")
	}
	if c.Plugins.MaxConcurrentInvocations <= 0 {
		return fmt.Errorf("plugins.max_concurrent_invocations must be positive")
	}
	if c.Plugins.InvocationTimeout <= 0 {
		return fmt.Errorf("plugins.invocation_timeout must be positive")
	}
	if c.Plugins.BreakerThreshold <= 0 {
		return fmt.Errorf("plugins.breaker_threshold must be positive")
	}
	if c.Plugins.BreakerWindow <= 0 {
		return fmt.Errorf("plugins.breaker_window must be positive")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// DatabasePath returns the plugin database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "plugins.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
