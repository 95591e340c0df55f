// Package config handles configuration loading, validation, and hot
// reloading for imbridge.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"imbridge/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// ErrUnsupportedFormat is returned when a configuration document is in
// none of the supported formats.
var ErrUnsupportedFormat = errors.New("config: unsupported format")

// Config holds the complete bridge configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Seat identifies the seat the bridge serves.
	Seat SeatConfig `toml:"seat" json:"seat" yaml:"seat"`

	// Keyboard holds the keymap and repeat settings sent to input methods.
	Keyboard KeyboardConfig `toml:"keyboard" json:"keyboard" yaml:"keyboard"`

	// InputMethod holds routing of applications to input methods.
	InputMethod InputMethodConfig `toml:"input_method" json:"input_method" yaml:"input_method"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration for the HTTP exposition endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Bus configuration for the D-Bus status object.
	Bus BusConfig `toml:"bus" json:"bus" yaml:"bus"`
}

// SeatConfig identifies a seat.
type SeatConfig struct {
	// Name is the seat name, as advertised by the compositor.
	Name string `toml:"name" json:"name" yaml:"name"`
}

// KeyboardConfig holds the keyboard state shared with input methods.
type KeyboardConfig struct {
	// KeymapPath is an XKB keymap in text form. Empty means no keymap is
	// sent.
	KeymapPath string `toml:"keymap_path" json:"keymap_path" yaml:"keymap_path"`

	// RepeatRate is key repeats per second. Zero disables repeat.
	RepeatRate int `toml:"repeat_rate" json:"repeat_rate" yaml:"repeat_rate"`

	// RepeatDelayMs is the delay before repeating starts.
	RepeatDelayMs int `toml:"repeat_delay_ms" json:"repeat_delay_ms" yaml:"repeat_delay_ms"`
}

// InputMethodConfig holds input-method routing.
type InputMethodConfig struct {
	// Bindings maps application ids to input-method routing ids. A
	// text-input whose client reports a bound app id is served by that
	// input method instead of the current one.
	Bindings map[string]string `toml:"bindings" json:"bindings" yaml:"bindings"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file used when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// LogText logs committed and preedit text verbatim. Off by default.
	LogText bool `toml:"log_text" json:"log_text" yaml:"log_text"`
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	// Enabled turns on the HTTP endpoint.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Listen is the host:port the endpoint binds to.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`

	// Path is the URL path metrics are served under.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// BusConfig holds the D-Bus status object configuration.
type BusConfig struct {
	// Enabled exports the seat status object.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Bus is session or system.
	Bus string `toml:"bus" json:"bus" yaml:"bus"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Seat: SeatConfig{
			Name: "seat0",
		},
		Keyboard: KeyboardConfig{
			RepeatRate:    25,
			RepeatDelayMs: 600,
		},
		InputMethod: InputMethodConfig{
			Bindings: map[string]string{},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(StateDir(), "imbridge.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
			Path:    "/metrics",
		},
		Bus: BusConfig{
			Enabled: false,
			Bus:     "session",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from path. A missing file yields the
// defaults. TOML, JSON, and YAML are selected by extension; other
// extensions are detected from content.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Decode(data, formatOf(path))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Decode parses data in format ("toml", "json", "yaml" or "" to detect)
// on top of the defaults.
func Decode(data []byte, format string) (*Config, error) {
	cfg := DefaultConfig()

	switch format {
	case "toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	case "":
		return autoDetect(data)
	default:
		return nil, fmt.Errorf("decode %q: %w", format, ErrUnsupportedFormat)
	}
	return cfg, nil
}

// autoDetect tries each format in turn, starting from fresh defaults so a
// failed attempt leaves nothing behind.
func autoDetect(data []byte) (*Config, error) {
	for _, format := range []string{"toml", "json", "yaml"} {
		if cfg, err := Decode(data, format); err == nil {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("tried TOML, JSON, YAML: %w", ErrUnsupportedFormat)
}

func formatOf(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml", ".json", ".yaml", ".yml":
		return ext[1:]
	default:
		return ""
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Variables are prefixed with IMBRIDGE_.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("IMBRIDGE_SEAT"); v != "" {
		c.Seat.Name = v
	}

	if v := os.Getenv("IMBRIDGE_KEYMAP"); v != "" {
		c.Keyboard.KeymapPath = v
	}
	if v := os.Getenv("IMBRIDGE_REPEAT_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Keyboard.RepeatRate = n
		}
	}
	if v := os.Getenv("IMBRIDGE_REPEAT_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Keyboard.RepeatDelayMs = n
		}
	}

	if v := os.Getenv("IMBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("IMBRIDGE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	if v := os.Getenv("IMBRIDGE_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
		c.Metrics.Enabled = true
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.InputMethod.Bindings = maps.Clone(c.InputMethod.Bindings)
	if clone.InputMethod.Bindings == nil {
		clone.InputMethod.Bindings = map[string]string{}
	}
	return &clone
}

// LoggerConfig converts the logging section for the logging package.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("logging.format: %w", err)
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	lc.LogText = c.Logging.LogText
	return lc, nil
}
