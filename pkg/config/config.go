package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
	BackendSim    = "sim"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

const (
	StreamLive    = "live"
	StreamBatched = "batched"
	StreamLatest  = "latest"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EEGBUDS_"

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"warn"`
	Backend        string        `yaml:"backend" default:"goble"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	Roles          int           `yaml:"roles" default:"2"`
	Left           string        `yaml:"left"`
	Right          string        `yaml:"right"`
	OutputFormat   string        `yaml:"output_format" default:"text"`
	StreamMode     string        `yaml:"stream_mode" default:"live"`
	StreamRate     time.Duration `yaml:"stream_rate" default:"1s"`
	RecordPath     string        `yaml:"record_path"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath is ~/.config/eegbuds/config.yaml, or "" when there is no home.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "eegbuds", "config.yaml")
}

// Load reads defaults, then the YAML file at path, then EEGBUDS_* overrides.
// An empty path falls back to DefaultPath and tolerates its absence; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file. A missing file is ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides fields from EEGBUDS_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LOG_LEVEL":     &c.LogLevel,
		"BACKEND":       &c.Backend,
		"LEFT":          &c.Left,
		"RIGHT":         &c.Right,
		"OUTPUT_FORMAT": &c.OutputFormat,
		"STREAM_MODE":   &c.StreamMode,
		"RECORD_PATH":   &c.RecordPath,
	}
	for key, dst := range str {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*time.Duration{
		"SCAN_TIMEOUT":    &c.ScanTimeout,
		"CONNECT_TIMEOUT": &c.ConnectTimeout,
		"STREAM_RATE":     &c.StreamRate,
	}
	for key, dst := range durations {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}

	if v, ok := lookup(EnvPrefix + "ROLES"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sROLES: %w", EnvPrefix, err)
		}
		c.Roles = n
	}
	return nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if !oneOf(c.Backend, BackendGoBLE, BackendTinyGo, BackendSim) {
		return fmt.Errorf("invalid backend %q (expected goble, tinygo or sim)", c.Backend)
	}
	if !oneOf(c.OutputFormat, FormatText, FormatJSON, FormatCSV) {
		return fmt.Errorf("invalid output format %q", c.OutputFormat)
	}
	if !oneOf(c.StreamMode, StreamLive, StreamBatched, StreamLatest) {
		return fmt.Errorf("invalid stream mode %q", c.StreamMode)
	}
	if c.Roles < 1 || c.Roles > 2 {
		return fmt.Errorf("roles must be 1 or 2, got %d", c.Roles)
	}
	if c.ScanTimeout <= 0 || c.ConnectTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.StreamMode != StreamLive && c.StreamRate <= 0 {
		return fmt.Errorf("stream rate must be positive for %s mode", c.StreamMode)
	}
	if c.Roles == 2 && c.Left != "" && c.Left == c.Right {
		return errors.New("left and right must be different earpieces")
	}
	return nil
}

// Level returns the parsed log level, InfoLevel when unparsable.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
