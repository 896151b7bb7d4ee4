package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/devicefactory"
	"github.com/srg/blerpc/internal/rpc"
	"github.com/srg/blerpc/internal/session"
	"github.com/srg/blerpc/pkg/client"
	"github.com/srg/blerpc/scanner"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel        string        `yaml:"log_level" default:"info"`
	Backend         string        `yaml:"backend" default:"goble"`
	ScanTimeout     time.Duration `yaml:"scan_timeout" default:"10s"`
	ScanWindow      time.Duration `yaml:"scan_window" default:"3s"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" default:"10s"`
	FragmentSize    int           `yaml:"fragment_size" default:"512"`
	MaxResponseSize int           `yaml:"max_response_size"`
	NamePrefix      string        `yaml:"name_prefix" default:"comma-"`
	VerifyMethod    string        `yaml:"verify_method" default:"getDeviceInfo"`
	StorePath       string        `yaml:"store_path"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.StorePath = DefaultStorePath()
	return cfg
}

// DefaultStorePath is where the last connected device is remembered.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "blerpc", "device.yaml")
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults. Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if !slices.Contains(devicefactory.BackendNames(), strings.ToLower(c.Backend)) {
		errs = append(errs, fmt.Errorf("backend: unknown %q (available: %s)",
			c.Backend, strings.Join(devicefactory.BackendNames(), ", ")))
	}
	if c.FragmentSize <= 0 || c.FragmentSize > rpc.DefaultFragmentSize {
		errs = append(errs, fmt.Errorf("fragment_size: must be in 1..%d, got %d", rpc.DefaultFragmentSize, c.FragmentSize))
	}
	if c.MaxResponseSize < 0 {
		errs = append(errs, fmt.Errorf("max_response_size: must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"scan_timeout":    c.ScanTimeout,
		"scan_window":     c.ScanWindow,
		"connect_timeout": c.ConnectTimeout,
		"request_timeout": c.RequestTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", name))
		}
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions maps the config onto session options.
func (c *Config) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.FragmentSize = c.FragmentSize
	opts.MaxResponseSize = c.MaxResponseSize
	opts.ConnectTimeout = c.ConnectTimeout
	opts.RequestTimeout = c.RequestTimeout
	return opts
}

// ClientOptions maps the config onto client options.
func (c *Config) ClientOptions() client.Options {
	opts := client.DefaultOptions()
	opts.Session = c.SessionOptions()
	opts.Scanner = scanner.DefaultOptions()
	opts.ScanWindow = c.ScanWindow
	opts.NamePrefix = c.NamePrefix
	opts.VerifyMethod = c.VerifyMethod
	opts.StorePath = c.StorePath
	return opts
}
