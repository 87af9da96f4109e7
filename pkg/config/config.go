package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/connector"
	"gopkg.in/yaml.v3"
)

// Frame output formats
const (
	FormatHex  = "hex"
	FormatRaw  = "raw"
	FormatNone = "none"
)

// Config holds application configuration
type Config struct {
	LogLevel  string   `yaml:"log_level" default:"info"`
	AllowList []string `yaml:"allow_list"`

	Scan     ScanConfig     `yaml:"scan"`
	Session  SessionConfig  `yaml:"session"`
	Output   OutputConfig   `yaml:"output"`
	Firmware FirmwareConfig `yaml:"firmware"`
}

// ScanConfig configures the discovery pass
type ScanConfig struct {
	Timeout     time.Duration `yaml:"timeout" default:"10s"`
	RemoveAfter time.Duration `yaml:"remove_after" default:"0s"`
	DropRemoved bool          `yaml:"drop_removed" default:"false"`
}

// SessionConfig holds the per-step deadlines of a device session
type SessionConfig struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"15s"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"5s"`
	RearmInterval    time.Duration `yaml:"rearm_interval" default:"0s"`
	FrameBuffer      uint32        `yaml:"frame_buffer" default:"256"`
}

// OutputConfig selects where frames go
type OutputConfig struct {
	Format string `yaml:"format" default:"hex"` // hex, raw, none
	PTY    bool   `yaml:"pty" default:"false"`
	// PTYLink is an optional stable symlink to the PTY slave
	PTYLink string `yaml:"pty_link"`
}

// FirmwareConfig configures the firmware downloader
type FirmwareConfig struct {
	CatalogURL string        `yaml:"catalog_url" default:"https://www.shearwater.com/updates/firmwareupdate.xml"`
	Dir        string        `yaml:"dir" default:"."`
	Timeout    time.Duration `yaml:"timeout" default:"100s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.AllowList = append([]string(nil), connector.DefaultAllowList...)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if len(cfg.AllowList) == 0 {
		cfg.AllowList = append([]string(nil), connector.DefaultAllowList...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	for i, name := range c.AllowList {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("allow_list[%d]: name cannot be empty", i))
		}
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"scan.timeout", c.Scan.Timeout},
		{"session.connect_timeout", c.Session.ConnectTimeout},
		{"session.discovery_timeout", c.Session.DiscoveryTimeout},
		{"session.write_timeout", c.Session.WriteTimeout},
		{"firmware.timeout", c.Firmware.Timeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", p.name))
		}
	}
	if c.Scan.RemoveAfter < 0 {
		errs = append(errs, fmt.Errorf("scan.remove_after cannot be negative"))
	}
	if c.Session.RearmInterval < 0 {
		errs = append(errs, fmt.Errorf("session.rearm_interval cannot be negative"))
	}
	if c.Session.FrameBuffer == 0 || c.Session.FrameBuffer > 64*1024 {
		errs = append(errs, fmt.Errorf("session.frame_buffer must be in 1..65536"))
	}

	switch c.Output.Format {
	case FormatHex, FormatRaw, FormatNone:
	default:
		errs = append(errs, fmt.Errorf("output.format %q: must be hex, raw or none", c.Output.Format))
	}
	if c.Output.PTYLink != "" && !c.Output.PTY {
		errs = append(errs, fmt.Errorf("output.pty_link requires output.pty"))
	}
	if c.Firmware.CatalogURL == "" {
		errs = append(errs, fmt.Errorf("firmware.catalog_url cannot be empty"))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
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

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
