// Package config loads the glancectl YAML configuration and builds the
// logger and component options from it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/glancectl/internal/ble"
	"github.com/chaz8081/glancectl/internal/clock"
)

// Config holds all application configuration.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Connection ConnectionConfig `yaml:"connection"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	LogLevel   string           `yaml:"log_level" default:"info"`
}

// DeviceConfig selects the clock.
type DeviceConfig struct {
	// Address is a MAC address on Linux or a CoreBluetooth UUID on macOS.
	// Empty means the first clock discovered is used.
	Address     string `yaml:"address"`
	Adapter     string `yaml:"adapter" default:"hci0"` // BlueZ controller
	AutoConnect bool   `yaml:"auto_connect" default:"true"`
}

// ConnectionConfig tunes the connection manager.
type ConnectionConfig struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"20s"`
	CommandTimeout   time.Duration `yaml:"command_timeout" default:"10s"`
	ImmediateRetries int           `yaml:"immediate_retries" default:"3"`
	MaxRetries       int           `yaml:"max_retries" default:"10"` // 0 retries forever
	AuthFailureLimit int           `yaml:"auth_failure_limit" default:"2"`
	BackoffMin       time.Duration `yaml:"backoff_min" default:"2s"`
	BackoffMax       time.Duration `yaml:"backoff_max" default:"5m"`
	BackoffJitter    float64       `yaml:"backoff_jitter" default:"0.2"`
	KeepAlive        time.Duration `yaml:"keepalive" default:"60s"`
	ScanTimeout      time.Duration `yaml:"scan_timeout" default:"10s"`
}

// DispatchConfig tunes the command dispatcher.
type DispatchConfig struct {
	WaitForConnection bool          `yaml:"wait_for_connection" default:"false"`
	WaitTimeout       time.Duration `yaml:"wait_timeout" default:"30s"`
	SettingsCacheTTL  time.Duration `yaml:"settings_cache_ttl" default:"60s"`
	BrightnessPreview time.Duration `yaml:"brightness_preview" default:"3s"`
	SplitLongText     bool          `yaml:"split_long_text" default:"false"`
}

// TelemetryConfig configures `glancectl serve`.
type TelemetryConfig struct {
	Listen      string        `yaml:"listen" default:"127.0.0.1:8765"`
	BatteryPoll time.Duration `yaml:"battery_poll" default:"15m"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "glancectl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with every default tag applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
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

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

const fileHeader = "# glancectl configuration. Durations use Go syntax (10s, 5m).\n"

// WriteDefault writes the default configuration to path unless a file is
// already there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return false, fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(fileHeader), data...), 0o644); err != nil {
		return false, fmt.Errorf("writing config file: %w", err)
	}
	return true, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if a := c.Device.Address; a != "" && !validAddress(a) {
		return fmt.Errorf("device.address must be a MAC address or UUID, got %q", a)
	}
	if c.Device.Adapter == "" {
		return fmt.Errorf("device.adapter must not be empty")
	}

	cc := c.Connection
	for name, d := range map[string]time.Duration{
		"connection.connect_timeout":  cc.ConnectTimeout,
		"connection.command_timeout":  cc.CommandTimeout,
		"connection.backoff_min":      cc.BackoffMin,
		"connection.backoff_max":      cc.BackoffMax,
		"connection.scan_timeout":     cc.ScanTimeout,
		"dispatch.wait_timeout":       c.Dispatch.WaitTimeout,
		"dispatch.settings_cache_ttl": c.Dispatch.SettingsCacheTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if cc.BackoffMax < cc.BackoffMin {
		return fmt.Errorf("connection.backoff_max (%s) must be >= backoff_min (%s)", cc.BackoffMax, cc.BackoffMin)
	}
	if cc.BackoffJitter < 0 || cc.BackoffJitter >= 1 {
		return fmt.Errorf("connection.backoff_jitter must be in [0,1), got %g", cc.BackoffJitter)
	}
	if cc.ImmediateRetries < 1 {
		return fmt.Errorf("connection.immediate_retries must be >= 1")
	}
	if cc.MaxRetries < 0 {
		return fmt.Errorf("connection.max_retries must be >= 0")
	}
	if cc.AuthFailureLimit < 1 {
		return fmt.Errorf("connection.auth_failure_limit must be >= 1")
	}
	if cc.KeepAlive < 0 {
		return fmt.Errorf("connection.keepalive must be >= 0")
	}
	if c.Dispatch.BrightnessPreview < 0 {
		return fmt.Errorf("dispatch.brightness_preview must be >= 0")
	}

	if c.Telemetry.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Telemetry.Listen); err != nil {
			return fmt.Errorf("telemetry.listen must be host:port, got %q", c.Telemetry.Listen)
		}
	}
	if c.Telemetry.BatteryPoll < 0 {
		return fmt.Errorf("telemetry.battery_poll must be >= 0")
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func validAddress(a string) bool {
	if _, err := net.ParseMAC(a); err == nil && len(a) == 17 {
		return true
	}
	// CoreBluetooth identifiers are UUIDs.
	if len(a) != 36 {
		return false
	}
	for i, r := range a {
		switch i {
		case 8, 13, 18, 23:
			if r != '-' {
				return false
			}
		default:
			if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
				return false
			}
		}
	}
	return true
}

func parseLevel(s string) (logrus.Level, error) {
	switch s {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return 0, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", s)
}

// NewLogger builds the application logger at the configured level.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}

// ManagerOptions translates the connection section. The pairing store is
// left for the caller to attach.
func (c *Config) ManagerOptions() ble.Options {
	cc := c.Connection
	return ble.Options{
		ConnectTimeout:   cc.ConnectTimeout,
		CommandTimeout:   cc.CommandTimeout,
		ImmediateRetries: cc.ImmediateRetries,
		MaxRetries:       cc.MaxRetries,
		AuthFailureLimit: cc.AuthFailureLimit,
		BackoffMin:       cc.BackoffMin,
		BackoffMax:       cc.BackoffMax,
		BackoffJitter:    cc.BackoffJitter,
		KeepAlive:        cc.KeepAlive,
		AutoConnect:      c.Device.AutoConnect,
	}
}

// ScanOptions translates the scan settings.
func (c *Config) ScanOptions() ble.ScanOptions {
	return ble.ScanOptions{Timeout: c.Connection.ScanTimeout}
}

// ClockOptions translates the dispatch section.
func (c *Config) ClockOptions() clock.Options {
	d := c.Dispatch
	return clock.Options{
		WaitForConnection: d.WaitForConnection,
		WaitTimeout:       d.WaitTimeout,
		SettingsCacheTTL:  d.SettingsCacheTTL,
		BrightnessPreview: d.BrightnessPreview,
		SplitLongText:     d.SplitLongText,
	}
}
