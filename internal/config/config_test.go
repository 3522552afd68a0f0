package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "hci0", cfg.Device.Adapter)
	assert.True(t, cfg.Device.AutoConnect)
	assert.Empty(t, cfg.Device.Address)

	assert.Equal(t, 20*time.Second, cfg.Connection.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.Connection.CommandTimeout)
	assert.Equal(t, 3, cfg.Connection.ImmediateRetries)
	assert.Equal(t, 10, cfg.Connection.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Connection.BackoffMin)
	assert.Equal(t, 5*time.Minute, cfg.Connection.BackoffMax)
	assert.InDelta(t, 0.2, cfg.Connection.BackoffJitter, 1e-9)
	assert.Equal(t, time.Minute, cfg.Connection.KeepAlive)

	assert.False(t, cfg.Dispatch.WaitForConnection)
	assert.Equal(t, 3*time.Second, cfg.Dispatch.BrightnessPreview)
	assert.Equal(t, "127.0.0.1:8765", cfg.Telemetry.Listen)
	assert.Equal(t, "info", cfg.LogLevel)

	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `device:
  address: " AA:BB:CC:DD:EE:FF "
connection:
  command_timeout: 5s
  backoff_max: 1m
dispatch:
  wait_for_connection: true
  split_long_text: true
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Device.Address)
	assert.Equal(t, 5*time.Second, cfg.Connection.CommandTimeout)
	assert.Equal(t, time.Minute, cfg.Connection.BackoffMax)
	assert.True(t, cfg.Dispatch.WaitForConnection)
	assert.True(t, cfg.Dispatch.SplitLongText)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Fields not in the file keep their defaults.
	assert.Equal(t, "hci0", cfg.Device.Adapter)
	assert.Equal(t, 20*time.Second, cfg.Connection.ConnectTimeout)
	assert.True(t, cfg.Device.AutoConnect)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connection: [oops"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	written, err := WriteDefault(path)
	require.NoError(t, err)
	assert.True(t, written)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	// An existing file is left alone.
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o644))
	written, err = WriteDefault(path)
	require.NoError(t, err)
	assert.False(t, written)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "log_level: warn\n", string(data))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"mac address", func(c *Config) { c.Device.Address = "aa:bb:cc:dd:ee:ff" }, ""},
		{"uuid address", func(c *Config) { c.Device.Address = "5E3B1C2A-8F4D-4E6B-9A1C-0D2E3F4A5B6C" }, ""},
		{"bad address", func(c *Config) { c.Device.Address = "clock" }, "device.address"},
		{"eui64 address", func(c *Config) { c.Device.Address = "01:23:45:67:89:ab:cd:ef" }, "device.address"},
		{"empty adapter", func(c *Config) { c.Device.Adapter = "" }, "device.adapter"},
		{"zero command timeout", func(c *Config) { c.Connection.CommandTimeout = 0 }, "connection.command_timeout"},
		{"zero wait timeout", func(c *Config) { c.Dispatch.WaitTimeout = 0 }, "dispatch.wait_timeout"},
		{"backoff inverted", func(c *Config) { c.Connection.BackoffMax = time.Second }, "backoff_max"},
		{"jitter too large", func(c *Config) { c.Connection.BackoffJitter = 1 }, "backoff_jitter"},
		{"negative jitter", func(c *Config) { c.Connection.BackoffJitter = -0.1 }, "backoff_jitter"},
		{"no immediate retries", func(c *Config) { c.Connection.ImmediateRetries = 0 }, "immediate_retries"},
		{"negative max retries", func(c *Config) { c.Connection.MaxRetries = -1 }, "max_retries"},
		{"zero auth limit", func(c *Config) { c.Connection.AuthFailureLimit = 0 }, "auth_failure_limit"},
		{"keepalive disabled", func(c *Config) { c.Connection.KeepAlive = 0 }, ""},
		{"negative preview", func(c *Config) { c.Dispatch.BrightnessPreview = -time.Second }, "brightness_preview"},
		{"bad listen", func(c *Config) { c.Telemetry.Listen = "8765" }, "telemetry.listen"},
		{"telemetry off", func(c *Config) { c.Telemetry.Listen = "" }, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	cfg.LogLevel = "loud"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}

func TestComponentOptions(t *testing.T) {
	cfg := Default()
	cfg.Device.AutoConnect = false
	cfg.Dispatch.SplitLongText = true

	m := cfg.ManagerOptions()
	assert.Equal(t, cfg.Connection.CommandTimeout, m.CommandTimeout)
	assert.Equal(t, cfg.Connection.BackoffMax, m.BackoffMax)
	assert.InDelta(t, 0.2, m.BackoffJitter, 1e-9)
	assert.False(t, m.AutoConnect)
	assert.Nil(t, m.Pairing)

	c := cfg.ClockOptions()
	assert.True(t, c.SplitLongText)
	assert.Equal(t, cfg.Dispatch.WaitTimeout, c.WaitTimeout)
	assert.Nil(t, c.Telemetry)

	assert.Equal(t, cfg.Connection.ScanTimeout, cfg.ScanOptions().Timeout)
}
