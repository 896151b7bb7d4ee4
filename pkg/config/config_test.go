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

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blerpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "goble", cfg.Backend)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 3*time.Second, cfg.ScanWindow)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 512, cfg.FragmentSize)
	assert.Zero(t, cfg.MaxResponseSize, "response size cap MUST be off by default")
	assert.Equal(t, "comma-", cfg.NamePrefix)
	assert.Equal(t, "getDeviceInfo", cfg.VerifyMethod)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
backend: tinygo
request_timeout: 0s
fragment_size: 128
verify_method: ""
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "tinygo", cfg.Backend)
	assert.Zero(t, cfg.RequestTimeout, "explicit zero MUST survive default application")
	assert.Equal(t, 128, cfg.FragmentSize)
	assert.Empty(t, cfg.VerifyMethod)
	assert.Equal(t, 3*time.Second, cfg.ScanWindow, "absent keys MUST keep defaults")
	assert.Equal(t, "comma-", cfg.NamePrefix)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{name: "malformed yaml", content: "log_level: [", errText: "parse config"},
		{name: "bad level", content: "log_level: loud", errText: "log_level"},
		{name: "unknown backend", content: "backend: bluetoothctl", errText: "backend"},
		{name: "oversized fragment", content: "fragment_size: 513", errText: "fragment_size"},
		{name: "negative cap", content: "max_response_size: -1", errText: "max_response_size"},
		{name: "negative timeout", content: "connect_timeout: -1s", errText: "connect_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{name: "debug", logLevel: "debug", expected: logrus.DebugLevel},
		{name: "warn", logLevel: "warn", expected: logrus.WarnLevel},
		{name: "invalid falls back to info", logLevel: "loud", expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}
			logger := cfg.NewLogger()

			assert.Equal(t, tt.expected, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FragmentSize = 100
	cfg.MaxResponseSize = 4096
	cfg.RequestTimeout = time.Second
	cfg.StorePath = "/tmp/x.yaml"

	sess := cfg.SessionOptions()
	assert.Equal(t, 100, sess.FragmentSize)
	assert.Equal(t, 4096, sess.MaxResponseSize)
	assert.Equal(t, time.Second, sess.RequestTimeout)
	assert.Equal(t, 30*time.Second, sess.ConnectTimeout)

	opts := cfg.ClientOptions()
	assert.Equal(t, sess, opts.Session)
	assert.Equal(t, "comma-", opts.NamePrefix)
	assert.Equal(t, "getDeviceInfo", opts.VerifyMethod)
	assert.Equal(t, 3*time.Second, opts.ScanWindow)
	assert.Equal(t, "/tmp/x.yaml", opts.StorePath)
}
