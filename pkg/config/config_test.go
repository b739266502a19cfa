package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Direct.Enabled)
	assert.Equal(t, "chrome_131", cfg.Direct.TLSProfile)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 3, cfg.Fetch.MaxEmptyPages)
	assert.Equal(t, 2000, cfg.Cache.Capacity)
	assert.Equal(t, 10*time.Minute, cfg.Cache.MaxAge)
	assert.Equal(t, 3, cfg.Captcha.MaxAttempts)
	assert.False(t, cfg.Captcha.Manual)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TOKSCRAPER_DEVTOOLS_URL", "http://127.0.0.1:9333")
	t.Setenv("TOKSCRAPER_HEADLESS", "false")
	t.Setenv("TOKSCRAPER_REQUEST_DELAY", "7s")
	t.Setenv("TOKSCRAPER_MAX_RETRIES", "5")
	t.Setenv("TOKSCRAPER_MANUAL_CAPTCHA", "true")
	t.Setenv("TOKSCRAPER_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "http://127.0.0.1:9333", cfg.Browser.DevtoolsURL)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 7*time.Second, cfg.Fetch.RequestDelay)
	assert.Equal(t, 5, cfg.Fetch.MaxRetries)
	assert.True(t, cfg.Captcha.Manual)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("TOKSCRAPER_REQUEST_DELAY", "soon")
	t.Setenv("TOKSCRAPER_MAX_RETRIES", "many")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_DELAY")
	assert.Contains(t, err.Error(), "MAX_RETRIES")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
browser:
  headless: false
fetch:
  request_delay: 4s
  max_retries: 2
cache:
  capacity: 50
  max_age: 1m
captcha:
  max_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 4*time.Second, cfg.Fetch.RequestDelay)
	assert.Equal(t, 2, cfg.Fetch.MaxRetries)
	assert.Equal(t, 50, cfg.Cache.Capacity)
	assert.Equal(t, time.Minute, cfg.Cache.MaxAge)
	assert.Equal(t, 5, cfg.Captcha.MaxAttempts)
	// untouched sections keep defaults
	assert.Equal(t, 3, cfg.Fetch.MaxEmptyPages)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero retries", func(c *Config) { c.Fetch.MaxRetries = 0 }, "max retries must be positive"},
		{"zero capacity", func(c *Config) { c.Cache.Capacity = 0 }, "cache capacity must be positive"},
		{"zero age", func(c *Config) { c.Cache.MaxAge = 0 }, "cache max age must be positive"},
		{"zero captcha attempts", func(c *Config) { c.Captcha.MaxAttempts = 0 }, "captcha max attempts must be positive"},
		{"negative delay", func(c *Config) { c.Fetch.RequestDelay = -time.Second }, "request delay cannot be negative"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "log format must be console or json"},
		{"log without db", func(c *Config) { c.Captcha.LogSolves = true; c.Captcha.LogDB = "" }, "captcha log database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"headless":       false,
		"request-delay":  90 * time.Second,
		"manual-captcha": true,
		"log-captcha":    true,
		"no-direct":      true,
		"log-level":      "warn",
	})

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 90*time.Second, cfg.Fetch.RequestDelay)
	assert.Equal(t, 90*time.Second, cfg.Fetch.MaxDelay)
	assert.True(t, cfg.Captcha.Manual)
	assert.True(t, cfg.Captcha.LogSolves)
	assert.False(t, cfg.Direct.Enabled)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Fetch.RequestDelay = 9 * time.Second
	cfg.Cache.Capacity = 77
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, loaded.Fetch.RequestDelay)
	assert.Equal(t, 77, loaded.Cache.Capacity)
}
