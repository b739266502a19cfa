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
	"gopkg.in/yaml.v3"
)

const envPrefix = "TOKSCRAPER_"

// Config holds all configuration options for the scraper. The acquisition core
// treats it as immutable once loaded.
type Config struct {
	// Browser session settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Direct request path settings
	Direct DirectConfig `yaml:"direct" json:"direct"`

	// Fetch orchestration policy
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`

	// Response cache bounds
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Challenge solver settings
	Captcha CaptchaConfig `yaml:"captcha" json:"captcha"`

	// Session cookie persistence
	Session SessionConfig `yaml:"session" json:"session"`

	// Output settings for the CLI
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BrowserConfig holds settings for the rendering browser
type BrowserConfig struct {
	// DevtoolsURL points at an already running browser (http://127.0.0.1:9222).
	// When empty a browser is launched.
	DevtoolsURL       string        `yaml:"devtools_url" json:"devtools_url"`
	Headless          bool          `yaml:"headless" json:"headless"`
	ChromePath        string        `yaml:"chrome_path" json:"chrome_path"`
	UserDataDir       string        `yaml:"user_data_dir" json:"user_data_dir"`
	Stealth           bool          `yaml:"stealth" json:"stealth"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	CaptureWorkers    int           `yaml:"capture_workers" json:"capture_workers"`
	CaptureTimeout    time.Duration `yaml:"capture_timeout" json:"capture_timeout"`
}

// DirectConfig holds settings for the direct request client
type DirectConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	TLSProfile string        `yaml:"tls_profile" json:"tls_profile"`
	UserAgent  string        `yaml:"user_agent" json:"user_agent"`
	Proxy      string        `yaml:"proxy" json:"proxy"`
}

// FetchConfig holds the orchestration policy
type FetchConfig struct {
	RequestDelay  time.Duration `yaml:"request_delay" json:"request_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	BackoffBase   time.Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffMax    time.Duration `yaml:"backoff_max" json:"backoff_max"`
	CacheWait     time.Duration `yaml:"cache_wait" json:"cache_wait"`
	MaxEmptyPages int           `yaml:"max_empty_pages" json:"max_empty_pages"`
	BestEffort    bool          `yaml:"best_effort" json:"best_effort"`
	PageSize      int           `yaml:"page_size" json:"page_size"`

	// WindowRequests caps requests per Window; zero disables the cap
	WindowRequests int           `yaml:"window_requests" json:"window_requests"`
	Window         time.Duration `yaml:"window" json:"window"`
}

// CacheConfig bounds the response cache
type CacheConfig struct {
	Capacity int           `yaml:"capacity" json:"capacity"`
	MaxAge   time.Duration `yaml:"max_age" json:"max_age"`
}

// CaptchaConfig holds challenge solver settings
type CaptchaConfig struct {
	Manual        bool          `yaml:"manual" json:"manual"`
	LogSolves     bool          `yaml:"log_solves" json:"log_solves"`
	LogDB         string        `yaml:"log_db" json:"log_db"`
	MaxAttempts   int           `yaml:"max_attempts" json:"max_attempts"`
	PollInterval  time.Duration `yaml:"poll_interval" json:"poll_interval"`
	DetectWindow  time.Duration `yaml:"detect_window" json:"detect_window"`
	VerifyTimeout time.Duration `yaml:"verify_timeout" json:"verify_timeout"`
}

// SessionConfig controls cookie persistence between runs
type SessionConfig struct {
	Persist bool   `yaml:"persist" json:"persist"`
	Account string `yaml:"account" json:"account"`
	MsToken string `yaml:"ms_token" json:"ms_token"`
}

// OutputConfig holds output settings for the CLI
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
	Resume        bool   `yaml:"resume" json:"resume"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	// Format of stderr output: console or json
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// DefaultConfig returns a Config instance with conservative defaults
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:          true,
			Stealth:           true,
			NavigationTimeout: 30 * time.Second,
			CaptureWorkers:    4,
			CaptureTimeout:    5 * time.Second,
		},
		Direct: DirectConfig{
			Enabled:    true,
			Timeout:    20 * time.Second,
			TLSProfile: "chrome_131",
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		},
		Fetch: FetchConfig{
			RequestDelay:   2 * time.Second,
			MaxDelay:       60 * time.Second,
			MaxRetries:     3,
			BackoffBase:    2 * time.Second,
			BackoffMax:     30 * time.Second,
			CacheWait:      20 * time.Second,
			MaxEmptyPages:  3,
			BestEffort:     false,
			PageSize:       30,
			WindowRequests: 0,
			Window:         15 * time.Minute,
		},
		Cache: CacheConfig{
			Capacity: 2000,
			MaxAge:   10 * time.Minute,
		},
		Captcha: CaptchaConfig{
			Manual:        false,
			LogSolves:     false,
			LogDB:         "captcha_solves.db",
			MaxAttempts:   3,
			PollInterval:  500 * time.Millisecond,
			DetectWindow:  2 * time.Second,
			VerifyTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			Persist: true,
			Account: "default",
		},
		Output: OutputConfig{
			BaseDirectory: "./output",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			File:       "",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv(envPrefix + "DEVTOOLS_URL"); v != "" {
		c.Browser.DevtoolsURL = v
	}
	if v := os.Getenv(envPrefix + "CHROME_PATH"); v != "" {
		c.Browser.ChromePath = v
	}
	if v := os.Getenv(envPrefix + "HEADLESS"); v != "" {
		c.Browser.Headless = parseBool(v)
	}
	if v := os.Getenv(envPrefix + "USER_AGENT"); v != "" {
		c.Direct.UserAgent = v
	}
	if v := os.Getenv(envPrefix + "PROXY"); v != "" {
		c.Direct.Proxy = v
	}
	if v := os.Getenv(envPrefix + "TLS_PROFILE"); v != "" {
		c.Direct.TLSProfile = v
	}
	if v := os.Getenv(envPrefix + "DIRECT_ENABLED"); v != "" {
		c.Direct.Enabled = parseBool(v)
	}
	if v := os.Getenv(envPrefix + "REQUEST_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREQUEST_DELAY: %w", envPrefix, err))
		} else {
			c.Fetch.RequestDelay = d
		}
	}
	if v := os.Getenv(envPrefix + "MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_RETRIES: %w", envPrefix, err))
		} else {
			c.Fetch.MaxRetries = n
		}
	}
	if v := os.Getenv(envPrefix + "BEST_EFFORT"); v != "" {
		c.Fetch.BestEffort = parseBool(v)
	}
	if v := os.Getenv(envPrefix + "MANUAL_CAPTCHA"); v != "" {
		c.Captcha.Manual = parseBool(v)
	}
	if v := os.Getenv(envPrefix + "LOG_CAPTCHA"); v != "" {
		c.Captcha.LogSolves = parseBool(v)
	}
	if v := os.Getenv(envPrefix + "MS_TOKEN"); v != "" {
		c.Session.MsToken = v
	}
	if v := os.Getenv(envPrefix + "OUTPUT_DIR"); v != "" {
		c.Output.BaseDirectory = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(envPrefix + "LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return errors.Join(errs...)
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".tokscraper.yaml",
		".tokscraper.yml",
		filepath.Join(home, ".config", "tokscraper", "config.yaml"),
		filepath.Join(home, ".config", "tokscraper", "config.yml"),
		filepath.Join(home, ".tokscraper.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Fetch.RequestDelay < 0 {
		errs = append(errs, errors.New("request delay cannot be negative"))
	}
	if c.Fetch.MaxDelay < c.Fetch.RequestDelay {
		errs = append(errs, errors.New("max delay must not be below request delay"))
	}
	if c.Fetch.MaxRetries <= 0 {
		errs = append(errs, errors.New("max retries must be positive"))
	}
	if c.Fetch.CacheWait <= 0 {
		errs = append(errs, errors.New("cache wait must be positive"))
	}
	if c.Fetch.MaxEmptyPages <= 0 {
		errs = append(errs, errors.New("max empty pages must be positive"))
	}
	if c.Fetch.WindowRequests < 0 {
		errs = append(errs, errors.New("window requests cannot be negative"))
	}
	if c.Fetch.WindowRequests > 0 && c.Fetch.Window <= 0 {
		errs = append(errs, errors.New("window must be positive when window requests is set"))
	}
	if c.Fetch.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}

	if c.Cache.Capacity <= 0 {
		errs = append(errs, errors.New("cache capacity must be positive"))
	}
	if c.Cache.MaxAge <= 0 {
		errs = append(errs, errors.New("cache max age must be positive"))
	}

	if c.Captcha.MaxAttempts <= 0 {
		errs = append(errs, errors.New("captcha max attempts must be positive"))
	}
	if c.Captcha.PollInterval <= 0 {
		errs = append(errs, errors.New("captcha poll interval must be positive"))
	}
	if c.Captcha.VerifyTimeout <= 0 {
		errs = append(errs, errors.New("captcha verify timeout must be positive"))
	}
	if c.Captcha.LogSolves && c.Captcha.LogDB == "" {
		errs = append(errs, errors.New("captcha log database is required when logging solves"))
	}

	if c.Browser.CaptureWorkers <= 0 {
		errs = append(errs, errors.New("capture workers must be positive"))
	}
	if c.Browser.CaptureTimeout <= 0 {
		errs = append(errs, errors.New("capture timeout must be positive"))
	}

	if c.Direct.Enabled && c.Direct.Timeout <= 0 {
		errs = append(errs, errors.New("direct timeout must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		errs = append(errs, errors.New("log format must be console or json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["devtools-url"].(string); ok && v != "" {
		c.Browser.DevtoolsURL = v
	}
	if v, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = v
	}
	if v, ok := flags["no-direct"].(bool); ok && v {
		c.Direct.Enabled = false
	}
	if v, ok := flags["proxy"].(string); ok && v != "" {
		c.Direct.Proxy = v
	}
	if v, ok := flags["request-delay"].(time.Duration); ok && v > 0 {
		c.Fetch.RequestDelay = v
		if c.Fetch.MaxDelay < v {
			c.Fetch.MaxDelay = v
		}
	}
	if v, ok := flags["max-retries"].(int); ok && v > 0 {
		c.Fetch.MaxRetries = v
	}
	if v, ok := flags["best-effort"].(bool); ok && v {
		c.Fetch.BestEffort = true
	}
	if v, ok := flags["manual-captcha"].(bool); ok && v {
		c.Captcha.Manual = true
	}
	if v, ok := flags["log-captcha"].(bool); ok && v {
		c.Captcha.LogSolves = true
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.BaseDirectory = v
	}
	if v, ok := flags["resume"].(bool); ok && v {
		c.Output.Resume = true
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".tokscraper.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
