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

// Concurrency bounds accepted from configuration and from callers
const (
	MinConcurrency        = 2
	MaxConcurrency        = 48
	MinPerHostConcurrency = 1
	MaxPerHostConcurrency = 8

	DefaultConcurrency        = 8
	DefaultPerHostConcurrency = 3
)

// Failure modes for the single-image endpoint
const (
	FailureModePlaceholder = "placeholder"
	FailureModePassthrough = "passthrough"
)

// Fetch policies
const (
	FetchPolicyFull   = "full"
	FetchPolicySimple = "simple"
)

// Config holds all configuration options for imgrelay
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Fetch   FetchConfig   `yaml:"fetch" json:"fetch"`
	Retry   RetryConfig   `yaml:"retry" json:"retry"`
	Limits  LimitsConfig  `yaml:"limits" json:"limits"`
	Archive ArchiveConfig `yaml:"archive" json:"archive"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds the HTTP front door settings
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	MaxDuration     time.Duration `yaml:"max_duration" json:"max_duration"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	EnableMetrics   bool          `yaml:"enable_metrics" json:"enable_metrics"`
}

// FetchConfig holds the fetch strategy policy
type FetchConfig struct {
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	AcceptLanguage string        `yaml:"accept_language" json:"accept_language"`
	Referer        string        `yaml:"referer" json:"referer"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"`
	ProxyDelay     time.Duration `yaml:"proxy_delay" json:"proxy_delay"`
	Proxies        []string      `yaml:"proxies" json:"proxies"`
	HeaderVariants bool          `yaml:"header_variants" json:"header_variants"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	AllowedHosts   []string      `yaml:"allowed_hosts" json:"allowed_hosts"`
	FailureMode    string        `yaml:"failure_mode" json:"failure_mode"`
	// Policy "simple" makes one direct request with no variants, proxies or retries
	Policy string `yaml:"policy" json:"policy"`
}

// RetryConfig holds retry configuration for the outer fetch attempts
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// LimitsConfig holds the default concurrency caps for archive builds
type LimitsConfig struct {
	Concurrency        int `yaml:"concurrency" json:"concurrency"`
	PerHostConcurrency int `yaml:"per_host_concurrency" json:"per_host_concurrency"`
}

// ArchiveConfig holds archive assembly settings
type ArchiveConfig struct {
	MaxItems       int    `yaml:"max_items" json:"max_items"`
	FilenamePrefix string `yaml:"filename_prefix" json:"filename_prefix"`
	Compression    string `yaml:"compression" json:"compression"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	Format  string `yaml:"format" json:"format"`
	File    string `yaml:"file" json:"file"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// DefaultProxies are the relay endpoints tried, in order, when a direct fetch
// is refused. {url} is replaced with the query-escaped target URL.
var DefaultProxies = []string{
	"https://images.weserv.nl/?url={url}",
	"https://corsproxy.io/?{url}",
	"https://api.allorigins.win/raw?url={url}",
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxDuration:     60 * time.Second,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 10 * time.Second,
			EnableMetrics:   true,
		},
		Fetch: FetchConfig{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			AcceptLanguage: "en-US,en;q=0.9",
			Referer:        "https://www.google.com/",
			AttemptTimeout: 15 * time.Second,
			ProxyDelay:     150 * time.Millisecond,
			Proxies:        append([]string(nil), DefaultProxies...),
			HeaderVariants: true,
			MaxBodyBytes:   25 << 20,
			FailureMode:    FailureModePlaceholder,
			Policy:         FetchPolicyFull,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    400 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.25,
		},
		Limits: LimitsConfig{
			Concurrency:        DefaultConcurrency,
			PerHostConcurrency: DefaultPerHostConcurrency,
		},
		Archive: ArchiveConfig{
			MaxItems:       500,
			FilenamePrefix: "images",
			Compression:    "deflate",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from IMGRELAY_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("IMGRELAY_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("IMGRELAY_MAX_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IMGRELAY_MAX_DURATION: %w", err))
		} else {
			c.Server.MaxDuration = d
		}
	}
	if v := os.Getenv("IMGRELAY_ATTEMPT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IMGRELAY_ATTEMPT_TIMEOUT: %w", err))
		} else {
			c.Fetch.AttemptTimeout = d
		}
	}
	if v := os.Getenv("IMGRELAY_USER_AGENT"); v != "" {
		c.Fetch.UserAgent = v
	}
	if v := os.Getenv("IMGRELAY_PROXIES"); v != "" {
		c.Fetch.Proxies = splitList(v)
	}
	if v := os.Getenv("IMGRELAY_ALLOWED_HOSTS"); v != "" {
		c.Fetch.AllowedHosts = splitList(v)
	}
	if v := os.Getenv("IMGRELAY_FAILURE_MODE"); v != "" {
		c.Fetch.FailureMode = strings.ToLower(v)
	}
	if v := os.Getenv("IMGRELAY_FETCH_POLICY"); v != "" {
		c.Fetch.Policy = strings.ToLower(v)
	}

	intVars := map[string]*int{
		"IMGRELAY_MAX_ATTEMPTS":         &c.Retry.MaxAttempts,
		"IMGRELAY_CONCURRENCY":          &c.Limits.Concurrency,
		"IMGRELAY_PER_HOST_CONCURRENCY": &c.Limits.PerHostConcurrency,
		"IMGRELAY_MAX_ITEMS":            &c.Archive.MaxItems,
	}
	for name, target := range intVars {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		*target = n
	}

	if v := os.Getenv("IMGRELAY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("IMGRELAY_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	return errors.Join(errs...)
}

// splitList splits a comma separated value, dropping empty items
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
		"imgrelay.yaml",
		".imgrelay.yaml",
		".imgrelay.yml",
		filepath.Join(home, ".config", "imgrelay", "config.yaml"),
		filepath.Join(home, ".imgrelay.yaml"),
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

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server address is required"))
	}
	if c.Server.MaxDuration <= 0 {
		errs = append(errs, errors.New("server max duration must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server max body bytes must be positive"))
	}

	if c.Fetch.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("fetch attempt timeout must be positive"))
	}
	if c.Fetch.ProxyDelay < 0 {
		errs = append(errs, errors.New("fetch proxy delay cannot be negative"))
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("fetch max body bytes must be positive"))
	}
	for _, p := range c.Fetch.Proxies {
		if !strings.Contains(p, "{url}") && !strings.Contains(p, "{rawurl}") {
			errs = append(errs, fmt.Errorf("proxy endpoint %q has no {url} or {rawurl} placeholder", p))
		}
	}
	switch strings.ToLower(c.Fetch.FailureMode) {
	case FailureModePlaceholder, FailureModePassthrough:
	default:
		errs = append(errs, fmt.Errorf("invalid failure mode %q", c.Fetch.FailureMode))
	}
	switch strings.ToLower(c.Fetch.Policy) {
	case FetchPolicyFull, FetchPolicySimple:
	default:
		errs = append(errs, fmt.Errorf("invalid fetch policy %q", c.Fetch.Policy))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, errors.New("retry jitter factor must be between 0 and 1"))
	}

	if c.Limits.Concurrency < MinConcurrency || c.Limits.Concurrency > MaxConcurrency {
		errs = append(errs, fmt.Errorf("concurrency must be between %d and %d", MinConcurrency, MaxConcurrency))
	}
	if c.Limits.PerHostConcurrency < MinPerHostConcurrency || c.Limits.PerHostConcurrency > MaxPerHostConcurrency {
		errs = append(errs, fmt.Errorf("per-host concurrency must be between %d and %d", MinPerHostConcurrency, MaxPerHostConcurrency))
	}

	if c.Archive.MaxItems <= 0 {
		errs = append(errs, errors.New("archive max items must be positive"))
	}
	switch strings.ToLower(c.Archive.Compression) {
	case "deflate", "store":
	default:
		errs = append(errs, fmt.Errorf("invalid archive compression %q", c.Archive.Compression))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present in flags override the loaded values.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["addr"].(string); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := flags["max-duration"].(time.Duration); ok && v > 0 {
		c.Server.MaxDuration = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Limits.Concurrency = v
	}
	if v, ok := flags["per-host-concurrency"].(int); ok && v > 0 {
		c.Limits.PerHostConcurrency = v
	}
	if v, ok := flags["max-attempts"].(int); ok && v > 0 {
		c.Retry.MaxAttempts = v
	}
	if v, ok := flags["attempt-timeout"].(time.Duration); ok && v > 0 {
		c.Fetch.AttemptTimeout = v
	}
	if v, ok := flags["failure-mode"].(string); ok && v != "" {
		c.Fetch.FailureMode = strings.ToLower(v)
	}
	if v, ok := flags["fetch-policy"].(string); ok && v != "" {
		c.Fetch.Policy = strings.ToLower(v)
	}
	if v, ok := flags["no-proxies"].(bool); ok && v {
		c.Fetch.Proxies = nil
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-format"].(string); ok && v != "" {
		c.Logging.Format = v
	}
	if v, ok := flags["no-color"].(bool); ok && v {
		c.Logging.NoColor = true
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: flags > environment (.env included) > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".imgrelay.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
