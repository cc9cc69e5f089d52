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

// Config holds all configuration options for the timeline scraper
type Config struct {
	// Account to harvest
	Target TargetConfig `yaml:"target" json:"target"`

	// Remote API settings
	API APIConfig `yaml:"api" json:"api"`

	// Pagination, pacing and retry behaviour
	Harvest HarvestConfig `yaml:"harvest" json:"harvest"`

	// Persistence backend
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TargetConfig identifies the account whose timeline is harvested
type TargetConfig struct {
	Handle string `yaml:"handle" json:"handle"`
	// AccountID skips the handle lookup when set
	AccountID string `yaml:"account_id" json:"account_id"`
}

// APIConfig holds remote API settings
type APIConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	PageLimit      int           `yaml:"page_limit" json:"page_limit"`
}

// HarvestConfig holds the pagination loop settings
type HarvestConfig struct {
	DelayMS        int           `yaml:"delay_ms" json:"delay_ms"`
	Jitter         time.Duration `yaml:"jitter" json:"jitter"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryPolicy    string        `yaml:"retry_policy" json:"retry_policy"`
	// MaxItems caps the total number of persisted items; 0 means unbounded
	MaxItems int    `yaml:"max_items" json:"max_items"`
	CatchUp  bool   `yaml:"catch_up" json:"catch_up"`
	Keyword  string `yaml:"keyword" json:"keyword"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Backend string      `yaml:"backend" json:"backend"`
	Output  string      `yaml:"output" json:"output"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig holds the redis backend settings
type RedisConfig struct {
	Address   string        `yaml:"address" json:"address"`
	Password  string        `yaml:"password" json:"password"`
	DB        int           `yaml:"db" json:"db"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	LockTTL   time.Duration `yaml:"lock_ttl" json:"lock_ttl"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
	// Format is auto, console or json
	Format string `yaml:"format" json:"format"`
}

// Storage backends
const (
	BackendJSON  = "json"
	BackendJSONL = "jsonl"
	BackendRedis = "redis"
)

// Retry policies
const (
	RetryPolicyAny       = "any"
	RetryPolicyRateLimit = "rate_limit"
	RetryPolicyTransient = "transient"
)

// DefaultUserAgent is sent when no user agent is configured
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://truthsocial.com",
			UserAgent:      DefaultUserAgent,
			RequestTimeout: 30 * time.Second,
			PageLimit:      20,
		},
		Harvest: HarvestConfig{
			DelayMS:        4000,
			Jitter:         2 * time.Second,
			MaxRetries:     5,
			RetryBaseDelay: 10 * time.Second,
			RetryPolicy:    RetryPolicyAny,
		},
		Storage: StorageConfig{
			Backend: BackendJSON,
			Output:  "statuses.json",
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "tsscraper:",
				LockTTL:   6 * time.Hour,
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Delay returns the configured inter-page delay
func (h HarvestConfig) Delay() time.Duration {
	return time.Duration(h.DelayMS) * time.Millisecond
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if handle := os.Getenv("TSSCRAPER_HANDLE"); handle != "" {
		c.Target.Handle = handle
	}
	if accountID := os.Getenv("TSSCRAPER_ACCOUNT_ID"); accountID != "" {
		c.Target.AccountID = accountID
	}
	if baseURL := os.Getenv("TSSCRAPER_BASE_URL"); baseURL != "" {
		c.API.BaseURL = baseURL
	}
	if userAgent := os.Getenv("TSSCRAPER_USER_AGENT"); userAgent != "" {
		c.API.UserAgent = userAgent
	}
	if output := os.Getenv("TSSCRAPER_OUTPUT"); output != "" {
		c.Storage.Output = output
	}
	if backend := os.Getenv("TSSCRAPER_BACKEND"); backend != "" {
		c.Storage.Backend = strings.ToLower(backend)
	}
	if policy := os.Getenv("TSSCRAPER_RETRY_POLICY"); policy != "" {
		c.Harvest.RetryPolicy = strings.ToLower(policy)
	}
	if addr := os.Getenv("TSSCRAPER_REDIS_ADDRESS"); addr != "" {
		c.Storage.Redis.Address = addr
	}
	if password := os.Getenv("TSSCRAPER_REDIS_PASSWORD"); password != "" {
		c.Storage.Redis.Password = password
	}
	if logLevel := os.Getenv("TSSCRAPER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	intVars := map[string]*int{
		"TSSCRAPER_DELAY_MS":    &c.Harvest.DelayMS,
		"TSSCRAPER_MAX_RETRIES": &c.Harvest.MaxRetries,
		"TSSCRAPER_MAX_ITEMS":   &c.Harvest.MaxItems,
	}
	for name, target := range intVars {
		raw := os.Getenv(name)
		if raw == "" {
			continue
		}
		val, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		*target = val
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
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
		".tsscraper.yaml",
		".tsscraper.yml",
		filepath.Join(home, ".config", "tsscraper", "config.yaml"),
		filepath.Join(home, ".config", "tsscraper", "config.yml"),
		filepath.Join(home, ".tsscraper.yaml"),
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

	if c.Target.Handle == "" && c.Target.AccountID == "" {
		errs = append(errs, errors.New("target handle or account id is required"))
	}

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api base url is required"))
	}
	if c.API.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.API.PageLimit <= 0 {
		errs = append(errs, errors.New("page limit must be positive"))
	}

	if c.Harvest.DelayMS < 0 {
		errs = append(errs, errors.New("delay cannot be negative"))
	}
	if c.Harvest.Jitter < 0 {
		errs = append(errs, errors.New("jitter cannot be negative"))
	}
	if c.Harvest.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Harvest.RetryBaseDelay < 0 {
		errs = append(errs, errors.New("retry base delay cannot be negative"))
	}
	if c.Harvest.MaxItems < 0 {
		errs = append(errs, errors.New("max items cannot be negative"))
	}
	validPolicies := map[string]bool{
		RetryPolicyAny: true, RetryPolicyRateLimit: true, RetryPolicyTransient: true,
	}
	if !validPolicies[c.Harvest.RetryPolicy] {
		errs = append(errs, fmt.Errorf("invalid retry policy %q", c.Harvest.RetryPolicy))
	}

	switch c.Storage.Backend {
	case BackendJSON, BackendJSONL:
		if c.Storage.Output == "" {
			errs = append(errs, errors.New("output location is required"))
		}
	case BackendRedis:
		if c.Storage.Redis.Address == "" {
			errs = append(errs, errors.New("redis address is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage backend %q", c.Storage.Backend))
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, errors.New("metrics address is required when metrics are enabled"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	validFormats := map[string]bool{
		"": true, "auto": true, "console": true, "json": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, errors.New("invalid log format"))
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
	if handle, ok := flags["handle"].(string); ok && handle != "" {
		c.Target.Handle = handle
	}
	if accountID, ok := flags["account-id"].(string); ok && accountID != "" {
		c.Target.AccountID = accountID
	}
	if baseURL, ok := flags["base-url"].(string); ok && baseURL != "" {
		c.API.BaseURL = baseURL
	}
	if output, ok := flags["output"].(string); ok && output != "" {
		c.Storage.Output = output
	}
	if backend, ok := flags["backend"].(string); ok && backend != "" {
		c.Storage.Backend = strings.ToLower(backend)
	}
	if delay, ok := flags["delay-ms"].(int); ok && delay >= 0 {
		c.Harvest.DelayMS = delay
	}
	if retries, ok := flags["max-retries"].(int); ok && retries >= 0 {
		c.Harvest.MaxRetries = retries
	}
	if maxItems, ok := flags["max-items"].(int); ok && maxItems >= 0 {
		c.Harvest.MaxItems = maxItems
	}
	if policy, ok := flags["retry-policy"].(string); ok && policy != "" {
		c.Harvest.RetryPolicy = strings.ToLower(policy)
	}
	if catchUp, ok := flags["catch-up"].(bool); ok {
		c.Harvest.CatchUp = catchUp
	}
	if keyword, ok := flags["keyword"].(string); ok && keyword != "" {
		c.Harvest.Keyword = keyword
	}
	if addr, ok := flags["metrics-addr"].(string); ok && addr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Address = addr
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence and
// validates the result.
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	config, err := LoadUnvalidated(configPath, flags)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadUnvalidated merges every source like Load but skips Validate
func LoadUnvalidated(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".tsscraper.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)
	return config, nil
}

// ConfigFile returns the file Load would read for configPath, or "" when
// none exists.
func ConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	return (&Config{}).findConfigFile()
}
