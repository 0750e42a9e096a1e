package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1995parham/neshan-go/pkg/neshan"
)

// Config holds all neshan configuration.
type Config struct {
	API     APIConfig     `yaml:"api" json:"api"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Usage   UsageConfig   `yaml:"usage" json:"usage"`
	Batch   BatchConfig   `yaml:"batch" json:"batch"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// APIConfig configures the Neshan HTTP client.
type APIConfig struct {
	APIKey             string `yaml:"api_key" json:"api_key"`
	BaseURL            string `yaml:"base_url" json:"base_url"`
	UserAgent          string `yaml:"user_agent" json:"user_agent"`
	Timeout            string `yaml:"timeout" json:"timeout"`
	MaxRetries         int    `yaml:"max_retries" json:"max_retries"`
	RetryBackoffBase   string `yaml:"retry_backoff_base" json:"retry_backoff_base"`
	RetryBackoffMax    string `yaml:"retry_backoff_max" json:"retry_backoff_max"`
	MinRequestInterval string `yaml:"min_request_interval" json:"min_request_interval"`
}

// CacheConfig configures the SQLite response cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Driver  string `yaml:"driver" json:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
	Path    string `yaml:"path" json:"path"`
	TTL     string `yaml:"ttl" json:"ttl"`
	// Precision is the number of decimals coordinates are rounded to in cache keys.
	Precision int `yaml:"precision" json:"precision"`
}

// UsageConfig configures API call accounting.
type UsageConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// BatchConfig configures batch operations.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// ValidCacheDrivers lists the supported database/sql driver names.
var ValidCacheDrivers = []string{"sqlite", "sqlite3"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:            neshan.DefaultBaseURL,
			UserAgent:          neshan.DefaultUserAgent,
			Timeout:            "30s",
			MaxRetries:         3,
			RetryBackoffBase:   "1s",
			RetryBackoffMax:    "8s",
			MinRequestInterval: "0s",
		},
		Cache: CacheConfig{
			Enabled:   true,
			Driver:    "sqlite",
			Path:      ".neshan/cache.db",
			TTL:       "168h",
			Precision: 5,
		},
		Usage: UsageConfig{
			Enabled: true,
			Path:    ".neshan/usage.json",
		},
		Batch: BatchConfig{
			Concurrency: neshan.DefaultBatchConcurrency,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns .neshan/config.yaml under the workspace.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(workspace, ".neshan", "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may hold the API key.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// NESHAN_RS_API_KEY is the name older pipelines export.
	if key := os.Getenv("NESHAN_RS_API_KEY"); key != "" {
		c.API.APIKey = key
	}
	if key := os.Getenv("NESHAN_API_KEY"); key != "" {
		c.API.APIKey = key
	}
	if url := os.Getenv("NESHAN_BASE_URL"); url != "" {
		c.API.BaseURL = url
	}
	if path := os.Getenv("NESHAN_CACHE_PATH"); path != "" {
		c.Cache.Path = path
	}
	if driver := os.Getenv("NESHAN_CACHE_DRIVER"); driver != "" {
		c.Cache.Driver = driver
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.API.APIKey == "" {
		return fmt.Errorf("%w (set NESHAN_API_KEY or api.api_key)", neshan.ErrMissingAPIKey)
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must be >= 0")
	}
	if c.Cache.Enabled {
		valid := false
		for _, d := range ValidCacheDrivers {
			if c.Cache.Driver == d {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid cache driver: %s (valid: %v)", c.Cache.Driver, ValidCacheDrivers)
		}
		if c.Cache.Precision < 0 || c.Cache.Precision > 8 {
			return fmt.Errorf("cache.precision must be between 0 and 8")
		}
	}
	if c.Batch.Concurrency < 0 {
		return fmt.Errorf("batch.concurrency must be >= 0")
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// GetTimeout returns the API timeout as a duration.
func (c *Config) GetTimeout() time.Duration {
	return parseDuration(c.API.Timeout, 30*time.Second)
}

// GetCacheTTL returns the cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Cache.TTL, 7*24*time.Hour)
}

// ClientConfig builds the neshan client configuration.
func (c *Config) ClientConfig() neshan.Config {
	return neshan.Config{
		APIKey:             c.API.APIKey,
		BaseURL:            c.API.BaseURL,
		UserAgent:          c.API.UserAgent,
		Timeout:            c.GetTimeout(),
		MaxRetries:         c.API.MaxRetries,
		RetryBackoffBase:   parseDuration(c.API.RetryBackoffBase, time.Second),
		RetryBackoffMax:    parseDuration(c.API.RetryBackoffMax, 8*time.Second),
		MinRequestInterval: parseDuration(c.API.MinRequestInterval, 0),
	}
}

// ResolvePath anchors a relative config path at the workspace.
func ResolvePath(workspace, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}
