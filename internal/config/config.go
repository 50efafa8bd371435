// Package config provides configuration loading for the takeoff client.
// Supports YAML files, .env files, environment variables, and programmatic
// overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/takeoff/internal/domain"
)

// Config holds all configuration for the takeoff client.
type Config struct {
	API           APIConfig           `yaml:"api"`
	Render        RenderConfig        `yaml:"render"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// APIConfig holds backend connection settings.
type APIConfig struct {
	BaseURL              string        `yaml:"base_url"`
	Prefix               string        `yaml:"prefix"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	IncludeRawDetections bool          `yaml:"include_raw_detections"`
}

// RenderConfig holds page rasterization settings.
type RenderConfig struct {
	DPI            float64 `yaml:"dpi"`
	ThumbnailWidth int     `yaml:"thumbnail_width"`
	Workers        int     `yaml:"workers"`
}

// CacheConfig holds page cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from an optional YAML file, then applies .env
// and environment overrides. Values already present in the environment win
// over .env entries.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError("read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}
	}

	_ = godotenv.Load() // ignore error if .env doesn't exist

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with defaults for a local backend.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:8000",
			Prefix:         "/api/v1",
			RequestTimeout: 5 * time.Minute,
			IdleTimeout:    2 * time.Minute,
		},
		Render: RenderConfig{
			DPI:            108,
			ThumbnailWidth: 160,
			Workers:        4,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        30 * time.Minute,
			MaxEntries: 16,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.ConfigError(fmt.Sprintf("invalid api base_url: %q", c.API.BaseURL), err)
	}
	if !strings.HasPrefix(c.API.Prefix, "/") {
		return domain.ConfigError(fmt.Sprintf("api prefix must start with /: %q", c.API.Prefix), nil)
	}
	if c.API.IdleTimeout <= 0 {
		return domain.ConfigError("api idle_timeout must be positive", nil)
	}
	if c.API.RequestTimeout < 0 {
		return domain.ConfigError("api request_timeout must not be negative", nil)
	}
	if c.Render.DPI < 36 || c.Render.DPI > 600 {
		return domain.ConfigError(fmt.Sprintf("render dpi must be between 36 and 600, got %g", c.Render.DPI), nil)
	}
	if c.Render.ThumbnailWidth < 0 {
		return domain.ConfigError("render thumbnail_width must not be negative", nil)
	}
	if c.Render.Workers < 1 {
		return domain.ConfigError("render workers must be at least 1", nil)
	}
	if c.Cache.Enabled && c.Cache.MaxEntries < 1 {
		return domain.ConfigError("cache max_entries must be at least 1", nil)
	}
	switch c.Observability.LogFormat {
	case "console", "json":
	default:
		return domain.ConfigError(fmt.Sprintf("invalid log format: %s", c.Observability.LogFormat), nil)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	if v := firstEnv("TAKEOFF_API_URL", "VITE_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("TAKEOFF_API_PREFIX"); v != "" {
		cfg.API.Prefix = v
	}
	if err := durationEnv("TAKEOFF_REQUEST_TIMEOUT", &cfg.API.RequestTimeout); err != nil {
		return err
	}
	if err := durationEnv("TAKEOFF_IDLE_TIMEOUT", &cfg.API.IdleTimeout); err != nil {
		return err
	}
	if v := os.Getenv("TAKEOFF_INCLUDE_RAW_DETECTIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return domain.ConfigError("invalid TAKEOFF_INCLUDE_RAW_DETECTIONS", err)
		}
		cfg.API.IncludeRawDetections = b
	}
	if v := os.Getenv("TAKEOFF_RENDER_DPI"); v != "" {
		dpi, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return domain.ConfigError("invalid TAKEOFF_RENDER_DPI", err)
		}
		cfg.Render.DPI = dpi
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func durationEnv(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return domain.ConfigError("invalid "+key, err)
	}
	*dst = d
	return nil
}
