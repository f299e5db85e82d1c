// Package config provides configuration management for incident-cluster.
//
// Configuration is read once at startup and handed to consumers by value;
// nothing in this package holds mutable global state.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/thebtf/incident-cluster/pkg/models"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the default HTTP port for the worker service.
	DefaultPort = 8080

	// DefaultVersion is reported when DBSCAN_V is not set.
	DefaultVersion = "v1"

	// DefaultMaxItems bounds the number of items clustered per request.
	DefaultMaxItems = 5000

	// DefaultMaxBodyBytes bounds the request body size (32 MiB).
	DefaultMaxBodyBytes = 32 << 20

	// DefaultSelectMaxItems is the number of incidents /select returns when unspecified.
	DefaultSelectMaxItems = 5
)

// ErrInvalidConfig is returned when a configuration value cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// RedisConfig holds the stream ingestion settings.
type RedisConfig struct {
	URL           string `yaml:"url"`
	EventsStream  string `yaml:"events_stream"`
	ResultsStream string `yaml:"results_stream"`
	Group         string `yaml:"group"`
	Consumer      string `yaml:"consumer"`
}

// Enabled reports whether a Redis URL is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// Config holds the application configuration.
type Config struct {
	// Worker settings
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Shared secret required on protected routes. Empty means not configured.
	APIKey string `yaml:"api_key"`

	// Version tags reported in responses
	Version       string `yaml:"version"`
	SelectVersion string `yaml:"select_version"`

	// Clustering defaults, overridable per request
	Cluster models.ClusterParams `yaml:"cluster"`

	// Request bounds
	MaxItems     int   `yaml:"max_items"`      // Items per /cluster request; larger batches are rejected before clustering
	MaxBodyBytes int64 `yaml:"max_body_bytes"` // Request body limit

	// Per-client rate limiting
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// Selection settings
	SelectMaxItems int `yaml:"select_max_items"`

	Redis RedisConfig `yaml:"redis"`
}

// LookupFunc resolves a configuration key, reporting whether it was set.
type LookupFunc func(key string) (string, bool)

// Default returns a Config with default values.
func Default() Config {
	return Config{
		Port:           DefaultPort,
		LogLevel:       "info",
		Version:        DefaultVersion,
		SelectVersion:  DefaultVersion,
		Cluster:        models.DefaultClusterParams(),
		MaxItems:       DefaultMaxItems,
		MaxBodyBytes:   DefaultMaxBodyBytes,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		SelectMaxItems: DefaultSelectMaxItems,
		Redis: RedisConfig{
			EventsStream:  "events",
			ResultsStream: "clusters",
			Group:         "main",
			Consumer:      "worker-" + uuid.NewString()[:8],
		},
	}
}

// LoadFromEnv loads configuration from the process environment.
func LoadFromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load builds the configuration: defaults, then the YAML file named by
// CLUSTER_CONFIG (if any), then individual keys.
func Load(lookup LookupFunc) (Config, error) {
	cfg := Default()

	if path, ok := lookup("CLUSTER_CONFIG"); ok && path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err))
				return
			}
			*dst = b
		}
	}

	num("PORT", &cfg.Port)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("API_KEY", &cfg.APIKey)
	str("DBSCAN_V", &cfg.Version)
	str("OR_V", &cfg.SelectVersion)

	float("CLUSTER_EPS", &cfg.Cluster.Eps)
	num("CLUSTER_MIN_SAMPLES", &cfg.Cluster.MinSamples)
	boolean("CLUSTER_REQUIRE_MULTI_SOURCE", &cfg.Cluster.DiversityEnabled)
	num("CLUSTER_MIN_DISTINCT_SOURCES", &cfg.Cluster.MinDistinctSources)
	float("CLUSTER_MAX_SOURCE_DOMINANCE", &cfg.Cluster.MaxSourceDominance)
	num("CLUSTER_MAX_ITEMS", &cfg.MaxItems)

	var maxBody int
	num("MAX_BODY_BYTES", &maxBody)
	if maxBody != 0 {
		cfg.MaxBodyBytes = int64(maxBody)
	}
	float("RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	num("RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	num("SELECT_MAX_ITEMS", &cfg.SelectMaxItems)

	str("REDIS_URL", &cfg.Redis.URL)
	str("EVENTS_STREAM", &cfg.Redis.EventsStream)
	str("RESULTS_STREAM", &cfg.Redis.ResultsStream)
	str("CONSUMER_GROUP", &cfg.Redis.Group)
	str("CONSUMER_NAME", &cfg.Redis.Consumer)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// Validate checks that every setting is usable.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.MaxItems < 1 {
		return fmt.Errorf("%w: max_items must be >= 1", ErrInvalidConfig)
	}
	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("%w: max_body_bytes must be >= 1", ErrInvalidConfig)
	}
	if !(c.RateLimitRPS > 0) || c.RateLimitBurst < 1 {
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalidConfig)
	}
	if c.SelectMaxItems < 1 {
		return fmt.Errorf("%w: select_max_items must be >= 1", ErrInvalidConfig)
	}
	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("%w: cluster defaults: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
