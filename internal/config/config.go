package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	instance *Config
	once     sync.Once
)

// Config represents the complete proxy server configuration
// Aggregates all component configurations for centralized management
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Queue   QueueConfig   `yaml:"queue" json:"queue"`
	Pool    PoolConfig    `yaml:"pool" json:"pool"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Debug   bool          `yaml:"debug" json:"debug" default:"false"`
}

// ServerConfig defines the proxy's listening socket configuration.
type ServerConfig struct {
	Addr        string `yaml:"addr" json:"addr" default:":8080"`
	MetricsAddr string `yaml:"metricsAddr" json:"metricsAddr" default:":9090"`
}

// CacheConfig controls the object cache's total byte budget and the
// per-item size ceiling.
type CacheConfig struct {
	MaxCacheSize  int `yaml:"maxCacheSize" json:"maxCacheSize" default:"1049000"`
	MaxObjectSize int `yaml:"maxObjectSize" json:"maxObjectSize" default:"102400"`
}

// QueueConfig controls the Bounded Connection Queue's fixed capacity.
type QueueConfig struct {
	Size int `yaml:"size" json:"size" default:"16"`
}

// PoolConfig controls the size of the Worker Pool.
type PoolConfig struct {
	Size int `yaml:"size" json:"size" default:"4"`
}

// TracingConfig defines OpenTelemetry tracing configuration
// Controls distributed tracing and observability
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled" default:"false"`
	ServiceName    string  `yaml:"serviceName" json:"serviceName" default:"cacheproxy"`
	ServiceVersion string  `yaml:"serviceVersion" json:"serviceVersion" default:"1.0.0"`
	Environment    string  `yaml:"environment" json:"environment" default:"development"`
	JaegerEndpoint string  `yaml:"jaegerEndpoint" json:"jaegerEndpoint"`
	OTLPEndpoint   string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRatio  float64 `yaml:"samplingRatio" json:"samplingRatio" default:"0.1"`
}

// LoggingConfig controls the structured logger's verbosity.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" default:"info"`
}

// DefaultConfig returns configuration with the proxy's built-in defaults
// for cache size, object size ceiling, queue depth, and pool size.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		Cache: CacheConfig{
			MaxCacheSize:  1049000,
			MaxObjectSize: 102400,
		},
		Queue: QueueConfig{
			Size: 16,
		},
		Pool: PoolConfig{
			Size: 4,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "cacheproxy",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			SamplingRatio:  0.1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// GetInstance returns the singleton config instance
// Uses sync.Once to ensure thread-safe lazy initialisation
func GetInstance() *Config {
	once.Do(func() {
		instance = DefaultConfig()
	})
	return instance
}

// LoadConfig loads configuration from file and installs it as the
// singleton. If GetInstance has already initialised the singleton, the
// loaded configuration is discarded.
func LoadConfig(path string) error {
	cfg, err := loadFromFile(path)
	if err != nil {
		return err
	}

	once.Do(func() {
		instance = cfg
	})
	return nil
}

// loadFromFile reads configuration from a YAML file, overlaying it onto
// the defaults so a partial file only overrides the sections it names. A
// missing file is not an error: the proxy runs on defaults.
func loadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
