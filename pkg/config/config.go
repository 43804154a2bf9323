package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration recognized at start.
type Config struct {
	Node              NodeConfig          `yaml:"node"`
	Log               LogConfig           `yaml:"log"`
	API               APIConfig           `yaml:"api"`
	PortRange         PortRangeConfig     `yaml:"portRange"`
	EventBus          EventBusConfig      `yaml:"eventBus"`
	Redis             RedisConfig         `yaml:"redis"`
	DataDir           string              `yaml:"dataDir" validate:"required"`
	DeintegrationPath string              `yaml:"deintegrationPath" validate:"required"`
	AutoDiscovery     AutoDiscoveryConfig `yaml:"autoDiscovery"`
	HealthCheck       HealthCheckConfig   `yaml:"healthCheck"`
	Webhook           WebhookConfig       `yaml:"webhook"`

	// DevelopmentMode relaxes the initial health probe requirement at
	// registration time.
	DevelopmentMode bool `yaml:"developmentMode"`
}

// NodeConfig identifies this hub process.
type NodeConfig struct {
	ID string `yaml:"id"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// APIConfig configures the HTTP request surface.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr" validate:"required"`
}

// PortRangeConfig bounds the port allocator.
type PortRangeConfig struct {
	Min int `yaml:"min" validate:"gt=0,ltefield=Max"`
	Max int `yaml:"max" validate:"lte=65535"`
}

// EventBusConfig tunes the in-process event bus.
type EventBusConfig struct {
	MaxHistorySize int           `yaml:"maxHistorySize" validate:"gt=0"`
	DefaultTTL     time.Duration `yaml:"defaultTtl"`
}

// RedisConfig enables the distributed event transport.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// AutoDiscoveryConfig tunes the discovery scanner.
type AutoDiscoveryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	ScanInterval time.Duration `yaml:"scanInterval"`
}

// HealthCheckConfig sets prober defaults.
type HealthCheckConfig struct {
	DefaultInterval time.Duration `yaml:"defaultInterval"`
	DefaultTimeout  time.Duration `yaml:"defaultTimeout"`
}

// WebhookConfig bounds the delivery worker pool.
type WebhookConfig struct {
	MaxConcurrentDeliveries int           `yaml:"maxConcurrentDeliveries" validate:"gt=0"`
	DeliveryTimeout         time.Duration `yaml:"deliveryTimeout"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{ID: ""},
		Log:  LogConfig{Level: "info"},
		API:  APIConfig{ListenAddr: "127.0.0.1:7300"},
		PortRange: PortRangeConfig{
			Min: 3000,
			Max: 9999,
		},
		EventBus: EventBusConfig{
			MaxHistorySize: 1000,
		},
		Redis: RedisConfig{
			Channel: "junction.events",
		},
		DataDir:           "/var/lib/junction",
		DeintegrationPath: "/var/lib/junction/deintegrations",
		AutoDiscovery: AutoDiscoveryConfig{
			ScanInterval: 5 * time.Minute,
		},
		HealthCheck: HealthCheckConfig{
			DefaultInterval: 30 * time.Second,
			DefaultTimeout:  5 * time.Second,
		},
		Webhook: WebhookConfig{
			MaxConcurrentDeliveries: 16,
			DeliveryTimeout:         10 * time.Second,
		},
	}
}

// Load reads path, overlays it onto the defaults, and validates the
// result. A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks structural constraints on the config.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("invalid configuration: redis.addr is required when redis.enabled")
	}
	return nil
}
