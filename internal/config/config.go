// Package config provides configuration for the caching layer: defaults,
// optional YAML file, environment overrides, and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Redis          Redis          `yaml:"redis" validate:"required"`
	Cache          Cache          `yaml:"cache"`
	CircuitBreaker CircuitBreaker `yaml:"circuitBreaker"`
	RateLimit      RateLimit      `yaml:"rateLimit"`
	Logging        Logging        `yaml:"logging"`
}

// Redis holds store connection settings.
type Redis struct {
	Addr         string        `yaml:"addr" validate:"required,hostname_port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dialTimeout" validate:"gt=0"`
	ReadTimeout  time.Duration `yaml:"readTimeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"writeTimeout" validate:"gt=0"`
	PoolSize     int           `yaml:"poolSize" validate:"gt=0"`
}

// Cache holds cache service settings.
type Cache struct {
	Enabled              bool          `yaml:"enabled"`
	DefaultTTL           time.Duration `yaml:"ttlDefault"`
	CompressionThreshold int           `yaml:"compressionThresholdBytes" validate:"gte=0"`
	StampedeLockTTL      time.Duration `yaml:"stampedeLockTtl" validate:"gt=0"`
	StampedeWaitMax      time.Duration `yaml:"stampedeWaitMax" validate:"gt=0"`
	StampedePollInterval time.Duration `yaml:"stampedePollInterval" validate:"gt=0"`
}

// CircuitBreaker holds resilience envelope settings.
type CircuitBreaker struct {
	FailureThreshold   uint32        `yaml:"failureThreshold" validate:"gt=0"`
	Cooldown           time.Duration `yaml:"cooldownMs" validate:"gt=0"`
	OpTimeout          time.Duration `yaml:"opTimeout" validate:"gt=0"`
	FallbackMaxEntries int           `yaml:"fallbackCacheMaxEntries" validate:"gt=0"`
}

// RateLimit holds rate limiting settings.
type RateLimit struct {
	Enabled bool `yaml:"enabled"`
}

// Logging holds logger settings.
type Logging struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Redis: Redis{
			Addr:         "localhost:6379",
			DB:           0,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			PoolSize:     10,
		},
		Cache: Cache{
			Enabled:              true,
			DefaultTTL:           0,
			CompressionThreshold: 1024,
			StampedeLockTTL:      10 * time.Second,
			StampedeWaitMax:      2 * time.Second,
			StampedePollInterval: 50 * time.Millisecond,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold:   5,
			Cooldown:           30 * time.Second,
			OpTimeout:          250 * time.Millisecond,
			FallbackMaxEntries: 10_000,
		},
		RateLimit: RateLimit{Enabled: true},
		Logging:   Logging{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if set), then environment variable overrides, then
// validation.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile reads and validates configuration from an explicit path, used by
// the watcher on reload.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = v == "true"
	}
	if v := os.Getenv("CACHE_TTL_DEFAULT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DefaultTTL = d
		}
	}
	if v := os.Getenv("RATE_LIMITING_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = v == "true"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and returns a descriptive error on the
// first violation.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
