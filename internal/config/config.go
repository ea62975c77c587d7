// Package config loads process configuration from the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NATS holds subscriber settings. An empty URL disables the subscriber.
type NATS struct {
	URL          string `yaml:"url"`
	Stream       string `yaml:"stream"`
	Consumer     string `yaml:"consumer"`
	Subject      string `yaml:"subject"`
	RejectPrefix string `yaml:"reject_prefix"`
	MaxDeliver   int    `yaml:"max_deliver"`
}

// Retry bounds per-step retries.
type Retry struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Log selects the zap configuration.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the full process configuration.
type Config struct {
	DatabaseURL      string        `yaml:"database_url"`
	HTTPAddr         string        `yaml:"http_addr"`
	NATS             NATS          `yaml:"nats"`
	ExpiryDuration   time.Duration `yaml:"expiry_duration"`
	StepTimeout      time.Duration `yaml:"step_timeout"`
	Retry            Retry         `yaml:"retry"`
	MaxCodeLength    int           `yaml:"max_code_length"`
	MaxFutureSkew    time.Duration `yaml:"max_future_skew"`
	JWTSecret        string        `yaml:"jwt_secret"`
	IngestHMACSecret string        `yaml:"ingest_hmac_secret"`
	IngestMaxSkew    time.Duration `yaml:"ingest_max_skew"`
	Log              Log           `yaml:"log"`
}

// Load reads the environment, then overlays CONFIG_FILE when set, then validates.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		NATS: NATS{
			URL:          os.Getenv("NATS_URL"),
			Stream:       getenvDefault("NATS_STREAM", "DEVICE_STATUS"),
			Consumer:     getenvDefault("NATS_CONSUMER", "home-manager"),
			Subject:      getenvDefault("NATS_SUBJECT", "home.devices.*.state"),
			RejectPrefix: getenvDefault("NATS_REJECT_PREFIX", "home.devices"),
			MaxDeliver:   getenvIntDefault("NATS_MAX_DELIVER", 5),
		},
		ExpiryDuration: getenvDuration("EXPIRY_DURATION", 5*time.Minute),
		StepTimeout:    getenvDuration("STEP_TIMEOUT", 5*time.Second),
		Retry: Retry{
			MaxAttempts:     getenvIntDefault("RETRY_MAX_ATTEMPTS", 3),
			InitialInterval: getenvDuration("RETRY_INITIAL_INTERVAL", 100*time.Millisecond),
			MaxInterval:     getenvDuration("RETRY_MAX_INTERVAL", 2*time.Second),
		},
		MaxCodeLength:    getenvIntDefault("MAX_CODE_LENGTH", 32),
		MaxFutureSkew:    getenvDuration("MAX_FUTURE_SKEW", 5*time.Minute),
		JWTSecret:        os.Getenv("AUTH_JWT_SECRET"),
		IngestHMACSecret: os.Getenv("INGEST_HMAC_SECRET"),
		IngestMaxSkew:    time.Duration(getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300)) * time.Second,
		Log: Log{
			Level:       getenvDefault("LOG_LEVEL", "info"),
			Development: getenvBool("LOG_DEVELOPMENT", false),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("config: http_addr is required"))
	}
	if c.ExpiryDuration <= 0 {
		errs = append(errs, errors.New("config: expiry_duration must be positive"))
	}
	if c.StepTimeout <= 0 {
		errs = append(errs, errors.New("config: step_timeout must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("config: retry max_attempts must be at least 1"))
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		errs = append(errs, errors.New("config: retry intervals must be positive and max >= initial"))
	}
	if c.MaxCodeLength < 1 {
		errs = append(errs, errors.New("config: max_code_length must be positive"))
	}
	if c.MaxFutureSkew < 0 {
		errs = append(errs, errors.New("config: max_future_skew must not be negative"))
	}
	if c.NATS.URL != "" {
		if c.NATS.Stream == "" {
			errs = append(errs, errors.New("config: nats stream is required"))
		}
		if c.NATS.Consumer == "" {
			errs = append(errs, errors.New("config: nats consumer is required"))
		}
		if c.NATS.Subject == "" {
			errs = append(errs, errors.New("config: nats subject is required"))
		}
		if c.NATS.MaxDeliver < 1 {
			errs = append(errs, errors.New("config: nats max_deliver must be at least 1"))
		}
	}
	return errors.Join(errs...)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
