package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Config is loaded from defaults, then an optional YAML file, then the
// environment.
type Config struct {
	Env               string        `yaml:"env" validate:"oneof=dev prod"`
	Port              string        `yaml:"port" validate:"required,numeric"`
	AntiforgerySecret string        `yaml:"antiforgery_secret" validate:"required_if=Env prod,omitempty,min=32"`
	SecureCookies     bool          `yaml:"secure_cookies"`
	RedisAddr         string        `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db" validate:"gte=0"`
	PageCacheTTL      time.Duration `yaml:"page_cache_ttl" validate:"gte=0"`
	TracingEnabled    bool          `yaml:"tracing_enabled"`
	ServiceName       string        `yaml:"service_name" validate:"required"`
	MetricsEnabled    bool          `yaml:"metrics_enabled"`
	LogLevel          string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

func Default() *Config {
	return &Config{
		Env:             EnvDev,
		Port:            "8080",
		PageCacheTTL:    5 * time.Minute,
		TracingEnabled:  true,
		ServiceName:     "bank-application",
		MetricsEnabled:  true,
		LogLevel:        "info",
		ShutdownTimeout: 15 * time.Second,
	}
}

// Load reads path if it exists, applies environment overrides and validates
// the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	c.Env = getEnv("APP_ENV", c.Env)
	c.Port = getEnv("PORT", c.Port)
	c.AntiforgerySecret = getEnv("ANTIFORGERY_SECRET", c.AntiforgerySecret)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.SecureCookies = getEnvBool("SECURE_COOKIES", c.SecureCookies, &errs)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled, &errs)
	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled, &errs)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB, &errs)
	c.PageCacheTTL = getEnvDuration("PAGE_CACHE_TTL", c.PageCacheTTL, &errs)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout, &errs)

	return errors.Join(errs...)
}

func (c *Config) IsDev() bool { return c.Env == EnvDev }

func (c *Config) Addr() string { return ":" + c.Port }

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.AntiforgerySecret != "" {
		c.AntiforgerySecret = "[redacted]"
	}
	if c.RedisPassword != "" {
		c.RedisPassword = "[redacted]"
	}
	return c
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
