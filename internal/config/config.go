package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"manin/internal/auth"
	"manin/internal/cache"
	"manin/internal/provider"
	"manin/internal/scanner"
	"manin/internal/scheduler"
	"manin/internal/symbols"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	API       APIConfig        `yaml:"api"`
	Scanner   scanner.Config   `yaml:"scanner"`
	Retry     RetryConfig      `yaml:"retry"`
	Cache     cache.Config     `yaml:"cache"`
	Universe  symbols.Config   `yaml:"universe"`
	Auth      auth.Config      `yaml:"auth"`
	Server    ServerConfig     `yaml:"server"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Log       LogConfig        `yaml:"log"`
}

// APIConfig holds API provider configurations
type APIConfig struct {
	Yahoo        ProviderConfig `yaml:"yahoo"`
	Finnhub      ProviderConfig `yaml:"finnhub"`
	AlphaVantage ProviderConfig `yaml:"alphavantage"`
	Alpaca       AlpacaConfig   `yaml:"alpaca"`
}

// ProviderConfig holds individual provider settings
type ProviderConfig struct {
	Key       string `yaml:"key"`
	RateLimit int    `yaml:"rate_limit"` // requests per minute
}

type AlpacaConfig struct {
	Key       string `yaml:"key"`
	Secret    string `yaml:"secret"`
	Feed      string `yaml:"feed"`
	RateLimit int    `yaml:"rate_limit"`
}

// RetryConfig is the upstream retry policy
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	policy := provider.DefaultRetryPolicy()
	return &Config{
		API: APIConfig{
			Yahoo:        ProviderConfig{RateLimit: 120},
			Finnhub:      ProviderConfig{RateLimit: 60},
			AlphaVantage: ProviderConfig{RateLimit: 5},
			Alpaca:       AlpacaConfig{Feed: "iex", RateLimit: 200},
		},
		Scanner: scanner.DefaultConfig(),
		Retry: RetryConfig{
			MaxAttempts:     policy.MaxAttempts,
			InitialInterval: policy.InitialInterval,
			MaxInterval:     policy.MaxInterval,
			AttemptTimeout:  policy.AttemptTimeout,
		},
		Cache:     cache.Config{Driver: cache.DriverMemory, Path: "manin.db"},
		Universe:  symbols.DefaultConfig(),
		Server:    ServerConfig{Port: 8000},
		Scheduler: scheduler.DefaultConfig(),
		Log:       LogConfig{Level: "info", Pretty: true},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. A .env file next to the process is read first and the
// environment always wins over the file.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secrets and deployment settings from the environment
func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.API.Finnhub.Key, "FINNHUB_API_KEY")
	set(&c.API.AlphaVantage.Key, "ALPHAVANTAGE_API_KEY")
	set(&c.API.Alpaca.Key, "ALPACA_API_KEY")
	set(&c.API.Alpaca.Secret, "ALPACA_API_SECRET")
	set(&c.Auth.JWTSecret, "JWT_SECRET")
	set(&c.Log.Level, "LOG_LEVEL")

	if v := getenv("DATABASE_URL"); v != "" {
		c.Cache.URL = v
		if c.Cache.Driver == "" || c.Cache.Driver == cache.DriverMemory {
			c.Cache.Driver = cache.DriverPostgres
		}
	}
	if v := getenv("ADMIN_EMAILS"); v != "" {
		c.Auth.AdminEmails = strings.Split(v, ",")
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PORT %q is not a number", ErrInvalid, v)
		}
		c.Server.Port = port
	}
	return nil
}

// RetryPolicy converts the retry section into a provider policy
func (c *Config) RetryPolicy() provider.RetryPolicy {
	p := provider.DefaultRetryPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.InitialInterval = c.Retry.InitialInterval
	p.MaxInterval = c.Retry.MaxInterval
	p.AttemptTimeout = c.Retry.AttemptTimeout
	return p
}

// Validate checks if the configuration is valid for serving the API
func (c *Config) Validate() error {
	if err := c.ValidateOffline(); err != nil {
		return err
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is required unless auth is disabled", ErrInvalid)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Server.Port)
	}
	return nil
}

// ValidateOffline checks what the CLI commands need, skipping the server
// and auth sections
func (c *Config) ValidateOffline() error {
	if c.Scanner.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalid)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1", ErrInvalid)
	}
	switch c.Cache.Driver {
	case "", cache.DriverMemory, cache.DriverSQLite:
	case cache.DriverPostgres:
		if c.Cache.URL == "" {
			return fmt.Errorf("%w: postgres cache needs a url or DATABASE_URL", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown cache driver %q", ErrInvalid, c.Cache.Driver)
	}
	if c.Universe.MinPrice < 0 || c.Universe.MaxPrice <= c.Universe.MinPrice {
		return fmt.Errorf("%w: universe price band %.2f-%.2f is empty", ErrInvalid, c.Universe.MinPrice, c.Universe.MaxPrice)
	}
	return nil
}
