package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/playground/internal/domain/session"
	"github.com/GriffinCanCode/playground/internal/infrastructure/resilience"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Sandbox   SandboxConfig
	Session   SessionConfig
	Catalog   CatalogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	AllowOrigins    []string      `envconfig:"CORS_ORIGINS" default:"*"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// SandboxConfig selects and tunes the sandbox backend.
type SandboxConfig struct {
	Backend        string        `envconfig:"SANDBOX_BACKEND" default:"jsvm"`
	BaseDir        string        `envconfig:"SANDBOX_DIR"`
	Shell          string        `envconfig:"SANDBOX_SHELL"`
	InstallCommand string        `envconfig:"SANDBOX_INSTALL_CMD"`
	PoolSize       int           `envconfig:"SANDBOX_POOL_SIZE" default:"4"`
	ScriptTimeout  time.Duration `envconfig:"SANDBOX_SCRIPT_TIMEOUT" default:"5s"`
}

// SessionConfig holds session lifecycle policy.
type SessionConfig struct {
	BootTimeout      time.Duration `envconfig:"SESSION_BOOT_TIMEOUT" default:"2m"`
	WriteTimeout     time.Duration `envconfig:"SESSION_WRITE_TIMEOUT" default:"10s"`
	RetryMode        string        `envconfig:"SESSION_RETRY_MODE" default:"manual"`
	RetryMax         int           `envconfig:"SESSION_RETRY_MAX" default:"3"`
	RetryBackoff     time.Duration `envconfig:"SESSION_RETRY_BACKOFF" default:"2s"`
	ScrollbackBytes  int           `envconfig:"SESSION_SCROLLBACK_BYTES" default:"65536"`
	BreakerThreshold uint32        `envconfig:"SESSION_BREAKER_THRESHOLD" default:"5"`
	BreakerTimeout   time.Duration `envconfig:"SESSION_BREAKER_TIMEOUT" default:"30s"`
}

// CatalogConfig locates workspace descriptors.
type CatalogConfig struct {
	Dir string `envconfig:"CATALOG_DIR"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Sandbox: SandboxConfig{
			Backend:       "jsvm",
			PoolSize:      4,
			ScriptTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			BootTimeout:      2 * time.Minute,
			WriteTimeout:     10 * time.Second,
			RetryMode:        "manual",
			RetryMax:         3,
			RetryBackoff:     2 * time.Second,
			ScrollbackBytes:  64 * 1024,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
	}
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	switch c.Sandbox.Backend {
	case "jsvm", "local":
	default:
		return fmt.Errorf("unknown sandbox backend %q", c.Sandbox.Backend)
	}
	if _, err := session.ParseRetryMode(c.Session.RetryMode); err != nil {
		return err
	}
	if c.Session.RetryMax < 0 {
		return fmt.Errorf("SESSION_RETRY_MAX must not be negative")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Policy converts the session settings into a session policy.
func (c *Config) Policy() session.Policy {
	mode, _ := session.ParseRetryMode(c.Session.RetryMode)

	threshold := c.Session.BreakerThreshold
	breaker := resilience.Settings{
		Timeout: c.Session.BreakerTimeout,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}

	return session.Policy{
		BootTimeout:     c.Session.BootTimeout,
		WriteTimeout:    c.Session.WriteTimeout,
		Retry:           mode,
		RetryMax:        c.Session.RetryMax,
		RetryBackoff:    c.Session.RetryBackoff,
		ScrollbackBytes: c.Session.ScrollbackBytes,
		Breaker:         breaker,
	}
}
