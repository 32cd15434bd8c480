package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/playground/internal/domain/session"
	"github.com/GriffinCanCode/playground/internal/infrastructure/resilience"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	// Sandbox and session
	assert.Equal(t, "jsvm", cfg.Sandbox.Backend)
	assert.Equal(t, "manual", cfg.Session.RetryMode)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                  "9000",
		"HOST":                  "127.0.0.1",
		"LOG_LEVEL":             "debug",
		"LOG_DEV":               "true",
		"RATE_LIMIT_RPS":        "500",
		"RATE_LIMIT_BURST":      "1000",
		"RATE_LIMIT_ENABLED":    "false",
		"SANDBOX_BACKEND":       "local",
		"SANDBOX_INSTALL_CMD":   "npm install",
		"SESSION_RETRY_MODE":    "auto",
		"SESSION_RETRY_MAX":     "7",
		"SESSION_RETRY_BACKOFF": "250ms",
		"CATALOG_DIR":           "/srv/tutorials",
		"CORS_ORIGINS":          "https://a.example,https://b.example",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowOrigins)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)

	assert.Equal(t, "local", cfg.Sandbox.Backend)
	assert.Equal(t, "npm install", cfg.Sandbox.InstallCommand)
	assert.Equal(t, "/srv/tutorials", cfg.Catalog.Dir)

	policy := cfg.Policy()
	assert.Equal(t, session.RetryAuto, policy.Retry)
	assert.Equal(t, 7, policy.RetryMax)
	assert.Equal(t, 250*time.Millisecond, policy.RetryBackoff)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)

	// Defaults still apply
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 2*time.Minute, cfg.Session.BootTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown backend", key: "SANDBOX_BACKEND", value: "docker"},
		{name: "unknown retry mode", key: "SESSION_RETRY_MODE", value: "sometimes"},
		{name: "negative retry max", key: "SESSION_RETRY_MAX", value: "-1"},
		{name: "malformed duration", key: "SESSION_BOOT_TIMEOUT", value: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)

			// LoadOrDefault falls back
			assert.Equal(t, "jsvm", LoadOrDefault().Sandbox.Backend)
		})
	}
}

func TestPolicyBreaker(t *testing.T) {
	cfg := Default()
	cfg.Session.BreakerThreshold = 2

	policy := cfg.Policy()
	assert.Equal(t, session.RetryManual, policy.Retry)
	assert.Equal(t, 30*time.Second, policy.Breaker.Timeout)
	require.NotNil(t, policy.Breaker.ReadyToTrip)
	assert.False(t, policy.Breaker.ReadyToTrip(resilience.Counts{ConsecutiveFailures: 1}))
	assert.True(t, policy.Breaker.ReadyToTrip(resilience.Counts{ConsecutiveFailures: 2}))
}
