package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "")
	setEnv(t, "SIGNUP_GRANT", "")
	setEnv(t, "ESCROW_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultSignupGrant, cfg.SignupGrant)
	assert.Equal(t, time.Duration(0), cfg.EscrowTTL)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "SIGNUP_GRANT", "250.50")
	setEnv(t, "ESCROW_TTL", "48h")
	setEnv(t, "SWEEP_INTERVAL", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "250.50", cfg.SignupGrant)
	assert.Equal(t, 48*time.Hour, cfg.EscrowTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)

	want, err := decimal.NewFromString("250.50")
	require.NoError(t, err)
	assert.True(t, cfg.SignupGrantAmount().Equal(want))
}

func TestLoad_InvalidSignupGrant(t *testing.T) {
	setEnv(t, "SIGNUP_GRANT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "SIGNUP_GRANT")
}

func TestLoad_NegativeSignupGrant(t *testing.T) {
	setEnv(t, "SIGNUP_GRANT", "-5")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "negative")
}

func TestLoad_InvalidSweepIntervalFallsBack(t *testing.T) {
	// Unparseable durations fall back to the default rather than failing.
	setEnv(t, "SWEEP_INTERVAL", "garbage")
	setEnv(t, "SIGNUP_GRANT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestConfig_EnvHelpers(t *testing.T) {
	setEnv(t, "ENV", "production")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}
